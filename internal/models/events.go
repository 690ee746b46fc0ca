// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package models

import "time"

// EventKind tags a progress event. The tagged structure replaces
// loosely-typed progress callbacks: observers switch on the kind instead
// of inspecting payload shapes.
type EventKind string

const (
	EventSyncStart    EventKind = "sync_start"
	EventSyncEnd      EventKind = "sync_end"
	EventUnitStart    EventKind = "unit_start"
	EventUnitComplete EventKind = "unit_complete"
	EventUnitFailed   EventKind = "unit_failed"
	EventUnitSkipped  EventKind = "unit_skipped"
	EventWarning      EventKind = "warning"
	EventError        EventKind = "error"
)

// Event is one discrete progress notification emitted by the engine.
// Unit-scoped events carry Metric and Date; sync-scoped events carry
// TotalUnits (sync_start) or Success (sync_end).
type Event struct {
	Kind       EventKind `json:"kind"`
	SyncID     string    `json:"sync_id"`
	UserID     string    `json:"user_id"`
	Metric     string    `json:"metric,omitempty"`
	Date       string    `json:"date,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	TotalUnits int       `json:"total_units,omitempty"`
	Success    bool      `json:"success,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
