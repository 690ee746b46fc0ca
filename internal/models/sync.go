// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package models

import (
	"errors"
	"fmt"
	"time"
)

// SyncStatus is the lifecycle state of a sync operation.
//
// Transitions: PENDING -> RUNNING -> {PAUSED, COMPLETED, FAILED};
// PAUSED -> RUNNING via resume. INTERRUPTED is terminal and reserved for
// syncs discovered abandoned (process died with a surviving checkpoint);
// it is detected lazily when a later run starts with resume enabled.
type SyncStatus string

const (
	StatusPending     SyncStatus = "pending"
	StatusRunning     SyncStatus = "running"
	StatusPaused      SyncStatus = "paused"
	StatusCompleted   SyncStatus = "completed"
	StatusFailed      SyncStatus = "failed"
	StatusInterrupted SyncStatus = "interrupted"
)

// Terminal reports whether no further transitions are possible.
// A new sync over the same range gets a new identifier; only an
// interrupted sync's identifier may be reused on resume.
func (s SyncStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusInterrupted:
		return true
	}
	return false
}

// Resumable reports whether a durable status record makes its sync
// eligible for identifier reuse when a new run starts with resume enabled.
func (s SyncStatus) Resumable() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusInterrupted:
		return true
	}
	return false
}

// BackoffMode selects the delay progression between retry attempts.
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffExponential BackoffMode = "exponential"
)

// ErrInvalidConfig marks configuration errors raised at sync start.
// These are fatal: the sync never transitions past PENDING.
var ErrInvalidConfig = errors.New("invalid sync config")

// Default sync tuning values, applied by Normalize.
const (
	DefaultBatchSize     = 10
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 30 * time.Second
)

// SyncConfig is the immutable input describing one sync run.
type SyncConfig struct {
	UserID    string    `json:"user_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	// Metrics is the ordered list of metric identifiers to mirror.
	// Within one date, metrics are processed in this order.
	Metrics []string `json:"metrics"`

	// BatchSize is the number of completed dates between checkpoint
	// flushes.
	BatchSize int `json:"batch_size"`

	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
	Backoff       BackoffMode   `json:"backoff"`

	// OldestFirst opts into chronological processing. The zero value
	// keeps the default reverse-chronological (newest first) order.
	OldestFirst bool `json:"oldest_first"`
}

// Normalize fills zero-valued tuning fields with defaults and truncates
// the date range to whole days.
func (c *SyncConfig) Normalize() {
	c.StartDate = Day(c.StartDate)
	c.EndDate = Day(c.EndDate)
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Backoff == "" {
		c.Backoff = BackoffFixed
	}
}

// Validate checks the invariants the engine relies on. All violations
// wrap ErrInvalidConfig.
func (c *SyncConfig) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidConfig)
	}
	if c.StartDate.After(c.EndDate) {
		return fmt.Errorf("%w: start date %s is after end date %s",
			ErrInvalidConfig, DateKey(c.StartDate), DateKey(c.EndDate))
	}
	if len(c.Metrics) == 0 {
		return fmt.Errorf("%w: metric list is empty", ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts must be >= 0", ErrInvalidConfig)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be >= 1", ErrInvalidConfig)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay must be >= 0", ErrInvalidConfig)
	}
	if c.Backoff != BackoffFixed && c.Backoff != BackoffExponential {
		return fmt.Errorf("%w: unknown backoff mode %q", ErrInvalidConfig, c.Backoff)
	}
	return nil
}

// TotalDays returns the inclusive day count of the configured range.
func (c *SyncConfig) TotalDays() int {
	return DaysBetween(c.StartDate, c.EndDate)
}

// TotalUnits returns the total unit count: one unit per (metric, date).
func (c *SyncConfig) TotalUnits() int {
	return c.TotalDays() * len(c.Metrics)
}

// SyncProgress tracks one running (or historical) sync. The controller
// owns the live instance; durable snapshots are kept in status storage
// for later inspection.
type SyncProgress struct {
	SyncID         string     `json:"sync_id"`
	UserID         string     `json:"user_id"`
	Status         SyncStatus `json:"status"`
	TotalUnits     int        `json:"total_units"`
	CompletedUnits int        `json:"completed_units"`
	FailedUnits    int        `json:"failed_units"`
	SkippedUnits   int        `json:"skipped_units"`
	TotalDays      int        `json:"total_days"`
	CompletedDays  int        `json:"completed_days"`
	CurrentMetric  string     `json:"current_metric,omitempty"`
	CurrentDate    string     `json:"current_date,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`

	// EstimatedCompletion is derived from the completion rate so far.
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// Percentage returns overall progress in [0, 100].
func (p *SyncProgress) Percentage() float64 {
	if p.TotalUnits == 0 {
		return 0
	}
	done := p.CompletedUnits + p.FailedUnits + p.SkippedUnits
	return float64(done) / float64(p.TotalUnits) * 100
}

// Elapsed returns the time spent so far, or the final duration once the
// sync has completed.
func (p *SyncProgress) Elapsed(now time.Time) time.Duration {
	if p.StartedAt.IsZero() {
		return 0
	}
	end := now
	if p.CompletedAt != nil {
		end = *p.CompletedAt
	}
	return end.Sub(p.StartedAt)
}

// Clone returns a copy safe to hand to callers while the controller keeps
// mutating the original.
func (p *SyncProgress) Clone() *SyncProgress {
	cp := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	if p.EstimatedCompletion != nil {
		t := *p.EstimatedCompletion
		cp.EstimatedCompletion = &t
	}
	return &cp
}

// SyncCheckpoint is the durable crash-recovery record for one sync.
// A date appears in CompletedDates only once every configured metric for
// that date has succeeded, exhausted its retries, or been confirmed
// already present.
type SyncCheckpoint struct {
	SyncID         string          `json:"sync_id"`
	UserID         string          `json:"user_id"`
	CompletedDates map[string]bool `json:"completed_dates"`
	FailedAttempts map[string]int  `json:"failed_attempts"`
	LastCheckpoint time.Time       `json:"last_checkpoint"`
}

// NewSyncCheckpoint returns an empty checkpoint for (user, sync).
func NewSyncCheckpoint(userID, syncID string) *SyncCheckpoint {
	return &SyncCheckpoint{
		SyncID:         syncID,
		UserID:         userID,
		CompletedDates: make(map[string]bool),
		FailedAttempts: make(map[string]int),
	}
}

// DateComplete reports whether a date has been fully resolved.
func (c *SyncCheckpoint) DateComplete(day time.Time) bool {
	return c.CompletedDates[DateKey(day)]
}

// MarkDateComplete records a fully-resolved date.
func (c *SyncCheckpoint) MarkDateComplete(day time.Time) {
	c.CompletedDates[DateKey(day)] = true
}

// Attempts returns the recorded failed-attempt count for a unit.
func (c *SyncCheckpoint) Attempts(metric string, day time.Time) int {
	return c.FailedAttempts[UnitKey(metric, day)]
}

// RecordAttempts stores the failed-attempt count for a unit.
func (c *SyncCheckpoint) RecordAttempts(metric string, day time.Time, attempts int) {
	c.FailedAttempts[UnitKey(metric, day)] = attempts
}

// ClearAttempts drops a unit's failure record after it resolves.
func (c *SyncCheckpoint) ClearAttempts(metric string, day time.Time) {
	delete(c.FailedAttempts, UnitKey(metric, day))
}

// User is a registered account whose data is mirrored locally.
type User struct {
	UserID      string     `json:"user_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
}
