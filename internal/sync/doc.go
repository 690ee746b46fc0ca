// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

// Package sync implements the synchronization engine: it plans which
// (date, metric) units of work remain, fetches them from the remote
// accessor registry with bounded retries, persists results, checkpoints
// progress for crash recovery, and exposes pause/resume/stop/status
// controls with live progress reporting.
//
// One goroutine runs per sync identifier. Within a sync, dates are
// processed strictly in the configured order (reverse-chronological by
// default) and metrics in configured order within each date. Pause and
// stop are cooperative: the flag is checked at unit boundaries, so an
// in-flight fetch always completes and no unit is left ambiguous.
package sync
