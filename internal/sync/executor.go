// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package sync

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/metrics"
	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/remote"
)

// FetchOutcome tags the terminal result of fetching one unit.
type FetchOutcome int

const (
	// OutcomeFound means data was fetched and should be stored.
	OutcomeFound FetchOutcome = iota

	// OutcomeAbsent means the remote has nothing usable for this unit:
	// either it reported no data, or the response shape was unusable.
	// Absence is a successful terminal outcome, not an error.
	OutcomeAbsent

	// OutcomeFailed means retries were exhausted on transient errors.
	// The unit counts as failed but never blocks its date.
	OutcomeFailed
)

// FetchResult is the executor's tagged result for one unit.
type FetchResult struct {
	Outcome FetchOutcome
	Data    json.RawMessage

	// Attempts is the cumulative failed-attempt count for the unit,
	// including failures recorded by earlier runs via the checkpoint.
	Attempts int

	// Err carries the last error: the shape error for an Absent outcome
	// that was classified (nil for plain no-data), or the final
	// transient error for a Failed outcome.
	Err error
}

// FetchExecutor invokes the remote accessor for one (metric, date) unit
// with bounded retry and backoff, classifying failures as retryable or
// terminal.
type FetchExecutor struct {
	registry *remote.Registry
	attempts int
	delay    time.Duration
	backoff  models.BackoffMode
}

// NewFetchExecutor builds an executor from the run configuration.
func NewFetchExecutor(registry *remote.Registry, cfg *models.SyncConfig) *FetchExecutor {
	return &FetchExecutor{
		registry: registry,
		attempts: cfg.RetryAttempts,
		delay:    cfg.RetryDelay,
		backoff:  cfg.Backoff,
	}
}

// Fetch resolves one unit. priorAttempts is the failed-attempt count
// carried over from the checkpoint; a unit whose budget was already
// exhausted in a previous run fails immediately without touching the
// remote.
func (e *FetchExecutor) Fetch(ctx context.Context, metric string, day time.Time, priorAttempts int) FetchResult {
	accessor, err := e.registry.Get(metric)
	if err != nil {
		// Registry coverage is validated at sync start; hitting this
		// mid-run means the registry changed under us.
		return FetchResult{Outcome: OutcomeFailed, Attempts: e.attempts, Err: err}
	}

	if priorAttempts >= e.attempts {
		logging.Warn().
			Str("metric", metric).
			Str("date", models.DateKey(day)).
			Int("attempts", priorAttempts).
			Msg("Retry budget already exhausted, skipping fetch")
		return FetchResult{Outcome: OutcomeFailed, Attempts: priorAttempts}
	}

	var lastErr error
	for attempt := priorAttempts; attempt < e.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return FetchResult{Outcome: OutcomeFailed, Attempts: attempt, Err: err}
		}

		data, err := accessor.Fetch(ctx, day)
		if err == nil {
			if data == nil {
				// The remote has no data for this day.
				return FetchResult{Outcome: OutcomeAbsent, Attempts: attempt}
			}
			return FetchResult{Outcome: OutcomeFound, Data: data, Attempts: attempt}
		}

		if remote.IsShape(err) {
			// Malformed or unvalidatable response. Not retryable, and
			// not a failure: the unit resolves as having no data.
			return FetchResult{Outcome: OutcomeAbsent, Attempts: attempt, Err: err}
		}

		lastErr = err
		logging.Warn().
			Err(err).
			Str("metric", metric).
			Str("date", models.DateKey(day)).
			Int("attempt", attempt+1).
			Int("max_attempts", e.attempts).
			Msg("Fetch attempt failed")

		if attempt < e.attempts-1 {
			metrics.FetchRetries.Inc()
			if err := e.wait(ctx, e.backoffDelay(attempt-priorAttempts)); err != nil {
				return FetchResult{Outcome: OutcomeFailed, Attempts: attempt + 1, Err: err}
			}
		}
	}

	return FetchResult{Outcome: OutcomeFailed, Attempts: e.attempts, Err: lastErr}
}

// backoffDelay returns the wait before the next attempt. attempt is
// zero-based within this run.
func (e *FetchExecutor) backoffDelay(attempt int) time.Duration {
	if e.backoff != models.BackoffExponential {
		return e.delay
	}
	d := e.delay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// wait sleeps cancellably.
func (e *FetchExecutor) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
