// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package remote

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/metrics"
)

// BreakerAccessor wraps an Accessor with a circuit breaker so a remote
// that is down or degraded stops receiving traffic until it recovers.
// Breaker rejections come back as plain errors, which the executor
// classifies as transient — the unit is retried or recorded as failed,
// never mistaken for absence.
//
// The breaker uses real time for its interval and timeout calculations;
// unit tests should exercise the wrapped accessor directly.
type BreakerAccessor struct {
	inner Accessor
	cb    *gobreaker.CircuitBreaker[json.RawMessage]
	name  string
}

// WithBreaker wraps an accessor in a named circuit breaker. The breaker
// opens after a 60% failure rate over at least 10 requests, allows 3
// trial requests in half-open state, and waits 2 minutes before probing
// an open circuit.
func WithBreaker(name string, inner Accessor) *BreakerAccessor {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				logging.Warn().
					Str("breaker", name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("Opening circuit")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &BreakerAccessor{inner: inner, cb: cb, name: name}
}

// Fetch implements Accessor.
func (b *BreakerAccessor) Fetch(ctx context.Context, day time.Time) (json.RawMessage, error) {
	data, err := b.cb.Execute(func() (json.RawMessage, error) {
		return b.inner.Fetch(ctx, day)
	})
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		return data, nil
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return nil, err
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}
}

// stateToFloat converts breaker state to the numeric metric value.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
