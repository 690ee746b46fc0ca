// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

// Package metrics provides Prometheus instrumentation for the sync
// engine. Collectors are registered with the default registry via
// promauto and exposed at /metrics by the control API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync engine metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalsync_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900, 1800},
		},
	)

	SyncUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_sync_units_total",
			Help: "Total (metric, date) units processed, by result",
		},
		[]string{"result"}, // "completed", "failed", "skipped"
	)

	SyncsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalsync_syncs_active",
			Help: "Number of sync tasks currently running",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalsync_sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successfully completed sync",
		},
	)

	CheckpointFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsync_checkpoint_flushes_total",
			Help: "Total checkpoint flushes to durable storage",
		},
	)

	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsync_fetch_retries_total",
			Help: "Total retry attempts across all remote fetches",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vitalsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "outcome"}, // "success", "failure", "rejected"
	)

	// HTTP API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_api_requests_total",
			Help: "Total HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalsync_api_request_duration_seconds",
			Help:    "HTTP API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
