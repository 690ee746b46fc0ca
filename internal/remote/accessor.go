// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

// Package remote defines the boundary to the remote per-metric, per-date
// data source: the Accessor interface, the per-metric accessor registry
// the engine is constructed with, and the error taxonomy the fetch
// executor classifies against.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Accessor fetches one day of data for a single metric.
//
// A (nil, nil) return means the remote has no data for that day; absence
// is a valid terminal outcome, not an error. Errors are classified by the
// executor: ShapeError values are terminal for the unit, everything else
// is treated as transient and retried.
type Accessor interface {
	Fetch(ctx context.Context, day time.Time) (json.RawMessage, error)
}

// AccessorFunc adapts a function to the Accessor interface.
type AccessorFunc func(ctx context.Context, day time.Time) (json.RawMessage, error)

// Fetch implements Accessor.
func (f AccessorFunc) Fetch(ctx context.Context, day time.Time) (json.RawMessage, error) {
	return f(ctx, day)
}

// ErrUnknownMetric is returned by Registry.Get for unregistered metrics.
// The controller surfaces it as a configuration error at sync start.
var ErrUnknownMetric = errors.New("unknown metric")

// Registry is an injected table of per-metric accessors. The engine
// depends on it instead of a process-global accessor table so tests can
// supply deterministic fakes.
type Registry struct {
	mu        sync.RWMutex
	accessors map[string]Accessor
}

// NewRegistry returns an empty accessor registry.
func NewRegistry() *Registry {
	return &Registry{accessors: make(map[string]Accessor)}
}

// Register binds an accessor to a metric identifier, replacing any
// previous binding.
func (r *Registry) Register(metric string, a Accessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessors[metric] = a
}

// Get returns the accessor for a metric.
func (r *Registry) Get(metric string) (Accessor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accessors[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}
	return a, nil
}

// Has reports whether a metric is registered.
func (r *Registry) Has(metric string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accessors[metric]
	return ok
}

// Metrics returns the registered metric identifiers, sorted.
func (r *Registry) Metrics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.accessors))
	for m := range r.accessors {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
