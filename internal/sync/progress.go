// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package sync

import (
	"sync"
	"time"

	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
)

// Reporter observes discrete progress events. Reporters must not block;
// a reporter that panics is logged and ignored — it never aborts the
// sync.
type Reporter interface {
	HandleEvent(ev models.Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ev models.Event)

// HandleEvent implements Reporter.
func (f ReporterFunc) HandleEvent(ev models.Event) { f(ev) }

// notify delivers an event to a reporter, recovering panics so a broken
// observer cannot take down the engine.
func notify(r Reporter, ev models.Event) {
	if r == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error().
				Interface("panic", rec).
				Str("kind", string(ev.Kind)).
				Str("sync_id", ev.SyncID).
				Msg("Progress reporter panicked")
		}
	}()
	r.HandleEvent(ev)
}

// MultiReporter fans events out to multiple reporters. The engine never
// knows how many observers are attached or what kind they are.
type MultiReporter struct {
	mu        sync.RWMutex
	reporters []Reporter
}

// NewMultiReporter composes zero or more reporters.
func NewMultiReporter(reporters ...Reporter) *MultiReporter {
	return &MultiReporter{reporters: reporters}
}

// Add attaches another reporter.
func (m *MultiReporter) Add(r Reporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporters = append(m.reporters, r)
}

// HandleEvent implements Reporter.
func (m *MultiReporter) HandleEvent(ev models.Event) {
	m.mu.RLock()
	reporters := m.reporters
	m.mu.RUnlock()
	for _, r := range reporters {
		notify(r, ev)
	}
}

// LogReporter writes progress events to the structured log.
type LogReporter struct{}

// HandleEvent implements Reporter.
func (LogReporter) HandleEvent(ev models.Event) {
	e := logging.Info()
	switch ev.Kind {
	case models.EventWarning, models.EventUnitFailed:
		e = logging.Warn()
	case models.EventError:
		e = logging.Error()
	case models.EventUnitStart, models.EventUnitComplete, models.EventUnitSkipped:
		e = logging.Debug()
	}
	e = e.Str("kind", string(ev.Kind)).Str("sync_id", ev.SyncID).Str("user", ev.UserID)
	if ev.Metric != "" {
		e = e.Str("metric", ev.Metric)
	}
	if ev.Date != "" {
		e = e.Str("date", ev.Date)
	}
	if ev.Error != "" {
		e = e.Str("error", ev.Error)
	}
	e.Msg(ev.Message)
}

// Stats is a point-in-time snapshot of aggregate sync statistics.
type Stats struct {
	TotalUnits int           `json:"total_units"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Elapsed    time.Duration `json:"elapsed"`
	Percentage float64       `json:"percentage"`

	// ETA extrapolates remaining time from the average per-unit
	// duration so far; zero until at least one unit has resolved.
	ETA time.Duration `json:"eta"`

	Done bool `json:"done"`
}

// Processed is the number of resolved units.
func (s Stats) Processed() int { return s.Completed + s.Failed + s.Skipped }

// StatsReporter aggregates events into counters and derived statistics.
// Safe for concurrent use.
type StatsReporter struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	skipped   int
	started   time.Time
	ended     time.Time
	now       func() time.Time
}

// NewStatsReporter returns an empty aggregate reporter.
func NewStatsReporter() *StatsReporter {
	return &StatsReporter{now: time.Now}
}

// HandleEvent implements Reporter.
func (s *StatsReporter) HandleEvent(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case models.EventSyncStart:
		s.total = ev.TotalUnits
		s.started = ev.Timestamp
	case models.EventSyncEnd:
		s.ended = ev.Timestamp
	case models.EventUnitComplete:
		s.completed++
	case models.EventUnitFailed:
		s.failed++
	case models.EventUnitSkipped:
		s.skipped++
	}
}

// Snapshot returns current aggregate statistics.
func (s *StatsReporter) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		TotalUnits: s.total,
		Completed:  s.completed,
		Failed:     s.failed,
		Skipped:    s.skipped,
		Done:       !s.ended.IsZero(),
	}

	if !s.started.IsZero() {
		end := s.ended
		if end.IsZero() {
			end = s.now()
		}
		st.Elapsed = end.Sub(s.started)
	}

	processed := st.Processed()
	if s.total > 0 {
		st.Percentage = float64(processed) / float64(s.total) * 100
	}
	if processed > 0 && !st.Done && st.Elapsed > 0 {
		avg := st.Elapsed / time.Duration(processed)
		st.ETA = avg * time.Duration(s.total-processed)
	}
	return st
}
