// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package models

import (
	"errors"
	"testing"
	"time"
)

func validConfig() SyncConfig {
	start, _ := ParseDate("2024-01-01")
	end, _ := ParseDate("2024-01-10")
	return SyncConfig{
		UserID:        "u1",
		StartDate:     start,
		EndDate:       end,
		Metrics:       []string{"sleep", "steps"},
		BatchSize:     5,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		Backoff:       BackoffFixed,
	}
}

func TestSyncConfigValidate(t *testing.T) {
	t.Parallel()

	if err := (&SyncConfig{}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero config error = %v, want ErrInvalidConfig", err)
	}

	tests := []struct {
		name   string
		mutate func(c *SyncConfig)
	}{
		{"no user", func(c *SyncConfig) { c.UserID = "" }},
		{"inverted range", func(c *SyncConfig) { c.StartDate, c.EndDate = c.EndDate, c.StartDate }},
		{"no metrics", func(c *SyncConfig) { c.Metrics = nil }},
		{"negative attempts", func(c *SyncConfig) { c.RetryAttempts = -1 }},
		{"zero batch", func(c *SyncConfig) { c.BatchSize = 0 }},
		{"negative delay", func(c *SyncConfig) { c.RetryDelay = -time.Second }},
		{"bad backoff", func(c *SyncConfig) { c.Backoff = "quadratic" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestSyncConfigNormalize(t *testing.T) {
	t.Parallel()

	cfg := SyncConfig{
		UserID:    "u1",
		StartDate: time.Date(2024, time.January, 1, 17, 45, 0, 0, time.UTC),
		EndDate:   time.Date(2024, time.January, 2, 3, 0, 0, 0, time.UTC),
		Metrics:   []string{"steps"},
	}
	cfg.Normalize()

	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, DefaultBatchSize)
	}
	if cfg.RetryAttempts != DefaultRetryAttempts {
		t.Errorf("RetryAttempts = %d, want %d", cfg.RetryAttempts, DefaultRetryAttempts)
	}
	if cfg.RetryDelay != DefaultRetryDelay {
		t.Errorf("RetryDelay = %v, want %v", cfg.RetryDelay, DefaultRetryDelay)
	}
	if cfg.Backoff != BackoffFixed {
		t.Errorf("Backoff = %s, want fixed", cfg.Backoff)
	}
	if DateKey(cfg.StartDate) != "2024-01-01" || !cfg.StartDate.Equal(Day(cfg.StartDate)) {
		t.Errorf("StartDate not truncated: %v", cfg.StartDate)
	}
}

func TestSyncConfigTotals(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if cfg.TotalDays() != 10 {
		t.Errorf("TotalDays = %d, want 10", cfg.TotalDays())
	}
	if cfg.TotalUnits() != 20 {
		t.Errorf("TotalUnits = %d, want 20", cfg.TotalUnits())
	}
}

func TestStatusTransitionsHelpers(t *testing.T) {
	t.Parallel()

	terminal := []SyncStatus{StatusCompleted, StatusFailed, StatusInterrupted}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SyncStatus{StatusPending, StatusRunning, StatusPaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	for _, s := range []SyncStatus{StatusRunning, StatusPaused, StatusInterrupted} {
		if !s.Resumable() {
			t.Errorf("%s should be resumable", s)
		}
	}
	for _, s := range []SyncStatus{StatusPending, StatusCompleted, StatusFailed} {
		if s.Resumable() {
			t.Errorf("%s should not be resumable", s)
		}
	}
}

func TestProgressPercentageAndElapsed(t *testing.T) {
	t.Parallel()

	p := &SyncProgress{TotalUnits: 8, CompletedUnits: 2, FailedUnits: 1, SkippedUnits: 1}
	if got := p.Percentage(); got != 50 {
		t.Errorf("Percentage = %v, want 50", got)
	}
	if got := (&SyncProgress{}).Percentage(); got != 0 {
		t.Errorf("empty Percentage = %v, want 0", got)
	}

	start := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	p.StartedAt = start
	if got := p.Elapsed(start.Add(90 * time.Second)); got != 90*time.Second {
		t.Errorf("Elapsed = %v", got)
	}
	done := start.Add(time.Minute)
	p.CompletedAt = &done
	if got := p.Elapsed(start.Add(time.Hour)); got != time.Minute {
		t.Errorf("Elapsed after completion = %v, want 1m", got)
	}
}

func TestProgressCloneIsIndependent(t *testing.T) {
	t.Parallel()

	done := time.Now().UTC()
	p := &SyncProgress{SyncID: "s", CompletedUnits: 1, CompletedAt: &done}
	c := p.Clone()

	c.CompletedUnits = 99
	*c.CompletedAt = done.Add(time.Hour)

	if p.CompletedUnits != 1 {
		t.Error("clone shares counter state")
	}
	if !p.CompletedAt.Equal(done) {
		t.Error("clone shares CompletedAt pointer")
	}
}

func TestCheckpointAccessors(t *testing.T) {
	t.Parallel()

	cp := NewSyncCheckpoint("u1", "s1")
	d, _ := ParseDate("2024-01-05")

	if cp.DateComplete(d) {
		t.Error("fresh checkpoint reports date complete")
	}
	cp.MarkDateComplete(d)
	if !cp.DateComplete(d) {
		t.Error("MarkDateComplete not visible")
	}

	if got := cp.Attempts("steps", d); got != 0 {
		t.Errorf("Attempts = %d, want 0", got)
	}
	cp.RecordAttempts("steps", d, 2)
	if got := cp.Attempts("steps", d); got != 2 {
		t.Errorf("Attempts = %d, want 2", got)
	}
	cp.ClearAttempts("steps", d)
	if got := cp.Attempts("steps", d); got != 0 {
		t.Errorf("Attempts after clear = %d, want 0", got)
	}
}
