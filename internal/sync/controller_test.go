// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/remote"
)

func TestStartAllUnitsSucceed(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	log := &fetchLog{}
	reg := remote.NewRegistry()
	reg.Register("sleep", okAccessor(log, "sleep"))
	reg.Register("steps", okAccessor(log, "steps"))

	c := newTestController(store, reg, nil)
	id, err := c.Start(context.Background(), testConfig("sleep", "steps"), false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := waitTerminal(t, c, id)
	if p.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want %s", p.Status, models.StatusCompleted)
	}
	if p.TotalUnits != 4 || p.CompletedUnits != 4 || p.FailedUnits != 0 || p.SkippedUnits != 0 {
		t.Fatalf("units = total %d completed %d failed %d skipped %d, want 4/4/0/0",
			p.TotalUnits, p.CompletedUnits, p.FailedUnits, p.SkippedUnits)
	}
	if p.CompletedDays != 2 {
		t.Errorf("CompletedDays = %d, want 2", p.CompletedDays)
	}
	if p.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if cp := store.checkpoint("u1", id); cp != nil {
		t.Errorf("checkpoint not deleted after completion: %+v", cp)
	}
	if got := store.storeCount(); got != 4 {
		t.Errorf("stored records = %d, want 4", got)
	}
}

func TestTransientFailuresDoNotBlockCompletion(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	log := &fetchLog{}
	reg := remote.NewRegistry()
	reg.Register("sleep", failAccessor(log, "sleep"))
	reg.Register("steps", okAccessor(log, "steps"))

	c := newTestController(store, reg, nil)
	id, err := c.Start(context.Background(), testConfig("sleep", "steps"), false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := waitTerminal(t, c, id)
	if p.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want %s (unit failures must not fail the run)",
			p.Status, models.StatusCompleted)
	}
	if p.FailedUnits != 2 || p.CompletedUnits != 2 {
		t.Fatalf("failed %d completed %d, want 2/2", p.FailedUnits, p.CompletedUnits)
	}
	if p.CompletedDays != 2 {
		t.Errorf("CompletedDays = %d, want 2 (failed units still complete their date)", p.CompletedDays)
	}

	// The final flushed checkpoint must mark both dates complete and carry
	// the exhausted retry budget for the failing metric.
	cp := store.lastSaved
	if cp == nil {
		t.Fatal("no checkpoint was ever flushed")
	}
	for _, d := range []string{"2024-01-01", "2024-01-02"} {
		if !cp.CompletedDates[d] {
			t.Errorf("date %s missing from completed set", d)
		}
		if got := cp.FailedAttempts["sleep:"+d]; got != 3 {
			t.Errorf("failed attempts for sleep:%s = %d, want 3", d, got)
		}
	}
	if !store.has("u1", "steps", day(2024, time.January, 1)) || !store.has("u1", "steps", day(2024, time.January, 2)) {
		t.Error("steps data missing despite sleep failures")
	}
}

func TestProcessingOrderNewestFirst(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	log := &fetchLog{}
	reg := remote.NewRegistry()
	reg.Register("steps", okAccessor(log, "steps"))

	cfg := testConfig("steps")
	cfg.EndDate = day(2024, time.January, 3)

	c := newTestController(store, reg, nil)
	id, err := c.Start(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitTerminal(t, c, id)

	want := []string{"steps:2024-01-03", "steps:2024-01-02", "steps:2024-01-01"}
	got := log.all()
	if len(got) != len(want) {
		t.Fatalf("fetches = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fetch order = %v, want %v", got, want)
		}
	}
}

func TestProcessingOrderOldestFirst(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	log := &fetchLog{}
	reg := remote.NewRegistry()
	reg.Register("steps", okAccessor(log, "steps"))

	cfg := testConfig("steps")
	cfg.EndDate = day(2024, time.January, 3)
	cfg.OldestFirst = true

	c := newTestController(store, reg, nil)
	id, err := c.Start(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitTerminal(t, c, id)

	got := log.all()
	want := []string{"steps:2024-01-01", "steps:2024-01-02", "steps:2024-01-03"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("fetch order = %v, want %v", got, want)
		}
	}
}

func TestSkipBeforeFetch(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.seed("u1", "steps", day(2024, time.January, 1))

	log := &fetchLog{}
	reg := remote.NewRegistry()
	reg.Register("steps", okAccessor(log, "steps"))
	reg.Register("sleep", okAccessor(log, "sleep"))

	c := newTestController(store, reg, nil)
	id, err := c.Start(context.Background(), testConfig("sleep", "steps"), false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := waitTerminal(t, c, id)
	if p.SkippedUnits != 1 {
		t.Errorf("SkippedUnits = %d, want 1", p.SkippedUnits)
	}
	for _, unit := range log.all() {
		if unit == "steps:2024-01-01" {
			t.Fatal("accessor invoked for a unit already present locally")
		}
	}
}

func TestIdempotentResync(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	log := &fetchLog{}
	reg := remote.NewRegistry()
	reg.Register("sleep", okAccessor(log, "sleep"))
	reg.Register("steps", okAccessor(log, "steps"))

	c := newTestController(store, reg, nil)
	ctx := context.Background()
	cfg := testConfig("sleep", "steps")

	first, err := c.Start(ctx, cfg, false)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	p1 := waitTerminal(t, c, first)
	if p1.CompletedUnits != 4 {
		t.Fatalf("first run completed %d units, want 4", p1.CompletedUnits)
	}

	report, err := c.EfficiencyStats(ctx, "u1", cfg.Metrics, cfg.StartDate, cfg.EndDate)
	if err != nil {
		t.Fatalf("EfficiencyStats: %v", err)
	}
	if report.ExistingUnits != p1.CompletedUnits {
		t.Errorf("existing units = %d, want %d", report.ExistingUnits, p1.CompletedUnits)
	}
	if report.SkipPercentage != 100 {
		t.Errorf("skip percentage = %v, want 100", report.SkipPercentage)
	}

	writes := store.storeCount()
	log.reset()

	second, err := c.Start(ctx, cfg, false)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if second == first {
		t.Error("second run reused the first run's identifier")
	}
	p2 := waitTerminal(t, c, second)
	if p2.Status != models.StatusCompleted {
		t.Fatalf("second run status = %s", p2.Status)
	}
	if p2.SkippedUnits != 4 || p2.CompletedUnits != 0 {
		t.Errorf("second run skipped %d completed %d, want 4/0", p2.SkippedUnits, p2.CompletedUnits)
	}
	if log.count() != 0 {
		t.Errorf("second run fetched %d units, want 0", log.count())
	}
	if store.storeCount() != writes {
		t.Errorf("second run wrote %d new records, want 0", store.storeCount()-writes)
	}
}

// gatedAccessor blocks on a chosen date so tests can issue controls while
// a fetch is deterministically in flight.
type gatedAccessor struct {
	metric   string
	gateDate string
	started  chan struct{}
	release  chan struct{}
	gateOnce stdsync.Once
	log      *fetchLog
}

func newGatedAccessor(metric, gateDate string, log *fetchLog) *gatedAccessor {
	return &gatedAccessor{
		metric:   metric,
		gateDate: gateDate,
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		log:      log,
	}
}

func (g *gatedAccessor) Fetch(_ context.Context, d time.Time) (json.RawMessage, error) {
	g.log.record(g.metric, d)
	if models.DateKey(d) == g.gateDate {
		g.gateOnce.Do(func() {
			close(g.started)
			<-g.release
		})
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func TestStopThenResumeSkipsCheckpointedDates(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	log := &fetchLog{}
	// Newest-first order over Jan 1-4 is 04, 03, 02, 01; gate on the
	// third date so two are already checkpointed when stop lands.
	gate := newGatedAccessor("steps", "2024-01-02", log)
	reg := remote.NewRegistry()
	reg.Register("steps", gate)

	cfg := testConfig("steps")
	cfg.EndDate = day(2024, time.January, 4)

	c := newTestController(store, reg, nil)
	ctx := context.Background()

	id, err := c.Start(ctx, cfg, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-gate.started
	if err := c.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(gate.release)

	p := waitTerminal(t, c, id)
	if p.Status != models.StatusInterrupted {
		t.Fatalf("status after stop = %s, want %s", p.Status, models.StatusInterrupted)
	}

	cp := store.checkpoint("u1", id)
	if cp == nil {
		t.Fatal("stop must retain the checkpoint")
	}
	for _, d := range []string{"2024-01-04", "2024-01-03", "2024-01-02"} {
		if !cp.CompletedDates[d] {
			t.Errorf("date %s missing from checkpoint after stop", d)
		}
	}

	log.reset()
	resumed, err := c.Start(ctx, cfg, true)
	if err != nil {
		t.Fatalf("resume Start: %v", err)
	}
	if resumed != id {
		t.Fatalf("resume id = %s, want reuse of %s", resumed, id)
	}

	p = waitTerminal(t, c, resumed)
	if p.Status != models.StatusCompleted {
		t.Fatalf("resumed run status = %s", p.Status)
	}
	for _, unit := range log.all() {
		if unit != "steps:2024-01-01" {
			t.Errorf("resumed run re-fetched checkpointed unit %s", unit)
		}
	}
	for _, d := range []time.Time{
		day(2024, time.January, 1), day(2024, time.January, 2),
		day(2024, time.January, 3), day(2024, time.January, 4),
	} {
		if !store.has("u1", "steps", d) {
			t.Errorf("missing stored data for %s", models.DateKey(d))
		}
	}
	if cp := store.checkpoint("u1", id); cp != nil {
		t.Error("checkpoint not deleted after resumed completion")
	}
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	log := &fetchLog{}
	gate := newGatedAccessor("steps", "2024-01-03", log)
	reg := remote.NewRegistry()
	reg.Register("steps", gate)

	cfg := testConfig("steps")
	cfg.EndDate = day(2024, time.January, 4)

	c := newTestController(store, reg, nil)
	id, err := c.Start(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-gate.started
	if err := c.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	close(gate.release)

	// Wait for the loop to actually park.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if tk := c.task(id); tk != nil && tk.parked.Load() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sync never parked after pause")
		}
		time.Sleep(time.Millisecond)
	}

	active := c.ListActive()
	if len(active) != 1 || active[0].SyncID != id {
		t.Fatalf("paused sync missing from active list: %v", active)
	}
	if active[0].Status != models.StatusPaused {
		t.Fatalf("status = %s, want %s", active[0].Status, models.StatusPaused)
	}

	if err := c.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	p := waitTerminal(t, c, id)
	if p.Status != models.StatusCompleted {
		t.Fatalf("status after resume = %s, want %s", p.Status, models.StatusCompleted)
	}
	if p.CompletedDays != 4 {
		t.Errorf("CompletedDays = %d, want 4", p.CompletedDays)
	}
}

func TestStartConfigErrors(t *testing.T) {
	t.Parallel()

	reg := remote.NewRegistry()
	reg.Register("steps", okAccessor(&fetchLog{}, "steps"))

	tests := []struct {
		name   string
		mutate func(cfg *models.SyncConfig)
	}{
		{"empty metrics", func(cfg *models.SyncConfig) { cfg.Metrics = nil }},
		{"missing user", func(cfg *models.SyncConfig) { cfg.UserID = "" }},
		{"inverted range", func(cfg *models.SyncConfig) {
			cfg.StartDate = day(2024, time.February, 1)
		}},
		{"unregistered metric", func(cfg *models.SyncConfig) {
			cfg.Metrics = []string{"steps", "blood_pressure"}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := newMemStore()
			c := newTestController(store, reg, nil)

			cfg := testConfig("steps")
			tc.mutate(&cfg)

			if _, err := c.Start(context.Background(), cfg, false); !errors.Is(err, models.ErrInvalidConfig) {
				t.Fatalf("Start error = %v, want ErrInvalidConfig", err)
			}
			if len(store.statuses) != 0 {
				t.Error("invalid config must not persist a status record")
			}
		})
	}
}

func TestProgressFallsBackToDurableStatus(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	reg := remote.NewRegistry()
	reg.Register("steps", okAccessor(&fetchLog{}, "steps"))

	c := newTestController(store, reg, nil)
	id, err := c.Start(context.Background(), testConfig("steps"), false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitTerminal(t, c, id)

	if len(c.ListActive()) != 0 {
		t.Fatal("completed sync still in active list")
	}
	p, err := c.Progress(context.Background(), id)
	if err != nil {
		t.Fatalf("Progress after completion: %v", err)
	}
	if p.Status != models.StatusCompleted {
		t.Errorf("durable status = %s, want %s", p.Status, models.StatusCompleted)
	}

	if _, err := c.Progress(context.Background(), "no-such-sync"); !errors.Is(err, ErrSyncNotFound) {
		t.Errorf("unknown sync error = %v, want ErrSyncNotFound", err)
	}
}

func TestEfficiencyStatsDryRun(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.seed("u1", "steps", day(2024, time.January, 1))
	store.seed("u1", "sleep", day(2024, time.January, 1))
	store.seed("u1", "sleep", day(2024, time.January, 2))

	log := &fetchLog{}
	reg := remote.NewRegistry()
	reg.Register("steps", okAccessor(log, "steps"))
	reg.Register("sleep", okAccessor(log, "sleep"))

	c := newTestController(store, reg, nil)
	report, err := c.EfficiencyStats(context.Background(), "u1",
		[]string{"sleep", "steps"}, day(2024, time.January, 1), day(2024, time.January, 2))
	if err != nil {
		t.Fatalf("EfficiencyStats: %v", err)
	}

	if report.TotalUnits != 4 || report.ExistingUnits != 3 || report.MissingUnits != 1 {
		t.Errorf("report = %+v, want total 4 existing 3 missing 1", report)
	}
	if report.SkipPercentage != 75 {
		t.Errorf("SkipPercentage = %v, want 75", report.SkipPercentage)
	}
	if log.count() != 0 {
		t.Errorf("dry run performed %d fetches, want 0", log.count())
	}
}

func TestResumeReusesRetryBudget(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	log := &fetchLog{}
	reg := remote.NewRegistry()
	reg.Register("sleep", failAccessor(log, "sleep"))

	cfg := testConfig("sleep")
	cfg.EndDate = cfg.StartDate // single date

	// Seed an interrupted run whose checkpoint already recorded an
	// exhausted retry budget for the unit.
	cp := models.NewSyncCheckpoint("u1", "old-sync")
	cp.RecordAttempts("sleep", cfg.StartDate, 3)
	if err := store.SaveCheckpoint(context.Background(), cp); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveStatus(context.Background(), &models.SyncProgress{
		SyncID:    "old-sync",
		UserID:    "u1",
		Status:    models.StatusInterrupted,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	c := newTestController(store, reg, nil)
	id, err := c.Start(context.Background(), cfg, true)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id != "old-sync" {
		t.Fatalf("resume id = %s, want old-sync", id)
	}

	p := waitTerminal(t, c, id)
	if p.Status != models.StatusCompleted {
		t.Fatalf("status = %s", p.Status)
	}
	if p.FailedUnits != 1 {
		t.Errorf("FailedUnits = %d, want 1", p.FailedUnits)
	}
	if log.count() != 0 {
		t.Errorf("unit with exhausted budget was fetched %d times, want 0", log.count())
	}
}
