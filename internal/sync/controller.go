// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/metrics"
	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/remote"
)

// Storage is what the engine needs from the persistence collaborator.
// Implemented by *storage.Store.
type Storage interface {
	DateLister
	Exists(ctx context.Context, userID, metric string, day time.Time) (bool, error)
	Store(ctx context.Context, userID, metric string, day time.Time, data json.RawMessage) error
}

// CheckpointStore persists crash-recovery checkpoints. Save must behave
// as an atomic replace and be idempotent. Implemented by *storage.Store.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error
	LoadCheckpoint(ctx context.Context, userID, syncID string) (*models.SyncCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, userID, syncID string) error
}

// StatusStore persists durable progress snapshots and run history.
// Implemented by *storage.Store.
type StatusStore interface {
	SaveStatus(ctx context.Context, p *models.SyncProgress) error
	LoadStatus(ctx context.Context, syncID string) (*models.SyncProgress, error)
	FindResumable(ctx context.Context, userID string) (*models.SyncProgress, error)
}

// ErrSyncNotFound is returned by controls addressing an unknown or
// inactive sync identifier.
var ErrSyncNotFound = errors.New("sync not found")

// Cooperative loop-exit sentinels, observed at unit boundaries.
var (
	errPauseRequested = errors.New("pause requested")
	errStopRequested  = errors.New("stop requested")
)

// Task modes, set by the control operations and checked cooperatively at
// the top of each unit iteration. An in-flight fetch always completes.
const (
	modeRun int32 = iota
	modePause
	modeStop
)

// DefaultUnitInterval is the mandatory delay between consecutive remote
// fetches when none is configured.
const DefaultUnitInterval = 250 * time.Millisecond

// Options tunes a Controller.
type Options struct {
	// Reporter receives progress events. Optional; compose several with
	// NewMultiReporter.
	Reporter Reporter

	// UnitInterval is the minimum spacing between remote fetches.
	UnitInterval time.Duration
}

// Controller orchestrates sync runs: it builds work plans, drives the
// day-by-day loop, owns the status state machine, and exposes
// pause/resume/stop/status controls keyed by sync identifier.
type Controller struct {
	storage     Storage
	checkpoints CheckpointStore
	statuses    StatusStore
	registry    *remote.Registry
	reporter    Reporter
	limiter     *rate.Limiter

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     stdsync.RWMutex
	active map[string]*task
	wg     stdsync.WaitGroup
}

// NewController wires the engine to its collaborators.
func NewController(store Storage, checkpoints CheckpointStore, statuses StatusStore, registry *remote.Registry, opts Options) *Controller {
	interval := opts.UnitInterval
	if interval <= 0 {
		interval = DefaultUnitInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		storage:     store,
		checkpoints: checkpoints,
		statuses:    statuses,
		registry:    registry,
		reporter:    opts.Reporter,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		baseCtx:     ctx,
		cancel:      cancel,
		active:      make(map[string]*task),
	}
}

// task is the per-sync state owned by one work-loop goroutine.
type task struct {
	cfg        models.SyncConfig
	executor   *FetchExecutor
	checkpoint *models.SyncCheckpoint

	mode atomic.Int32
	done chan struct{} // closed when the sync reaches a terminal state

	// parked is true while the sync is paused with no loop goroutine.
	// Resume and Stop race the loop's own pause-exit for it with a CAS so
	// exactly one side relaunches or finalizes.
	parked atomic.Bool

	mu       stdsync.Mutex
	progress *models.SyncProgress
}

// checkMode reports a pending cooperative pause or stop request.
func (t *task) checkMode() error {
	switch t.mode.Load() {
	case modePause:
		return errPauseRequested
	case modeStop:
		return errStopRequested
	}
	return nil
}

// update mutates progress under the task lock.
func (t *task) update(fn func(p *models.SyncProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.progress)
}

// snapshot returns a copy of progress safe to hand out.
func (t *task) snapshot() *models.SyncProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.Clone()
}

// Start begins a sync run and returns its identifier. With resume
// enabled, a prior non-terminal sync for the user that still has a
// checkpoint is discovered, marked interrupted, and its identifier (and
// checkpoint) reused so completed dates are not re-fetched.
//
// Configuration errors are returned immediately; the sync never leaves
// PENDING.
func (c *Controller) Start(ctx context.Context, cfg models.SyncConfig, resume bool) (string, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	for _, m := range cfg.Metrics {
		if !c.registry.Has(m) {
			return "", fmt.Errorf("%w: no accessor registered for metric %q",
				models.ErrInvalidConfig, m)
		}
	}

	syncID := uuid.NewString()
	if resume {
		prev, err := c.statuses.FindResumable(ctx, cfg.UserID)
		if err != nil {
			return "", fmt.Errorf("look up resumable sync: %w", err)
		}
		if prev != nil && !c.isActive(prev.SyncID) {
			if prev.Status != models.StatusInterrupted {
				// The process died mid-run; settle the old record.
				prev.Status = models.StatusInterrupted
				if err := c.statuses.SaveStatus(ctx, prev); err != nil {
					logging.Warn().Err(err).Str("sync_id", prev.SyncID).
						Msg("Failed to mark abandoned sync interrupted")
				}
			}
			syncID = prev.SyncID
			logging.Info().Str("sync_id", syncID).Str("user", cfg.UserID).
				Msg("Resuming interrupted sync")
		}
	}
	if c.isActive(syncID) {
		return "", fmt.Errorf("sync %s is already running", syncID)
	}

	progress := &models.SyncProgress{
		SyncID:     syncID,
		UserID:     cfg.UserID,
		Status:     models.StatusPending,
		TotalUnits: cfg.TotalUnits(),
		TotalDays:  cfg.TotalDays(),
		StartedAt:  time.Now().UTC(),
	}
	if cp, err := c.checkpoints.LoadCheckpoint(ctx, cfg.UserID, syncID); err != nil {
		return "", fmt.Errorf("load checkpoint: %w", err)
	} else if cp != nil {
		progress.CompletedDays = len(cp.CompletedDates)
		progress.CompletedUnits = progress.CompletedDays * len(cfg.Metrics)
	}
	if err := c.statuses.SaveStatus(ctx, progress); err != nil {
		return "", fmt.Errorf("persist initial status: %w", err)
	}

	t := &task{
		cfg:      cfg,
		executor: NewFetchExecutor(c.registry, &cfg),
		done:     make(chan struct{}),
		progress: progress,
	}

	c.mu.Lock()
	c.active[syncID] = t
	c.mu.Unlock()

	logging.Info().
		Str("sync_id", syncID).
		Str("user", cfg.UserID).
		Str("start", models.DateKey(cfg.StartDate)).
		Str("end", models.DateKey(cfg.EndDate)).
		Int("metrics", len(cfg.Metrics)).
		Int("total_units", progress.TotalUnits).
		Msg("Sync started")

	c.launch(t)
	return syncID, nil
}

// launch runs (or re-runs, after pause) the work loop for a task.
func (c *Controller) launch(t *task) {
	c.wg.Add(1)
	metrics.SyncsActive.Inc()
	go c.runSync(t)
}

// Pause requests a pause; it takes effect at the next unit boundary so
// no partial unit is left ambiguous. The checkpoint and the in-memory
// progress entry are both kept.
func (c *Controller) Pause(syncID string) error {
	t := c.task(syncID)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrSyncNotFound, syncID)
	}
	if t.snapshot().Status != models.StatusRunning {
		return fmt.Errorf("sync %s is not running", syncID)
	}
	t.mode.Store(modePause)
	t.update(func(p *models.SyncProgress) { p.Status = models.StatusPaused })
	c.persistStatus(t)
	return nil
}

// Resume relaunches a paused sync's work loop. Completed dates stay
// resolved via the checkpoint and existence cache.
func (c *Controller) Resume(syncID string) error {
	t := c.task(syncID)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrSyncNotFound, syncID)
	}
	if t.snapshot().Status != models.StatusPaused {
		return fmt.Errorf("sync %s is not paused", syncID)
	}
	t.mode.Store(modeRun)
	t.update(func(p *models.SyncProgress) { p.Status = models.StatusRunning })
	c.persistStatus(t)
	if t.parked.CompareAndSwap(true, false) {
		c.launch(t)
	}
	// If the loop has not parked yet it observes the cleared flag itself
	// and keeps going without a relaunch.
	return nil
}

// Stop ends a sync. The checkpoint is flushed and retained so a later
// Start with resume enabled can pick up where this run left off; the
// in-memory progress entry is discarded after the final flush.
func (c *Controller) Stop(syncID string) error {
	t := c.task(syncID)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrSyncNotFound, syncID)
	}
	t.mode.Store(modeStop)

	// A parked task has no loop goroutine to observe the flag.
	if t.parked.CompareAndSwap(true, false) {
		c.finalizeStopped(t)
	}
	return nil
}

// Progress returns the live progress for an active sync, falling back to
// the last durable snapshot for finished ones.
func (c *Controller) Progress(ctx context.Context, syncID string) (*models.SyncProgress, error) {
	if t := c.task(syncID); t != nil {
		return t.snapshot(), nil
	}
	p, err := c.statuses.LoadStatus(ctx, syncID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrSyncNotFound, syncID)
	}
	return p, nil
}

// ListActive returns progress snapshots for all in-memory syncs.
func (c *Controller) ListActive() []*models.SyncProgress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.SyncProgress, 0, len(c.active))
	for _, t := range c.active {
		out = append(out, t.snapshot())
	}
	return out
}

// Wait returns a channel closed when the sync reaches a terminal state.
// The second return is false for unknown identifiers.
func (c *Controller) Wait(syncID string) (<-chan struct{}, bool) {
	t := c.task(syncID)
	if t == nil {
		return nil, false
	}
	return t.done, true
}

// PlanReport is a dry-run planning summary: how much of a range is
// already mirrored and how much a sync would actually fetch.
type PlanReport struct {
	TotalUnits     int     `json:"total_units"`
	ExistingUnits  int     `json:"existing_units"`
	MissingUnits   int     `json:"missing_units"`
	SkipPercentage float64 `json:"skip_percentage"`
}

// EfficiencyStats runs the existence-cache build without performing any
// fetches and reports skip efficiency for the range.
func (c *Controller) EfficiencyStats(ctx context.Context, userID string, syncMetrics []string, start, end time.Time) (*PlanReport, error) {
	if len(syncMetrics) == 0 {
		return nil, fmt.Errorf("%w: metric list is empty", models.ErrInvalidConfig)
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: start date is after end date", models.ErrInvalidConfig)
	}
	cache, err := BuildExistenceCache(ctx, c.storage, userID, syncMetrics, start, end)
	if err != nil {
		return nil, err
	}

	report := &PlanReport{
		TotalUnits:    models.DaysBetween(start, end) * len(syncMetrics),
		ExistingUnits: cache.Existing(),
	}
	report.MissingUnits = report.TotalUnits - report.ExistingUnits
	if report.TotalUnits > 0 {
		report.SkipPercentage = float64(report.ExistingUnits) / float64(report.TotalUnits) * 100
	}
	return report, nil
}

// Close stops all active syncs and waits for their loops to exit. If ctx
// expires first, in-flight fetches are canceled outright.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.RLock()
	tasks := make([]*task, 0, len(c.active))
	for _, t := range c.active {
		t.mode.Store(modeStop)
		tasks = append(tasks, t)
	}
	c.mu.RUnlock()

	// Paused tasks have no loop goroutine to observe the stop flag.
	for _, t := range tasks {
		if t.parked.CompareAndSwap(true, false) {
			c.finalizeStopped(t)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// task looks up an active task.
func (c *Controller) task(syncID string) *task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[syncID]
}

func (c *Controller) isActive(syncID string) bool {
	return c.task(syncID) != nil
}

// runSync drives one work-loop invocation and settles the outcome.
func (c *Controller) runSync(t *task) {
	defer c.wg.Done()
	defer metrics.SyncsActive.Dec()

	started := time.Now()
	for {
		err := c.executeSync(t)

		switch {
		case err == nil:
			c.finalizeCompleted(t, started)
		case errors.Is(err, errPauseRequested):
			if err := c.flushCheckpoint(t); err != nil {
				logging.Error().Err(err).Msg("Checkpoint flush failed on pause")
			}
			c.persistStatus(t)
			logging.Info().Str("sync_id", t.checkpoint.SyncID).Msg("Sync paused")

			// Park the task. A Resume or Stop that raced in before the
			// park wins the CAS below instead of relaunching.
			t.parked.Store(true)
			switch t.mode.Load() {
			case modeRun:
				if t.parked.CompareAndSwap(true, false) {
					continue
				}
			case modeStop:
				if t.parked.CompareAndSwap(true, false) {
					c.finalizeStopped(t)
				}
			}
		case errors.Is(err, errStopRequested):
			c.finalizeStopped(t)
		default:
			c.finalizeFailed(t, err)
		}
		return
	}
}

// executeSync is the work loop. It returns nil on completion, a
// cooperative sentinel on pause/stop, or the unrecoverable error
// (panics included) that should fail the sync.
func (c *Controller) executeSync(t *task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in sync loop: %v", rec)
		}
	}()

	ctx := c.baseCtx
	snap := t.snapshot()

	if t.checkpoint == nil {
		cp, err := c.checkpoints.LoadCheckpoint(ctx, snap.UserID, snap.SyncID)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if cp == nil {
			cp = models.NewSyncCheckpoint(snap.UserID, snap.SyncID)
		} else {
			logging.Info().Str("sync_id", snap.SyncID).
				Int("completed_dates", len(cp.CompletedDates)).
				Msg("Loaded checkpoint")
		}
		t.checkpoint = cp
	}

	cache, err := BuildExistenceCache(ctx, c.storage, snap.UserID, t.cfg.Metrics,
		t.cfg.StartDate, t.cfg.EndDate)
	if err != nil {
		return err
	}

	t.update(func(p *models.SyncProgress) { p.Status = models.StatusRunning })
	c.persistStatus(t)
	c.emit(models.Event{
		Kind:       models.EventSyncStart,
		SyncID:     snap.SyncID,
		UserID:     snap.UserID,
		TotalUnits: snap.TotalUnits,
		Message:    "sync started",
	})

	dates := models.DateRange(t.cfg.StartDate, t.cfg.EndDate, !t.cfg.OldestFirst)
	completedSinceFlush := 0

	for start := 0; start < len(dates); start += t.cfg.BatchSize {
		end := start + t.cfg.BatchSize
		if end > len(dates) {
			end = len(dates)
		}
		for _, day := range dates[start:end] {
			if t.checkpoint.DateComplete(day) {
				continue
			}
			if err := c.processDate(ctx, t, cache, day); err != nil {
				return err
			}

			t.checkpoint.MarkDateComplete(day)
			t.update(func(p *models.SyncProgress) { p.CompletedDays++ })

			completedSinceFlush++
			if completedSinceFlush >= t.cfg.BatchSize {
				if err := c.flushCheckpoint(t); err != nil {
					return err
				}
				completedSinceFlush = 0
			}
			c.persistStatus(t)
		}
	}

	return c.flushCheckpoint(t)
}

// processDate resolves every metric for one date, in configured order.
// The date is complete once each unit is skipped, succeeded, or
// permanently failed — individual unit failure never blocks the date.
func (c *Controller) processDate(ctx context.Context, t *task, cache *ExistenceCache, day time.Time) error {
	dateKey := models.DateKey(day)
	t.update(func(p *models.SyncProgress) { p.CurrentDate = dateKey })

	for _, metric := range t.cfg.Metrics {
		if err := t.checkMode(); err != nil {
			return err
		}
		t.update(func(p *models.SyncProgress) { p.CurrentMetric = metric })
		if err := c.processUnit(ctx, t, cache, metric, day); err != nil {
			return err
		}
	}
	return nil
}

// processUnit resolves one (metric, date) unit. Only unexpected
// infrastructure errors propagate; fetch failures resolve the unit as
// failed and return nil.
func (c *Controller) processUnit(ctx context.Context, t *task, cache *ExistenceCache, metric string, day time.Time) error {
	snap := t.snapshot()
	dateKey := models.DateKey(day)

	base := models.Event{
		SyncID: snap.SyncID,
		UserID: snap.UserID,
		Metric: metric,
		Date:   dateKey,
	}

	if cache.Contains(metric, day) {
		t.update(func(p *models.SyncProgress) { p.SkippedUnits++ })
		metrics.SyncUnitsTotal.WithLabelValues("skipped").Inc()
		base.Kind, base.Message = models.EventUnitSkipped, "already present"
		c.emit(base)
		c.updateEstimate(t)
		return nil
	}

	base.Kind, base.Message = models.EventUnitStart, "fetching"
	c.emit(base)

	// Mandatory inter-unit delay before touching the remote.
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	res := t.executor.Fetch(ctx, metric, day, t.checkpoint.Attempts(metric, day))

	switch res.Outcome {
	case OutcomeFound:
		if err := c.storage.Store(ctx, snap.UserID, metric, day, res.Data); err != nil {
			return fmt.Errorf("store %s %s: %w", metric, dateKey, err)
		}
		cache.Mark(metric, day)
		t.checkpoint.ClearAttempts(metric, day)
		t.update(func(p *models.SyncProgress) { p.CompletedUnits++ })
		metrics.SyncUnitsTotal.WithLabelValues("completed").Inc()
		base.Kind, base.Message = models.EventUnitComplete, "stored"
		c.emit(base)

	case OutcomeAbsent:
		if res.Err != nil {
			warn := base
			warn.Kind = models.EventWarning
			warn.Message = "unusable response shape, treated as no data"
			warn.Error = res.Err.Error()
			c.emit(warn)
		}
		t.checkpoint.ClearAttempts(metric, day)
		t.update(func(p *models.SyncProgress) { p.CompletedUnits++ })
		metrics.SyncUnitsTotal.WithLabelValues("completed").Inc()
		base.Kind, base.Message = models.EventUnitComplete, "no data"
		c.emit(base)

	case OutcomeFailed:
		t.checkpoint.RecordAttempts(metric, day, res.Attempts)
		t.update(func(p *models.SyncProgress) { p.FailedUnits++ })
		metrics.SyncUnitsTotal.WithLabelValues("failed").Inc()
		base.Kind, base.Message = models.EventUnitFailed, "retries exhausted"
		if res.Err != nil {
			base.Error = res.Err.Error()
		}
		c.emit(base)
	}

	c.updateEstimate(t)
	return nil
}

// updateEstimate recomputes the estimated completion time from the
// average per-unit duration so far.
func (c *Controller) updateEstimate(t *task) {
	t.update(func(p *models.SyncProgress) {
		processed := p.CompletedUnits + p.FailedUnits + p.SkippedUnits
		if processed == 0 || p.Status != models.StatusRunning {
			return
		}
		elapsed := time.Since(p.StartedAt)
		if elapsed <= 0 {
			return
		}
		remaining := time.Duration(p.TotalUnits-processed) * (elapsed / time.Duration(processed))
		eta := time.Now().UTC().Add(remaining)
		p.EstimatedCompletion = &eta
	})
}

// finalizeCompleted settles a successful run: checkpoint deleted, durable
// status kept for history.
func (c *Controller) finalizeCompleted(t *task, started time.Time) {
	now := time.Now().UTC()
	t.update(func(p *models.SyncProgress) {
		p.Status = models.StatusCompleted
		p.CompletedAt = &now
		p.CurrentMetric = ""
		p.CurrentDate = ""
		p.EstimatedCompletion = nil
	})
	snap := t.snapshot()

	if err := c.checkpoints.DeleteCheckpoint(c.baseCtx, snap.UserID, snap.SyncID); err != nil {
		logging.Warn().Err(err).Str("sync_id", snap.SyncID).Msg("Failed to delete checkpoint")
	}
	c.persistStatus(t)

	// Record the user's last successful sync when the store tracks it.
	if ts, ok := c.storage.(interface {
		TouchLastSync(ctx context.Context, userID string, at time.Time) error
	}); ok {
		if err := ts.TouchLastSync(c.baseCtx, snap.UserID, now); err != nil {
			logging.Warn().Err(err).Str("user", snap.UserID).Msg("Failed to record last sync time")
		}
	}

	metrics.SyncDuration.Observe(time.Since(started).Seconds())
	metrics.SyncLastSuccess.SetToCurrentTime()

	logging.Info().
		Str("sync_id", snap.SyncID).
		Int("completed", snap.CompletedUnits).
		Int("failed", snap.FailedUnits).
		Int("skipped", snap.SkippedUnits).
		Dur("elapsed", time.Since(started)).
		Msg("Sync completed")

	c.emit(models.Event{
		Kind:    models.EventSyncEnd,
		SyncID:  snap.SyncID,
		UserID:  snap.UserID,
		Success: true,
		Message: "sync completed",
	})
	c.finishTask(snap.SyncID, t)
}

// finalizeStopped settles a stopped run: checkpoint flushed and retained
// for recovery, progress entry discarded.
func (c *Controller) finalizeStopped(t *task) {
	if err := c.flushCheckpoint(t); err != nil {
		logging.Error().Err(err).Msg("Final checkpoint flush failed on stop")
	}
	now := time.Now().UTC()
	t.update(func(p *models.SyncProgress) {
		p.Status = models.StatusInterrupted
		p.CompletedAt = &now
	})
	c.persistStatus(t)
	snap := t.snapshot()

	logging.Info().Str("sync_id", snap.SyncID).Msg("Sync stopped")
	c.emit(models.Event{
		Kind:    models.EventSyncEnd,
		SyncID:  snap.SyncID,
		UserID:  snap.UserID,
		Message: "sync stopped",
	})
	c.finishTask(snap.SyncID, t)
}

// finalizeFailed settles an unrecoverable error: checkpoint preserved for
// recovery, error surfaced in progress.
func (c *Controller) finalizeFailed(t *task, cause error) {
	if err := c.flushCheckpoint(t); err != nil {
		logging.Error().Err(err).Msg("Checkpoint flush failed while failing sync")
	}
	now := time.Now().UTC()
	t.update(func(p *models.SyncProgress) {
		p.Status = models.StatusFailed
		p.ErrorMessage = cause.Error()
		p.CompletedAt = &now
	})
	c.persistStatus(t)
	snap := t.snapshot()

	logging.Error().Err(cause).Str("sync_id", snap.SyncID).Msg("Sync failed")
	c.emit(models.Event{
		Kind:    models.EventError,
		SyncID:  snap.SyncID,
		UserID:  snap.UserID,
		Message: "sync failed",
		Error:   cause.Error(),
	})
	c.emit(models.Event{
		Kind:    models.EventSyncEnd,
		SyncID:  snap.SyncID,
		UserID:  snap.UserID,
		Message: "sync failed",
	})
	c.finishTask(snap.SyncID, t)
}

// finishTask removes a terminal sync from the active table and releases
// waiters.
func (c *Controller) finishTask(syncID string, t *task) {
	c.mu.Lock()
	delete(c.active, syncID)
	c.mu.Unlock()
	close(t.done)
}

// flushCheckpoint durably persists the checkpoint.
func (c *Controller) flushCheckpoint(t *task) error {
	if t.checkpoint == nil {
		return nil
	}
	if err := c.checkpoints.SaveCheckpoint(c.baseCtx, t.checkpoint); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	metrics.CheckpointFlushes.Inc()
	return nil
}

// persistStatus stores a durable progress snapshot. Status persistence
// is best-effort: the checkpoint, not the status record, carries the
// recovery invariants.
func (c *Controller) persistStatus(t *task) {
	snap := t.snapshot()
	if err := c.statuses.SaveStatus(c.baseCtx, snap); err != nil {
		logging.Warn().Err(err).Str("sync_id", snap.SyncID).Msg("Failed to persist status")
	}
}

// emit delivers an event to the configured reporter, recovering reporter
// panics.
func (c *Controller) emit(ev models.Event) {
	ev.Timestamp = time.Now().UTC()
	notify(c.reporter, ev)
}
