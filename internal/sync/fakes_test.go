// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/remote"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// memStore is an in-memory implementation of Storage, CheckpointStore and
// StatusStore for engine tests.
type memStore struct {
	mu stdsync.Mutex

	data       map[string]json.RawMessage
	storeCalls int

	checkpoints map[string]*models.SyncCheckpoint
	// lastSaved keeps the most recent checkpoint content even after a
	// delete, so tests can assert on the final flushed state.
	lastSaved *models.SyncCheckpoint

	statuses map[string]*models.SyncProgress
}

func newMemStore() *memStore {
	return &memStore{
		data:        make(map[string]json.RawMessage),
		checkpoints: make(map[string]*models.SyncCheckpoint),
		statuses:    make(map[string]*models.SyncProgress),
	}
}

func dataKey(userID, metric, date string) string {
	return userID + "|" + metric + "|" + date
}

func (s *memStore) seed(userID, metric string, d time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[dataKey(userID, metric, models.DateKey(d))] = json.RawMessage(`{"seeded":true}`)
}

func (s *memStore) ListExistingDates(_ context.Context, userID, metric string, start, end time.Time) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	for d := models.Day(start); !d.After(models.Day(end)); d = d.AddDate(0, 0, 1) {
		key := models.DateKey(d)
		if _, ok := s.data[dataKey(userID, metric, key)]; ok {
			out[key] = struct{}{}
		}
	}
	return out, nil
}

func (s *memStore) Exists(_ context.Context, userID, metric string, d time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[dataKey(userID, metric, models.DateKey(d))]
	return ok, nil
}

func (s *memStore) Store(_ context.Context, userID, metric string, d time.Time, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeCalls++
	s.data[dataKey(userID, metric, models.DateKey(d))] = data
	return nil
}

func (s *memStore) storeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeCalls
}

func (s *memStore) has(userID, metric string, d time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[dataKey(userID, metric, models.DateKey(d))]
	return ok
}

func cloneCheckpoint(cp *models.SyncCheckpoint) *models.SyncCheckpoint {
	out := &models.SyncCheckpoint{
		SyncID:         cp.SyncID,
		UserID:         cp.UserID,
		CompletedDates: make(map[string]bool, len(cp.CompletedDates)),
		FailedAttempts: make(map[string]int, len(cp.FailedAttempts)),
		LastCheckpoint: cp.LastCheckpoint,
	}
	for k, v := range cp.CompletedDates {
		out.CompletedDates[k] = v
	}
	for k, v := range cp.FailedAttempts {
		out.FailedAttempts[k] = v
	}
	return out
}

func (s *memStore) SaveCheckpoint(_ context.Context, cp *models.SyncCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := cloneCheckpoint(cp)
	saved.LastCheckpoint = time.Now().UTC()
	s.checkpoints[cp.UserID+"|"+cp.SyncID] = saved
	s.lastSaved = saved
	return nil
}

func (s *memStore) LoadCheckpoint(_ context.Context, userID, syncID string) (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[userID+"|"+syncID]
	if !ok {
		return nil, nil
	}
	return cloneCheckpoint(cp), nil
}

func (s *memStore) DeleteCheckpoint(_ context.Context, userID, syncID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, userID+"|"+syncID)
	return nil
}

func (s *memStore) checkpoint(userID, syncID string) *models.SyncCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[userID+"|"+syncID]
	if !ok {
		return nil
	}
	return cloneCheckpoint(cp)
}

func (s *memStore) SaveStatus(_ context.Context, p *models.SyncProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[p.SyncID] = p.Clone()
	return nil
}

func (s *memStore) LoadStatus(_ context.Context, syncID string) (*models.SyncProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.statuses[syncID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *memStore) FindResumable(_ context.Context, userID string) (*models.SyncProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.SyncProgress
	for _, p := range s.statuses {
		if p.UserID != userID || !p.Status.Resumable() {
			continue
		}
		if _, ok := s.checkpoints[userID+"|"+p.SyncID]; !ok {
			continue
		}
		if best == nil || p.StartedAt.After(best.StartedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.Clone(), nil
}

// fetchLog records accessor invocations as "metric:date" unit keys.
type fetchLog struct {
	mu    stdsync.Mutex
	units []string
}

func (l *fetchLog) record(metric string, d time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.units = append(l.units, models.UnitKey(metric, d))
}

func (l *fetchLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.units...)
}

func (l *fetchLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.units)
}

func (l *fetchLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.units = nil
}

// okAccessor records the fetch and returns a payload.
func okAccessor(log *fetchLog, metric string) remote.Accessor {
	return remote.AccessorFunc(func(_ context.Context, d time.Time) (json.RawMessage, error) {
		log.record(metric, d)
		return json.RawMessage(fmt.Sprintf(`{"metric":%q,"date":%q}`, metric, models.DateKey(d))), nil
	})
}

// failAccessor records the fetch and always fails transiently.
func failAccessor(log *fetchLog, metric string) remote.Accessor {
	return remote.AccessorFunc(func(_ context.Context, d time.Time) (json.RawMessage, error) {
		log.record(metric, d)
		return nil, fmt.Errorf("connection reset")
	})
}

func newTestController(store *memStore, reg *remote.Registry, reporter Reporter) *Controller {
	return NewController(store, store, store, reg, Options{
		Reporter:     reporter,
		UnitInterval: time.Nanosecond,
	})
}

func testConfig(metrics ...string) models.SyncConfig {
	return models.SyncConfig{
		UserID:        "u1",
		StartDate:     day(2024, time.January, 1),
		EndDate:       day(2024, time.January, 2),
		Metrics:       metrics,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		Backoff:       models.BackoffFixed,
	}
}

// waitTerminal polls until the sync reaches a terminal status.
func waitTerminal(t *testing.T, c *Controller, syncID string) *models.SyncProgress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := c.Progress(context.Background(), syncID)
		if err != nil {
			t.Fatalf("Progress(%s): %v", syncID, err)
		}
		if p.Status.Terminal() {
			return p
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("sync %s did not reach a terminal status", syncID)
	return nil
}
