// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/vitalsync/vitalsync/internal/models"
)

// ErrNoData is returned when no record exists for a (user, metric, date).
var ErrNoData = errors.New("no data stored")

// Exists reports whether a record is present for (user, metric, date).
func (s *Store) Exists(ctx context.Context, userID, metric string, day time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM metric_data WHERE user_id = ? AND metric_type = ? AND data_date = ?`,
		userID, metric, models.DateKey(day)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence check: %w", err)
	}
	return true, nil
}

// Store upserts one day of metric data. Re-storing identical content is
// harmless, which keeps checkpoint-batch re-processing after a crash
// idempotent.
func (s *Store) Store(ctx context.Context, userID, metric string, day time.Time, data json.RawMessage) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sum := sha256.Sum256(data)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_data (user_id, metric_type, data_date, data_json, checksum, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, metric_type, data_date)
		 DO UPDATE SET data_json = excluded.data_json,
		               checksum  = excluded.checksum,
		               stored_at = excluded.stored_at`,
		userID, metric, models.DateKey(day), string(data),
		hex.EncodeToString(sum[:]), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store %s %s: %w", metric, models.DateKey(day), err)
	}
	return nil
}

// Get returns the stored payload for (user, metric, date), or ErrNoData.
func (s *Store) Get(ctx context.Context, userID, metric string, day time.Time) (json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data_json FROM metric_data WHERE user_id = ? AND metric_type = ? AND data_date = ?`,
		userID, metric, models.DateKey(day)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s %s", ErrNoData, userID, metric, models.DateKey(day))
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", metric, models.DateKey(day), err)
	}
	return json.RawMessage(data), nil
}

// ListExistingDates returns the set of dates already stored for a metric
// within an inclusive range. One call per metric seeds the engine's
// existence cache, so the cache build costs O(metrics) round trips.
func (s *Store) ListExistingDates(ctx context.Context, userID, metric string, start, end time.Time) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data_date FROM metric_data
		 WHERE user_id = ? AND metric_type = ? AND data_date >= ? AND data_date <= ?`,
		userID, metric, models.DateKey(start), models.DateKey(end))
	if err != nil {
		return nil, fmt.Errorf("list existing dates for %s: %w", metric, err)
	}
	defer rows.Close()

	dates := make(map[string]struct{})
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates[d] = struct{}{}
	}
	return dates, rows.Err()
}

// MetricStats summarizes stored data for one (user, metric) pair.
type MetricStats struct {
	Metric   string `json:"metric"`
	Records  int    `json:"records"`
	Earliest string `json:"earliest,omitempty"`
	Latest   string `json:"latest,omitempty"`
}

// UserStats returns per-metric record counts and date coverage for one
// user.
func (s *Store) UserStats(ctx context.Context, userID string) ([]MetricStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_type, COUNT(*), MIN(data_date), MAX(data_date)
		 FROM metric_data WHERE user_id = ?
		 GROUP BY metric_type ORDER BY metric_type`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	defer rows.Close()

	var stats []MetricStats
	for rows.Next() {
		var st MetricStats
		if err := rows.Scan(&st.Metric, &st.Records, &st.Earliest, &st.Latest); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
