// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/vitalsync/vitalsync/internal/models"
)

// SaveStatus durably records a sync progress snapshot. Snapshots are
// kept after completion as run history.
func (s *Store) SaveStatus(ctx context.Context, p *models.SyncProgress) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_status (user_id, sync_id, status, status_json, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, sync_id)
		 DO UPDATE SET status = excluded.status,
		               status_json = excluded.status_json,
		               updated_at  = excluded.updated_at`,
		p.UserID, p.SyncID, string(p.Status), string(blob),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save status %s: %w", p.SyncID, err)
	}
	return nil
}

// LoadStatus returns the last durable snapshot for a sync id, or nil if
// none exists.
func (s *Store) LoadStatus(ctx context.Context, syncID string) (*models.SyncProgress, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT status_json FROM sync_status WHERE sync_id = ?`, syncID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load status %s: %w", syncID, err)
	}
	return unmarshalStatus(blob)
}

// ListStatuses returns all durable snapshots for a user, newest first.
func (s *Store) ListStatuses(ctx context.Context, userID string) ([]*models.SyncProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status_json FROM sync_status WHERE user_id = ? ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncProgress
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		p, err := unmarshalStatus(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindResumable returns the most recent non-completed sync for a user
// that still has a surviving checkpoint, or nil. Used at sync start to
// discover interrupted runs whose identifier should be reused.
func (s *Store) FindResumable(ctx context.Context, userID string) (*models.SyncProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT st.status_json
		 FROM sync_status st
		 JOIN sync_checkpoints cp
		   ON cp.user_id = st.user_id AND cp.sync_id = st.sync_id
		 WHERE st.user_id = ? AND st.status IN (?, ?, ?)
		 ORDER BY st.updated_at DESC LIMIT 1`,
		userID, string(models.StatusRunning), string(models.StatusPaused),
		string(models.StatusInterrupted))
	if err != nil {
		return nil, fmt.Errorf("find resumable sync: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var blob string
	if err := rows.Scan(&blob); err != nil {
		return nil, err
	}
	return unmarshalStatus(blob)
}

func unmarshalStatus(blob string) (*models.SyncProgress, error) {
	p := &models.SyncProgress{}
	if err := json.Unmarshal([]byte(blob), p); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return p, nil
}

// SaveCheckpoint atomically replaces the checkpoint for (user, sync).
// Saving the same content repeatedly is idempotent.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error {
	cp.LastCheckpoint = time.Now().UTC()
	blob, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_checkpoints (user_id, sync_id, checkpoint_json, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, sync_id)
		 DO UPDATE SET checkpoint_json = excluded.checkpoint_json,
		               updated_at      = excluded.updated_at`,
		cp.UserID, cp.SyncID, string(blob), cp.LastCheckpoint.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.SyncID, err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint for (user, sync), or nil if none
// survives.
func (s *Store) LoadCheckpoint(ctx context.Context, userID, syncID string) (*models.SyncCheckpoint, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint_json FROM sync_checkpoints WHERE user_id = ? AND sync_id = ?`,
		userID, syncID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", syncID, err)
	}

	cp := &models.SyncCheckpoint{}
	if err := json.Unmarshal([]byte(blob), cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if cp.CompletedDates == nil {
		cp.CompletedDates = make(map[string]bool)
	}
	if cp.FailedAttempts == nil {
		cp.FailedAttempts = make(map[string]int)
	}
	return cp, nil
}

// DeleteCheckpoint removes the checkpoint for (user, sync). Deleting a
// missing checkpoint is not an error.
func (s *Store) DeleteCheckpoint(ctx context.Context, userID, syncID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_checkpoints WHERE user_id = ? AND sync_id = ?`,
		userID, syncID)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", syncID, err)
	}
	return nil
}
