// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package storage

import "fmt"

// createTables creates the schema if it doesn't exist yet.
func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id      TEXT PRIMARY KEY,
			email        TEXT NOT NULL UNIQUE,
			display_name TEXT,
			created_at   TEXT NOT NULL,
			last_sync    TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS metric_data (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			data_date   TEXT NOT NULL,
			data_json   TEXT NOT NULL,
			checksum    TEXT NOT NULL,
			stored_at   TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users (user_id) ON DELETE CASCADE,
			UNIQUE (user_id, metric_type, data_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metric_data_lookup
			ON metric_data (user_id, metric_type, data_date)`,
		`CREATE TABLE IF NOT EXISTS sync_status (
			user_id     TEXT NOT NULL,
			sync_id     TEXT NOT NULL,
			status      TEXT NOT NULL,
			status_json TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			PRIMARY KEY (user_id, sync_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_checkpoints (
			user_id         TEXT NOT NULL,
			sync_id         TEXT NOT NULL,
			checkpoint_json TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			PRIMARY KEY (user_id, sync_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
