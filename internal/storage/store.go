// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

// Package storage implements the local SQLite mirror: metric data keyed
// by (user, metric, date), durable sync status history, and sync
// checkpoints for crash recovery.
//
// The store tolerates concurrent access from multiple users' syncs;
// writes for one user are serialized through a per-user lock so partial
// writes never interleave, while different users never block each other.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/logging"
)

// Store is the SQLite-backed local data store.
type Store struct {
	db *sql.DB

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// Open opens (creating if necessary) the database at cfg.Path and
// ensures the schema exists.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The driver serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent syncs.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:        db,
		userLocks: make(map[string]*sync.Mutex),
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Debug().Str("path", cfg.Path).Msg("Database opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// userLock returns the serialization lock for one user's writes.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}
