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

	"github.com/vitalsync/vitalsync/internal/models"
)

// ErrUserNotFound is returned when a user id has no registered account.
var ErrUserNotFound = errors.New("user not found")

// AddUser registers a new user.
func (s *Store) AddUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, email, display_name, created_at) VALUES (?, ?, ?, ?)`,
		u.UserID, u.Email, nullable(u.DisplayName), u.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("add user %s: %w", u.UserID, err)
	}
	return nil
}

// GetUser returns a registered user, or ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, display_name, created_at, last_sync FROM users WHERE user_id = ?`,
		userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return u, err
}

// ListUsers returns all registered users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, email, display_name, created_at, last_sync FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// RemoveUser deletes a user and, via cascade, all their mirrored data.
func (s *Store) RemoveUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("remove user %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return nil
}

// TouchLastSync stamps the user's last successful sync time.
func (s *Store) TouchLastSync(ctx context.Context, userID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_sync = ? WHERE user_id = ?`,
		t.UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("touch last sync for %s: %w", userID, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (*models.User, error) {
	var (
		u           models.User
		displayName sql.NullString
		createdAt   string
		lastSync    sql.NullString
	)
	if err := sc.Scan(&u.UserID, &u.Email, &displayName, &createdAt, &lastSync); err != nil {
		return nil, err
	}
	u.DisplayName = displayName.String

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	u.CreatedAt = t

	if lastSync.Valid {
		ls, err := time.Parse(time.RFC3339, lastSync.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_sync: %w", err)
		}
		u.LastSync = &ls
	}
	return &u, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
