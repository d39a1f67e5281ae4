// Package state persists the small amount of client state that must survive
// process restarts: the auth token, the agent's role and the identifier of a
// session that was started but never completed. Backed by a single-table
// SQLite database so a crashed run can be noticed and cleaned up on the next
// start.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	keyToken     = "auth_token"
	keyRole      = "user_role"
	keySessionID = "current_session_id"
)

// Store wraps SQLite access for the persisted key/value state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the state database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`)
	return err
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) unset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Token returns the stored auth token, empty when logged out.
func (s *Store) Token(ctx context.Context) (string, error) { return s.get(ctx, keyToken) }

// SetToken stores the auth token after a successful login.
func (s *Store) SetToken(ctx context.Context, token string) error {
	return s.set(ctx, keyToken, token)
}

// Role returns the stored role of the logged-in user.
func (s *Store) Role(ctx context.Context) (string, error) { return s.get(ctx, keyRole) }

// SetRole stores the role reported by the login operation.
func (s *Store) SetRole(ctx context.Context, role string) error {
	return s.set(ctx, keyRole, role)
}

// SessionID returns the identifier of an in-flight capture session, empty
// when none is pending. A non-empty value on startup means a previous run
// died mid-session.
func (s *Store) SessionID(ctx context.Context) (string, error) {
	return s.get(ctx, keySessionID)
}

// SetSessionID records a started session so a crash can be detected later.
func (s *Store) SetSessionID(ctx context.Context, id string) error {
	return s.set(ctx, keySessionID, id)
}

// ClearSessionID removes the pending-session marker after the session ended,
// whether completed or failed.
func (s *Store) ClearSessionID(ctx context.Context) error {
	return s.unset(ctx, keySessionID)
}

// ClearAuth removes the token and role. Used on explicit logout and on a
// rejected token.
func (s *Store) ClearAuth(ctx context.Context) error {
	if err := s.unset(ctx, keyToken); err != nil {
		return err
	}
	return s.unset(ctx, keyRole)
}
