// Package localstate persists the small client-side state that survives
// restarts: the session id, the registered email and the last-activity
// timestamp. It is a key-value table in a local SQLite database.
package localstate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Well-known keys.
const (
	keySessionID    = "session_id"
	keyEmail        = "user_email"
	keyLastActivity = "last_session_activity"
)

// State is the persisted client-side state read at startup.
type State struct {
	SessionID    string
	Email        string
	LastActivity time.Time
}

// DB is a SQLite-backed key-value store for client state.
type DB struct {
	db *sql.DB
}

// Open creates or opens the local state database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	// WAL mode keeps reads from blocking the periodic activity writes.
	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	schema := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS client_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize state schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// isBusyError reports a SQLite concurrency error that warrants a retry.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// setWithRetry writes one key with exponential backoff on SQLITE_BUSY.
func (d *DB) setWithRetry(ctx context.Context, key, value string) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	query := `
		INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	var err error
	for i := 0; i < maxRetries; i++ {
		_, err = d.db.ExecContext(ctx, query, key, value, time.Now().Unix())
		if err == nil {
			return nil
		}
		if !isBusyError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("State write hit locked database, retrying", "key", key, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("write state key %s: %w", key, err)
}

func (d *DB) get(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read state key %s: %w", key, err)
	}
	return value, nil
}

func (d *DB) delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM client_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state key %s: %w", key, err)
	}
	return nil
}

// Load reads the persisted state. Missing keys come back as zero values; a
// malformed activity timestamp is treated as absent.
func (d *DB) Load(ctx context.Context) (State, error) {
	var st State
	var err error

	if st.SessionID, err = d.get(ctx, keySessionID); err != nil {
		return State{}, err
	}
	if st.Email, err = d.get(ctx, keyEmail); err != nil {
		return State{}, err
	}

	raw, err := d.get(ctx, keyLastActivity)
	if err != nil {
		return State{}, err
	}
	if raw != "" {
		t, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			slog.Debug("Ignoring malformed last-activity timestamp", "value", raw)
		} else {
			st.LastActivity = t
		}
	}
	return st, nil
}

// SaveSessionID persists the session id.
func (d *DB) SaveSessionID(ctx context.Context, id string) error {
	return d.setWithRetry(ctx, keySessionID, id)
}

// SaveEmail persists the registered email.
func (d *DB) SaveEmail(ctx context.Context, email string) error {
	return d.setWithRetry(ctx, keyEmail, email)
}

// ClearEmail forgets the registered email.
func (d *DB) ClearEmail(ctx context.Context) error {
	return d.delete(ctx, keyEmail)
}

// TouchActivity records t as the most recent user activity.
func (d *DB) TouchActivity(ctx context.Context, t time.Time) error {
	return d.setWithRetry(ctx, keyLastActivity, t.UTC().Format(time.RFC3339))
}
