package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/shared"
)

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Archive using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the archive database.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL,
		last_agent TEXT,
		last_persona TEXT,
		history_json TEXT NOT NULL,
		archived_at INTEGER NOT NULL,
		reason TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_archived ON sessions(archived_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSession inserts or replaces an archived session. SQLITE_BUSY is retried
// with exponential backoff.
func (s *SQLiteStore) SaveSession(ctx context.Context, a domain.ArchivedSession) error {
	history, err := json.Marshal(a.Turns)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	query := `
	INSERT INTO sessions (id, created_at, last_activity, last_agent, last_persona, history_json, archived_at, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		last_activity = excluded.last_activity,
		last_agent = excluded.last_agent,
		last_persona = excluded.last_persona,
		history_json = excluded.history_json,
		archived_at = excluded.archived_at,
		reason = excluded.reason`

	attempt := 0
	err = shared.RetryOnConflict(ctx, maxRetries, baseDelay, func() error {
		attempt++
		_, err := s.db.ExecContext(ctx, query,
			a.ID, a.CreatedAt.UnixMilli(), a.LastActivity.UnixMilli(),
			nullString(a.LastAgent), nullString(a.LastPersona), string(history),
			a.ArchivedAt.UnixMilli(), a.Reason,
		)
		if shared.IsSQLiteConflictError(err) {
			slog.Debug("SaveSession failed with SQLITE_BUSY, retrying", "session_id", a.ID, "attempt", attempt)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("save session %s after %d attempts: %w", a.ID, attempt, err)
	}
	return nil
}

// GetSession returns an archived session, or nil when none exists.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.ArchivedSession, error) {
	query := `
		SELECT id, created_at, last_activity, last_agent, last_persona,
		       history_json, archived_at, reason
		FROM sessions WHERE id = ?`

	var a domain.ArchivedSession
	var lastAgent, lastPersona sql.NullString
	var history string
	var createdAt, lastActivity, archivedAt int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &createdAt, &lastActivity, &lastAgent, &lastPersona,
		&history, &archivedAt, &a.Reason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(history), &a.Turns); err != nil {
		return nil, fmt.Errorf("unmarshal history of %s: %w", id, err)
	}
	a.LastAgent = lastAgent.String
	a.LastPersona = lastPersona.String
	a.CreatedAt = time.UnixMilli(createdAt)
	a.LastActivity = time.UnixMilli(lastActivity)
	a.ArchivedAt = time.UnixMilli(archivedAt)
	return &a, nil
}

// DeleteArchivedBefore removes sessions archived before cutoff.
func (s *SQLiteStore) DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := shared.RetryOnConflict(ctx, maxRetries, baseDelay, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE archived_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete archived sessions: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
