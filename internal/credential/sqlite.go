package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/careerguide/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteBackend persists the token in a small key/value table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	const schema = `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS credentials (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Load implements Backend.
func (s *SQLiteBackend) Load(ctx context.Context) (string, bool, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, Key).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select credential: %w", err)
	}
	return token, true, nil
}

// Save implements Backend.
func (s *SQLiteBackend) Save(ctx context.Context, token string) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			Key, token, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("upsert credential: %w", err)
		}
		return nil
	})
}

// Delete implements Backend.
func (s *SQLiteBackend) Delete(ctx context.Context) error {
	return s.withBusyRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, Key); err != nil {
			return fmt.Errorf("delete credential: %w", err)
		}
		return nil
	})
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withBusyRetry retries fn while another process holds the database lock.
func (s *SQLiteBackend) withBusyRetry(ctx context.Context, fn func() error) error {
	return shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, fn)
}
