package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/careerguide/internal/domain"
	"github.com/ashureev/careerguide/internal/shared"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
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

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		age_range TEXT NOT NULL DEFAULT '',
		current_job_role TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		educational_background TEXT NOT NULL DEFAULT '',
		years_of_experience INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS access_tokens (
		value TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_access_tokens_expires ON access_tokens(expires_at);

	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_owner ON records(user_id, kind, created_at);
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// write runs fn, retrying while SQLite reports lock contention.
func (s *SQLiteStore) write(ctx context.Context, fn func() error) error {
	return shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, fn)
}

const userColumns = `id, email, full_name, password_hash, age_range, current_job_role,
	industry, educational_background, years_of_experience, created_at`

// CreateUser inserts a user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	var years any
	if user.YearsOfExperience != nil {
		years = *user.YearsOfExperience
	}

	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO users (email, full_name, password_hash, age_range, current_job_role,
				industry, educational_background, years_of_experience, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.Email, user.FullName, user.PasswordHash, user.AgeRange, user.CurrentJobRole,
			user.Industry, user.EducationalBackground, years, now.Unix(),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("insert user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get user id: %w", err)
		}
		user.ID = id
		user.CreatedAt = time.Unix(now.Unix(), 0).UTC()
		return nil
	})
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var years sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&user.ID, &user.Email, &user.FullName, &user.PasswordHash,
		&user.AgeRange, &user.CurrentJobRole, &user.Industry,
		&user.EducationalBackground, &years, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	if years.Valid {
		y := int(years.Int64)
		user.YearsOfExperience = &y
	}
	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &user, nil
}

// CreateToken stores an access token.
func (s *SQLiteStore) CreateToken(ctx context.Context, token *domain.AccessToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	return s.write(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO access_tokens (value, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
			token.Value, token.UserID, token.ExpiresAt.Unix(), token.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
}

// GetToken looks up a token.
func (s *SQLiteStore) GetToken(ctx context.Context, value string) (*domain.AccessToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, user_id, expires_at, created_at FROM access_tokens WHERE value = ?`, value)

	var tok domain.AccessToken
	var expiresAt, createdAt int64
	err := row.Scan(&tok.Value, &tok.UserID, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan token row: %w", err)
	}
	tok.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	tok.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &tok, nil
}

// DeleteToken revokes a token.
func (s *SQLiteStore) DeleteToken(ctx context.Context, value string) error {
	return s.write(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE value = ?`, value); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		return nil
	})
}

// DeleteExpiredTokens removes tokens that expired before now.
func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE expires_at <= ?`, now.Unix())
		if err != nil {
			return fmt.Errorf("delete expired tokens: %w", err)
		}
		n, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return n, err
}

// CreateRecord inserts a record.
func (s *SQLiteStore) CreateRecord(ctx context.Context, record *domain.Record) error {
	now := time.Now().UTC()
	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO records (user_id, kind, body, created_at) VALUES (?, ?, ?, ?)`,
			record.UserID, string(record.Kind), string(record.Body), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get record id: %w", err)
		}
		record.ID = id
		record.CreatedAt = time.Unix(now.Unix(), 0).UTC()
		return nil
	})
}

// ListRecords returns a user's records of kind, newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, userID int64, kind domain.RecordKind) ([]*domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, body, created_at FROM records
		WHERE user_id = ? AND kind = ?
		ORDER BY created_at DESC, id DESC`, userID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			zap.L().Warn("failed to close record rows", zap.Error(closeErr))
		}
	}()

	records := []*domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// GetRecord returns one record owned by userID.
func (s *SQLiteStore) GetRecord(ctx context.Context, userID int64, kind domain.RecordKind, id int64) (*domain.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, body, created_at FROM records
		WHERE id = ? AND user_id = ? AND kind = ?`, id, userID, string(kind))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*domain.Record, error) {
	var rec domain.Record
	var kind, body string
	var createdAt int64
	if err := sc.Scan(&rec.ID, &rec.UserID, &kind, &body, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan record row: %w", err)
	}
	rec.Kind = domain.RecordKind(kind)
	rec.Body = []byte(body)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &rec, nil
}
