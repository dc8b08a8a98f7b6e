// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/careerguide/internal/domain"
)

// ErrDuplicateEmail is returned by CreateUser when the email is taken.
var ErrDuplicateEmail = errors.New("user with this email already exists")

// Repository defines the interface for persisting users, access tokens and
// per-user records. Getters return (nil, nil) when nothing matches.
type Repository interface {
	// CreateUser inserts user and sets its ID and CreatedAt.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id int64) (*domain.User, error)

	// GetUserByEmail retrieves a user by email, case-insensitively.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// CreateToken stores an issued access token.
	CreateToken(ctx context.Context, token *domain.AccessToken) error

	// GetToken looks up an access token by value. Expired tokens are returned
	// as-is; callers check Expired.
	GetToken(ctx context.Context, value string) (*domain.AccessToken, error)

	// DeleteToken revokes a token. Deleting an unknown token is not an error.
	DeleteToken(ctx context.Context, value string) error

	// DeleteExpiredTokens removes tokens that expired before now.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	// CreateRecord inserts record and sets its ID and CreatedAt.
	CreateRecord(ctx context.Context, record *domain.Record) error

	// ListRecords returns a user's records of kind, newest first.
	ListRecords(ctx context.Context, userID int64, kind domain.RecordKind) ([]*domain.Record, error)

	// GetRecord returns one record owned by userID.
	GetRecord(ctx context.Context, userID int64, kind domain.RecordKind, id int64) (*domain.Record, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
