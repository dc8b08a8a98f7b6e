// Package shared provides helpers used by both the client and the API
// server, such as SQLite retry and logger construction.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var conflictMarkers = []string{"SQLITE_BUSY", "database is locked", "SQLITE_LOCKED"}

// IsSQLiteConflictError reports whether err is a lock contention error that
// is worth retrying.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range conflictMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RetryOnConflict runs fn up to attempts times, backing off exponentially
// (with jitter) from base while fn fails with a conflict error. Other errors
// return immediately.
func RetryOnConflict(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	err := backoff.Retry(func() error {
		err := fn()
		if err != nil && !IsSQLiteConflictError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if IsSQLiteConflictError(err) {
		return fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return err
}
