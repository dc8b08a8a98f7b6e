package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSQLiteConflictError(t *testing.T) {
	assert.False(t, IsSQLiteConflictError(nil))
	assert.True(t, IsSQLiteConflictError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsSQLiteConflictError(errors.New("SQLITE_LOCKED: table is locked")))
	assert.False(t, IsSQLiteConflictError(errors.New("UNIQUE constraint failed: users.email")))
}

func TestRetryOnConflict(t *testing.T) {
	busy := errors.New("database is locked")

	t.Run("succeeds after contention", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 2, time.Millisecond, func() error {
			calls++
			return busy
		})
		require.ErrorIs(t, err, busy)
		assert.Contains(t, err.Error(), "after 2 attempts")
		assert.Equal(t, 2, calls)
	})

	t.Run("single attempt never waits", func(t *testing.T) {
		calls := 0
		start := time.Now()
		err := RetryOnConflict(context.Background(), 1, time.Hour, func() error {
			calls++
			return busy
		})
		require.ErrorIs(t, err, busy)
		assert.Equal(t, 1, calls)
		assert.Less(t, time.Since(start), time.Minute)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := RetryOnConflict(context.Background(), 5, time.Millisecond, func() error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("context ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := RetryOnConflict(ctx, 5, time.Hour, func() error {
			calls++
			return busy
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.LessOrEqual(t, calls, 1)
	})

	t.Run("cancel mid backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryOnConflict(ctx, 5, time.Hour, func() error {
			calls++
			cancel()
			return busy
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
