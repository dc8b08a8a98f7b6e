package credential

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), NewMemoryBackend())
	require.NoError(t, err)
	return s
}

func TestStoreGetReflectsLatestWrite(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(t)

	_, ok := s.Get()
	assert.False(t, ok)

	rng := rand.New(rand.NewSource(1))
	var want string
	var present bool
	for i := 0; i < 200; i++ {
		if rng.Intn(3) == 0 {
			require.NoError(t, s.Clear())
			want, present = "", false
		} else {
			want, present = "tok-"+strconv.Itoa(i), true
			require.NoError(t, s.Set(want))
		}
		got, ok := s.Get()
		require.Equal(t, present, ok, "iteration %d", i)
		require.Equal(t, want, got, "iteration %d", i)
	}
}

func TestStoreSetEmptyClears(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(t)

	require.NoError(t, s.Set("abc"))
	require.NoError(t, s.Set(""))

	_, ok := s.Get()
	assert.False(t, ok)
}

func TestStorePrimedFromBackend(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	require.NoError(t, b.Save(context.Background(), "persisted"))

	s, err := New(context.Background(), b)
	require.NoError(t, err)

	got, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "persisted", got)
}

type failingBackend struct {
	MemoryBackend
}

func (f *failingBackend) Save(context.Context, string) error { return errors.New("disk full") }

func TestStoreSetVisibleEvenWhenPersistFails(t *testing.T) {
	t.Parallel()
	s, err := New(context.Background(), &failingBackend{})
	require.NoError(t, err)

	err = s.Set("fresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	got, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "fresh", got)
}

func TestStoreConcurrentWritesLastWriterWins(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set("tok-" + strconv.Itoa(i))
			_, _ = s.Get()
		}(i)
	}
	wg.Wait()

	require.NoError(t, s.Set("final"))
	got, _ := s.Get()
	assert.Equal(t, "final", got)

	persisted, ok, err := s.backend.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "final", persisted)
}

func TestReloadNotifiesOnExternalChange(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	s, err := New(context.Background(), b)
	require.NoError(t, err)
	require.NoError(t, s.Set("mine"))

	var calls []bool
	unsubscribe := s.Subscribe(func(_ string, present bool) { calls = append(calls, present) })

	// No change: no notification.
	require.NoError(t, s.Reload(context.Background()))
	assert.Empty(t, calls)

	require.NoError(t, b.Delete(context.Background()))
	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, []bool{false}, calls)

	_, ok := s.Get()
	assert.False(t, ok)

	unsubscribe()
	require.NoError(t, b.Save(context.Background(), "other"))
	require.NoError(t, s.Reload(context.Background()))
	assert.Len(t, calls, 1)
}

func TestWatchUnsupported(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(t)
	assert.ErrorIs(t, s.Watch(context.Background()), ErrWatchUnsupported)
}

func TestNewBackendFactory(t *testing.T) {
	t.Parallel()

	_, err := NewBackend("etcd")
	assert.ErrorIs(t, err, ErrInvalidDriver)

	_, err = NewBackend(DriverFile)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBackend(DriverRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	b, err := NewBackend(DriverMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)
}

func TestFileBackend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "token")
	b := NewFileBackend(path, nil)
	ctx := context.Background()

	_, ok, err := b.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Save(ctx, "abc123"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	tok, ok, err := b.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", tok)

	require.NoError(t, b.Delete(ctx))
	require.NoError(t, b.Delete(ctx))

	_, ok, err = b.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileBackendSurvivesRestart(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "token")

	first, err := New(context.Background(), NewFileBackend(path, nil))
	require.NoError(t, err)
	require.NoError(t, first.Set("keep-me"))

	second, err := New(context.Background(), NewFileBackend(path, nil))
	require.NoError(t, err)
	got, ok := second.Get()
	assert.True(t, ok)
	assert.Equal(t, "keep-me", got)
}

func TestFileWatchObservesExternalLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	s, err := New(context.Background(), NewFileBackend(path, nil))
	require.NoError(t, err)
	require.NoError(t, s.Set("shared"))

	changed := make(chan bool, 4)
	s.Subscribe(func(_ string, present bool) { changed <- present })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Give the watcher time to register before mutating the file.
	time.Sleep(100 * time.Millisecond)

	other := NewFileBackend(path, nil)
	require.NoError(t, other.Delete(context.Background()))

	select {
	case present := <-changed:
		assert.False(t, present)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report external deletion")
	}

	_, ok := s.Get()
	assert.False(t, ok)

	cancel()
	require.NoError(t, <-done)
}

func TestSQLiteBackend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cred.db")
	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	_, ok, err := b.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Save(ctx, "one"))
	require.NoError(t, b.Save(ctx, "two"))

	tok, ok, err := b.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", tok)

	require.NoError(t, b.Delete(ctx))
	_, ok, err = b.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	prefix := "careerguide-test-" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":"
	b := NewRedisBackend(client, prefix)
	t.Cleanup(func() {
		_ = b.Delete(context.Background())
		_ = b.Close()
	})
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, "redis-token"))
	tok, ok, err := b.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "redis-token", tok)

	require.NoError(t, b.Delete(ctx))
	_, ok, err = b.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
