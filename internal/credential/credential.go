// Package credential holds the process-wide session token and persists it
// through a pluggable durable backend.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Key is the storage key the token is persisted under.
const Key = "token"

var (
	// ErrInvalidDriver is returned by NewBackend for an unknown driver.
	ErrInvalidDriver = errors.New("credential: invalid driver")
	// ErrInvalidConfig is returned when a driver is missing a required option.
	ErrInvalidConfig = errors.New("credential: invalid driver configuration")
	// ErrWatchUnsupported is returned by Store.Watch when the backend cannot
	// observe out-of-process changes.
	ErrWatchUnsupported = errors.New("credential: backend does not support watching")
)

// Backend is durable storage for a single token.
type Backend interface {
	// Load returns the persisted token. ok is false when nothing is stored.
	Load(ctx context.Context) (token string, ok bool, err error)
	// Save replaces the persisted token.
	Save(ctx context.Context, token string) error
	// Delete removes the persisted token. Deleting an absent token is not an error.
	Delete(ctx context.Context) error
	Close() error
}

// Watcher is implemented by backends that can report changes made by other
// processes. onChange is called after every observed change until ctx ends.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Store is the single source of truth for the current token. Writes replace
// the cached value and then persist it before returning, so a Get that
// follows a Set or Clear always observes it.
type Store struct {
	mu      sync.RWMutex
	token   string
	present bool

	backend Backend
	logger  *zap.Logger

	subMu  sync.Mutex
	subs   map[int]func(token string, present bool)
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Store over backend and primes it from durable storage.
func New(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		logger:  zap.NewNop(),
		subs:    make(map[int]func(string, bool)),
	}
	for _, opt := range opts {
		opt(s)
	}

	token, ok, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	s.token, s.present = token, ok
	return s, nil
}

// Get returns the current token.
func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.present
}

// Set replaces the current token. The in-memory value is updated even if
// persisting fails; the persistence error is returned.
func (s *Store) Set(token string) error {
	if token == "" {
		return s.Clear()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.token, s.present = token, true
	if err := s.backend.Save(context.Background(), token); err != nil {
		s.logger.Warn("persist credential failed", zap.Error(err))
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Clear removes the current token.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token, s.present = "", false
	if err := s.backend.Delete(context.Background()); err != nil {
		s.logger.Warn("delete credential failed", zap.Error(err))
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// Reload re-reads durable storage and notifies subscribers if the token
// changed underneath the store.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	token, ok, err := s.backend.Load(ctx)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("reload credential: %w", err)
	}
	changed := token != s.token || ok != s.present
	s.token, s.present = token, ok
	s.mu.Unlock()

	if changed {
		s.logger.Debug("credential changed externally", zap.Bool("present", ok))
		s.notify(token, ok)
	}
	return nil
}

// Subscribe registers fn for changes detected by Reload. Writes made through
// this Store do not fire it.
func (s *Store) Subscribe(fn func(token string, present bool)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(token string, present bool) {
	s.subMu.Lock()
	fns := make([]func(string, bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(token, present)
	}
}

// Watch blocks, reloading the store whenever the backend reports an
// out-of-process change, until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	w, ok := s.backend.(Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return w.Watch(ctx, func() {
		if err := s.Reload(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("credential reload failed", zap.Error(err))
		}
	})
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
