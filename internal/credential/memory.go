package credential

import (
	"context"
	"sync"
)

// MemoryBackend keeps the token in process memory only.
type MemoryBackend struct {
	mu    sync.Mutex
	token string
	ok    bool
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load implements Backend.
func (m *MemoryBackend) Load(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.ok, nil
}

// Save implements Backend.
func (m *MemoryBackend) Save(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.ok = token, true
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.ok = "", false
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
