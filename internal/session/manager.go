// Package session tracks who the current user is. It owns the transitions
// between Bootstrapping, Authenticated and Anonymous and keeps the credential
// store consistent with them.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/careerguide/internal/auth"
	"github.com/ashureev/careerguide/internal/domain"
	"go.uber.org/zap"
)

// resolveTimeout bounds identity resolution triggered by an out-of-process
// credential change.
const resolveTimeout = 10 * time.Second

// CredentialStore is the part of the credential store the manager writes.
type CredentialStore interface {
	Get() (string, bool)
	Set(token string) error
	Clear() error
}

// changeSource is implemented by stores that report out-of-process changes.
type changeSource interface {
	Subscribe(fn func(token string, present bool)) (unsubscribe func())
}

// EndedSource reports that a session was ended by someone other than the
// manager, such as the request pipeline after a failed recovery.
type EndedSource interface {
	OnSessionEnded(fn func(cause error)) (unsubscribe func())
}

// State is a snapshot of the session.
type State struct {
	Status   domain.Status
	Identity *domain.Identity
}

// Manager is safe for concurrent use.
type Manager struct {
	store   CredentialStore
	backend auth.Backend
	logger  *zap.Logger

	boot sync.Once

	mu       sync.Mutex
	status   domain.Status
	identity *domain.Identity

	subMu  sync.Mutex
	subs   map[int]func(State)
	nextID int

	detach []func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEndedSource moves the manager to Anonymous whenever src reports an
// ended session.
func WithEndedSource(src EndedSource) Option {
	return func(m *Manager) {
		m.detach = append(m.detach, src.OnSessionEnded(m.handleEnded))
	}
}

// New creates a manager in the Bootstrapping state. It listens for identity
// pushes from backend and, when store supports it, for credential changes
// made by other processes.
func New(store CredentialStore, backend auth.Backend, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		backend: backend,
		logger:  zap.NewNop(),
		status:  domain.StatusBootstrapping,
		subs:    make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.detach = append(m.detach, backend.SubscribeIdentityChanges(m.handleIdentityPush))
	if src, ok := store.(changeSource); ok {
		m.detach = append(m.detach, src.Subscribe(m.handleCredentialChange))
	}
	return m
}

// Bootstrap restores the session from the stored credential. It runs once,
// never fails and always leaves the manager Authenticated or Anonymous.
func (m *Manager) Bootstrap(ctx context.Context) {
	m.boot.Do(func() {
		token, ok := m.store.Get()
		if !ok {
			m.logger.Debug("no stored credential")
			m.transition(domain.StatusAnonymous, nil)
			return
		}

		id, err := m.backend.Resolve(ctx, token)
		if err != nil || !id.Valid() {
			m.logger.Info("stored credential rejected", zap.String("backend", m.backend.Name()), zap.Error(err))
			_ = m.endSession()
			return
		}

		m.logger.Info("session restored", zap.String("user_id", id.ID))
		m.transition(domain.StatusAuthenticated, id)
	})
}

// Login authenticates with the backend. On failure the current state is kept
// and the error is returned for display through auth.Message.
func (m *Manager) Login(ctx context.Context, email, password string) (*domain.Identity, error) {
	sess, err := m.backend.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return m.commit(sess)
}

// Register creates an account and leaves the manager signed in as it.
func (m *Manager) Register(ctx context.Context, reg domain.Registration) (*domain.Identity, error) {
	sess, err := m.backend.Register(ctx, reg)
	if err != nil {
		return nil, err
	}
	return m.commit(sess)
}

// Logout ends the session. The backend is told first, while the credential
// is still available to authenticate that call; its failure is logged and
// does not stop the local teardown. The returned error only reports a
// credential that could not be removed from durable storage.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.backend.Logout(ctx); err != nil {
		m.logger.Warn("backend logout failed", zap.String("backend", m.backend.Name()), zap.Error(err))
	}

	if err := m.endSession(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// IsAuthenticated reports whether a user is signed in.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == domain.StatusAuthenticated
}

// CurrentIdentity returns a copy of the signed-in identity, or nil.
func (m *Manager) CurrentIdentity() *domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil
	}
	id := *m.identity
	return &id
}

// Status returns the current status.
func (m *Manager) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnChange registers fn to receive every state transition.
func (m *Manager) OnChange(fn func(State)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// Close detaches the manager from its sources.
func (m *Manager) Close() {
	for _, fn := range m.detach {
		fn()
	}
	m.detach = nil
}

// commit stores the credential and enters Authenticated in one step, so a
// concurrent Logout either fully precedes or fully follows it.
func (m *Manager) commit(sess auth.Session) (*domain.Identity, error) {
	id := sess.Identity

	m.mu.Lock()
	if err := m.store.Set(sess.Token); err != nil {
		// The credential is still held in memory for this process.
		m.logger.Warn("persist credential failed", zap.Error(err))
	}
	state, changed := m.setLocked(domain.StatusAuthenticated, &id)
	m.mu.Unlock()

	m.logger.Info("signed in", zap.String("backend", m.backend.Name()), zap.String("user_id", id.ID))
	if changed {
		m.publish(state)
	}
	out := id
	return &out, nil
}

// endSession clears the credential and enters Anonymous in one step.
func (m *Manager) endSession() error {
	m.mu.Lock()
	err := m.store.Clear()
	state, changed := m.setLocked(domain.StatusAnonymous, nil)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("clear credential failed", zap.Error(err))
	}
	if changed {
		m.publish(state)
	}
	return err
}

func (m *Manager) transition(status domain.Status, id *domain.Identity) {
	m.mu.Lock()
	state, changed := m.setLocked(status, id)
	m.mu.Unlock()
	if changed {
		m.publish(state)
	}
}

// setLocked records the new state. m.mu must be held.
func (m *Manager) setLocked(status domain.Status, id *domain.Identity) (State, bool) {
	if m.status == status && sameIdentity(m.identity, id) {
		return State{}, false
	}
	m.status = status
	m.identity = id
	state := State{Status: status}
	if id != nil {
		cp := *id
		state.Identity = &cp
	}
	return state, true
}

func (m *Manager) publish(state State) {
	m.logger.Debug("session state changed", zap.Stringer("status", state.Status))
	m.subMu.Lock()
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

func (m *Manager) handleEnded(cause error) {
	m.logger.Info("session ended by request pipeline", zap.NamedError("cause", cause))
	m.transition(domain.StatusAnonymous, nil)
}

func (m *Manager) handleIdentityPush(id *domain.Identity) {
	if id == nil {
		m.logger.Info("session ended by identity provider")
		_ = m.endSession()
		return
	}
	if !m.IsAuthenticated() {
		return
	}
	m.transition(domain.StatusAuthenticated, id)
}

func (m *Manager) handleCredentialChange(token string, present bool) {
	if !present {
		m.logger.Info("credential removed by another process")
		m.transition(domain.StatusAnonymous, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	id, err := m.backend.Resolve(ctx, token)
	if err != nil || !id.Valid() {
		m.logger.Info("credential from another process rejected", zap.Error(err))
		m.transition(domain.StatusAnonymous, nil)
		return
	}
	m.transition(domain.StatusAuthenticated, id)
}

func sameIdentity(a, b *domain.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Email == b.Email && a.DisplayName == b.DisplayName
}
