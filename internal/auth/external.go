package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/careerguide/internal/domain"
	"go.uber.org/zap"
)

// ProviderSession is a session issued by an external identity provider.
type ProviderSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Identity     domain.Identity
}

// Provider is the narrow surface of an external identity provider. Errors
// returned by a Provider should already be *Error values.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*ProviderSession, error)
	// SignUp creates an account. The returned session has an empty
	// AccessToken when the provider requires confirmation first.
	SignUp(ctx context.Context, reg domain.Registration) (*ProviderSession, error)
	SignOut(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*ProviderSession, error)
	User(ctx context.Context, accessToken string) (*domain.Identity, error)
}

// External delegates identity to a Provider. The refresh token lives only
// in memory; a restarted process resumes from the persisted access token
// alone and cannot renew it.
type External struct {
	provider     Provider
	logger       *zap.Logger
	pollInterval time.Duration
	tokens       TokenSetter

	mu      sync.Mutex
	current *ProviderSession

	subMu  sync.Mutex
	subs   map[int]func(*domain.Identity)
	nextID int
}

var (
	_ Backend = (*External)(nil)
	_ Renewer = (*External)(nil)
)

// ExternalOption configures External.
type ExternalOption func(*External)

// WithExternalLogger sets the logger.
func WithExternalLogger(l *zap.Logger) ExternalOption {
	return func(e *External) {
		if l != nil {
			e.logger = l
		}
	}
}

// TokenSetter receives credentials issued by background renewal.
type TokenSetter interface {
	Set(token string) error
}

// WithTokenStore makes every successful Renew write the new access token to s.
func WithTokenStore(s TokenSetter) ExternalOption {
	return func(e *External) { e.tokens = s }
}

// WithPollInterval makes Watch re-validate the provider session every d.
func WithPollInterval(d time.Duration) ExternalOption {
	return func(e *External) { e.pollInterval = d }
}

// NewExternal creates an External backend over p.
func NewExternal(p Provider, opts ...ExternalOption) *External {
	e := &External{
		provider: p,
		logger:   zap.NewNop(),
		subs:     make(map[int]func(*domain.Identity)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements Backend.
func (e *External) Name() string { return "external" }

// Login implements Backend.
func (e *External) Login(ctx context.Context, email, password string) (Session, error) {
	ps, err := e.provider.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return Session{}, asAuthError(OpLogin, err)
	}
	e.setCurrent(ps)
	return Session{Token: ps.AccessToken, Identity: ps.Identity}, nil
}

// Register creates the provider account and then obtains a token through
// sign-in when sign-up did not issue one.
func (e *External) Register(ctx context.Context, reg domain.Registration) (Session, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	ps, err := e.provider.SignUp(ctx, reg)
	if err != nil {
		return Session{}, asAuthError(OpRegister, err)
	}

	if ps == nil || ps.AccessToken == "" {
		ps, err = e.provider.SignIn(ctx, reg.Email, reg.Password)
		if err != nil {
			var ae *Error
			if errors.As(err, &ae) && ae.Kind == KindNetworkUnavailable {
				return Session{}, asAuthError(OpRegister, err)
			}
			return Session{}, newError(KindProviderRejected, OpRegister,
				"Account created. Confirm your email address, then log in.", err)
		}
	}

	if ps.Identity.DisplayName == "" {
		ps.Identity.DisplayName = reg.FullName
	}
	e.setCurrent(ps)
	return Session{Token: ps.AccessToken, Identity: ps.Identity}, nil
}

// Logout implements Backend.
func (e *External) Logout(ctx context.Context) error {
	e.mu.Lock()
	ps := e.current
	e.current = nil
	e.mu.Unlock()

	if ps == nil || ps.AccessToken == "" {
		return nil
	}
	if err := e.provider.SignOut(ctx, ps.AccessToken); err != nil {
		return asAuthError(OpLogout, err)
	}
	return nil
}

// Resolve implements Backend. A successful resolve attaches the backend to
// the provider session so Watch can track it.
func (e *External) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	id, err := e.provider.User(ctx, token)
	if err != nil {
		return nil, asAuthError(OpResolve, err)
	}

	e.mu.Lock()
	if e.current == nil || e.current.AccessToken != token {
		e.current = &ProviderSession{AccessToken: token, Identity: *id}
	}
	e.mu.Unlock()
	return id, nil
}

// Renew implements Renewer using the in-memory refresh token. When the
// provider rejects the refresh token the session is dropped and subscribers
// are told it ended.
func (e *External) Renew(ctx context.Context) (string, error) {
	e.mu.Lock()
	refresh := ""
	if e.current != nil {
		refresh = e.current.RefreshToken
	}
	e.mu.Unlock()

	if refresh == "" {
		e.dropSession()
		return "", newError(KindProviderRejected, OpRenew, "", ErrNoSession)
	}

	ps, err := e.provider.Refresh(ctx, refresh)
	if err != nil {
		err = asAuthError(OpRenew, err)
		// An unreachable provider or an abandoned call says nothing about
		// the refresh token, so the session is kept for the next attempt.
		if !errors.Is(err, ErrNetworkUnavailable) {
			e.dropSession()
		}
		return "", err
	}

	e.setCurrent(ps)
	if e.tokens != nil {
		if err := e.tokens.Set(ps.AccessToken); err != nil {
			e.logger.Warn("persist renewed token failed", zap.Error(err))
		}
	}
	e.logger.Debug("provider session renewed", zap.String("user_id", ps.Identity.ID))
	id := ps.Identity
	e.notify(&id)
	return ps.AccessToken, nil
}

// SubscribeIdentityChanges implements Backend.
func (e *External) SubscribeIdentityChanges(fn func(*domain.Identity)) func() {
	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

// Watch periodically re-validates the provider session until ctx ends. A
// rejected session is renewed once; if that fails subscribers receive nil.
// It returns immediately when no poll interval is configured.
func (e *External) Watch(ctx context.Context) error {
	if e.pollInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	e.logger.Debug("identity watcher started", zap.Duration("interval", e.pollInterval))

	for {
		select {
		case <-ticker.C:
			e.check(ctx)
		case <-ctx.Done():
			e.logger.Debug("identity watcher stopped", zap.NamedError("reason", ctx.Err()))
			return nil
		}
	}
}

func (e *External) check(ctx context.Context) {
	e.mu.Lock()
	ps := e.current
	e.mu.Unlock()
	if ps == nil {
		return
	}

	id, err := e.provider.User(ctx, ps.AccessToken)
	if err == nil {
		if id.Email != ps.Identity.Email || id.DisplayName != ps.Identity.DisplayName {
			e.mu.Lock()
			if e.current == ps {
				updated := *ps
				updated.Identity = *id
				e.current = &updated
			}
			e.mu.Unlock()
			e.notify(id)
		}
		return
	}

	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindNetworkUnavailable {
		e.logger.Debug("identity check skipped, provider unreachable", zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	e.logger.Info("provider session rejected, renewing", zap.Error(err))
	if _, err := e.Renew(ctx); err != nil {
		e.logger.Info("provider session ended", zap.Error(err))
	}
}

func (e *External) setCurrent(ps *ProviderSession) {
	e.mu.Lock()
	e.current = ps
	e.mu.Unlock()
}

func (e *External) dropSession() {
	e.mu.Lock()
	had := e.current != nil
	e.current = nil
	e.mu.Unlock()
	if had {
		e.notify(nil)
	}
}

func (e *External) notify(id *domain.Identity) {
	e.subMu.Lock()
	fns := make([]func(*domain.Identity), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

// asAuthError stamps op onto provider errors and wraps anything foreign as
// ProviderRejected.
func asAuthError(op Operation, err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		out := *ae
		out.Op = op
		return &out
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(KindNetworkUnavailable, op, "", err)
	}
	return newError(KindProviderRejected, op, "", err)
}
