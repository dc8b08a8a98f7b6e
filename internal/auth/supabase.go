package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/careerguide/internal/domain"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"
)

// SupabaseConfig holds Supabase connection configuration.
type SupabaseConfig struct {
	URL    string
	APIKey string
}

// SupabaseProvider is a Provider backed by Supabase Auth (GoTrue).
type SupabaseProvider struct {
	client *supabase.Client
}

var _ Provider = (*SupabaseProvider)(nil)

// NewSupabaseProvider creates a provider for the project at cfg.URL.
func NewSupabaseProvider(cfg SupabaseConfig) (*SupabaseProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseProvider{client: client}, nil
}

// The GoTrue client is not context aware; calls are abandoned (not
// cancelled) when ctx ends first.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// SignIn implements Provider.
func (p *SupabaseProvider) SignIn(ctx context.Context, email, password string) (*ProviderSession, error) {
	resp, err := call(ctx, func() (*types.TokenResponse, error) {
		return p.client.Auth.SignInWithEmailPassword(email, password)
	})
	if err != nil {
		return nil, classifyProviderError(OpLogin, err)
	}
	return sessionFromSupabase(resp.Session), nil
}

// SignUp implements Provider.
func (p *SupabaseProvider) SignUp(ctx context.Context, reg domain.Registration) (*ProviderSession, error) {
	resp, err := call(ctx, func() (*types.SignupResponse, error) {
		return p.client.Auth.Signup(types.SignupRequest{
			Email:    reg.Email,
			Password: reg.Password,
			Data:     reg.Metadata(),
		})
	})
	if err != nil {
		return nil, classifyProviderError(OpRegister, err)
	}

	// With email confirmation enabled GoTrue returns only the user.
	if resp.Session.AccessToken == "" {
		return &ProviderSession{Identity: identityFromSupabase(resp.User)}, nil
	}
	return sessionFromSupabase(resp.Session), nil
}

// SignOut implements Provider.
func (p *SupabaseProvider) SignOut(ctx context.Context, accessToken string) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, p.client.Auth.WithToken(accessToken).Logout()
	})
	if err != nil {
		return classifyProviderError(OpLogout, err)
	}
	return nil
}

// Refresh implements Provider.
func (p *SupabaseProvider) Refresh(ctx context.Context, refreshToken string) (*ProviderSession, error) {
	resp, err := call(ctx, func() (*types.TokenResponse, error) {
		return p.client.Auth.RefreshToken(refreshToken)
	})
	if err != nil {
		return nil, classifyProviderError(OpRenew, err)
	}
	return sessionFromSupabase(resp.Session), nil
}

// User implements Provider.
func (p *SupabaseProvider) User(ctx context.Context, accessToken string) (*domain.Identity, error) {
	resp, err := call(ctx, func() (*types.UserResponse, error) {
		return p.client.Auth.WithToken(accessToken).GetUser()
	})
	if err != nil {
		return nil, classifyProviderError(OpResolve, err)
	}
	id := identityFromSupabase(resp.User)
	return &id, nil
}

func sessionFromSupabase(s types.Session) *ProviderSession {
	ps := &ProviderSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Identity:     identityFromSupabase(s.User),
	}
	if s.ExpiresIn > 0 {
		ps.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return ps
}

// identityFromSupabase maps a GoTrue user to {id, email, full_name}, using
// the email when no display name was stored.
func identityFromSupabase(u types.User) domain.Identity {
	id := domain.Identity{
		ID:    u.ID.String(),
		Email: u.Email,
	}
	profile := map[string]any{}
	for k, v := range u.UserMetadata {
		switch k {
		case "full_name", "name", "display_name":
			if s, ok := v.(string); ok && id.DisplayName == "" {
				id.DisplayName = s
			}
		default:
			profile[k] = v
		}
	}
	if id.DisplayName == "" {
		id.DisplayName = u.Email
	}
	if len(profile) > 0 {
		id.Profile = profile
	}
	return id
}

// classifyProviderError maps GoTrue failures onto the adapter taxonomy.
// GoTrue reports API errors as "response status code N: <body>".
func classifyProviderError(op Operation, err error) error {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(KindNetworkUnavailable, op, "", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already registered"), strings.Contains(msg, "already been registered"),
		strings.Contains(msg, "user_already_exists"), strings.Contains(msg, "email_exists"):
		return newError(KindAlreadyRegistered, op, "", err)
	case strings.Contains(msg, "invalid login credentials"), strings.Contains(msg, "invalid_credentials"),
		strings.Contains(msg, "invalid_grant"):
		return newError(KindInvalidCredentials, op, "", err)
	case strings.Contains(msg, "validate email"), strings.Contains(msg, "email_address_invalid"),
		strings.Contains(msg, "invalid email"):
		return newError(KindProviderRejected, op, "Invalid email address.", err)
	case strings.Contains(msg, "password should be"), strings.Contains(msg, "weak_password"),
		strings.Contains(msg, "weak password"):
		return newError(KindProviderRejected, op, "Password is too weak.", err)
	case strings.Contains(msg, "status code 5"), strings.Contains(msg, "unavailable"):
		return newError(KindNetworkUnavailable, op, "", err)
	default:
		return newError(KindProviderRejected, op, "", err)
	}
}
