// Package auth adapts the two identity backends, the platform's own API
// (Local) and a delegated identity provider (External), to one interface.
package auth

import (
	"context"

	"github.com/ashureev/careerguide/internal/domain"
)

// Session is the result of a successful login or registration.
type Session struct {
	Token    string
	Identity domain.Identity
}

// Backend is an identity backend. The variant is chosen once at startup.
type Backend interface {
	// Name identifies the variant for logs.
	Name() string

	Login(ctx context.Context, email, password string) (Session, error)
	Register(ctx context.Context, reg domain.Registration) (Session, error)

	// Logout notifies the backend. It is best effort; callers tear down the
	// local session regardless of the result.
	Logout(ctx context.Context) error

	// Resolve turns a stored credential into an identity.
	Resolve(ctx context.Context, token string) (*domain.Identity, error)

	// SubscribeIdentityChanges registers fn for pushed session changes. A nil
	// identity means the session ended elsewhere.
	SubscribeIdentityChanges(fn func(*domain.Identity)) (unsubscribe func())
}

// Renewer is implemented by backends that can force-issue a fresh credential.
type Renewer interface {
	Renew(ctx context.Context) (string, error)
}

// CanRenew reports whether b supports forced renewal.
func CanRenew(b Backend) (Renewer, bool) {
	r, ok := b.(Renewer)
	return r, ok
}
