package apiclient

import "context"

type contextKey int

const (
	retriedKey contextKey = iota
	publicKey
	bearerKey
)

// markRetried sets the per-request retry marker.
func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey, true)
}

func retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey).(bool)
	return v
}

// Public marks a request as unauthenticated: no bearer credential is
// attached and a 401 is returned to the caller as-is.
func Public(ctx context.Context) context.Context {
	return context.WithValue(ctx, publicKey, true)
}

func isPublic(ctx context.Context) bool {
	v, _ := ctx.Value(publicKey).(bool)
	return v
}

// WithoutRecovery disables the unauthorized-recovery protocol for a request,
// exactly as if its one recovery attempt had already been spent.
func WithoutRecovery(ctx context.Context) context.Context {
	return markRetried(ctx)
}

// WithBearer sends token instead of the stored credential.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey, token)
}

func bearerOverride(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(bearerKey).(string)
	return v, ok && v != ""
}
