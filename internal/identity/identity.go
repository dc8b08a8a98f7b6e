// Package identity authenticates API requests with opaque bearer tokens.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/careerguide/internal/domain"
	"github.com/ashureev/careerguide/internal/store"
	"go.uber.org/zap"
)

// TokenType is reported to clients alongside issued tokens.
const TokenType = "bearer"

const tokenBytes = 32

type contextKey int

const (
	userKey contextKey = iota
	tokenKey
)

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *domain.User {
	if v, ok := ctx.Value(userKey).(*domain.User); ok {
		return v
	}
	return nil
}

// TokenFromContext returns the bearer token the request was authenticated with.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// WithUser attaches an authenticated user and token to ctx.
func WithUser(ctx context.Context, user *domain.User, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, tokenKey, token)
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Issue creates and stores a token for userID that expires after ttl.
func Issue(ctx context.Context, repo store.Repository, userID int64, ttl time.Duration) (*domain.AccessToken, error) {
	value, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tok := &domain.AccessToken{
		Value:     value,
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := repo.CreateToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	return tok, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// Middleware rejects requests without a valid, unexpired bearer token and
// injects the token's user into the request context.
func Middleware(repo store.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := BearerToken(r)
			if value == "" {
				unauthorized(w, "Not authenticated")
				return
			}

			tok, err := repo.GetToken(r.Context(), value)
			if err != nil {
				zap.L().Error("token lookup failed", zap.Error(err))
				http.Error(w, `{"detail":"failed to verify credentials"}`, http.StatusInternalServerError)
				return
			}
			if tok == nil {
				unauthorized(w, "Invalid token")
				return
			}
			if tok.Expired(time.Now()) {
				unauthorized(w, "Token expired")
				return
			}

			user, err := repo.GetUser(r.Context(), tok.UserID)
			if err != nil {
				zap.L().Error("user lookup failed", zap.Error(err), zap.Int64("user_id", tok.UserID))
				http.Error(w, `{"detail":"failed to verify credentials"}`, http.StatusInternalServerError)
				return
			}
			if user == nil {
				unauthorized(w, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user, value)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
