package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/careerguide/internal/apiclient"
	"github.com/ashureev/careerguide/internal/domain"
	"go.uber.org/zap"
)

// Local authenticates against the career API's own user endpoints.
type Local struct {
	api    *apiclient.Client
	logger *zap.Logger
}

var _ Backend = (*Local)(nil)

// NewLocal creates a Local backend that talks through api.
func NewLocal(api *apiclient.Client, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{api: api, logger: logger}
}

// Name implements Backend.
func (l *Local) Name() string { return "local" }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	User        domain.Identity `json:"user"`
}

// Login implements Backend.
func (l *Local) Login(ctx context.Context, email, password string) (Session, error) {
	var out loginResponse
	err := l.api.JSON(apiclient.Public(ctx), http.MethodPost, "/users/login",
		loginRequest{Email: strings.TrimSpace(email), Password: password}, &out)
	if err != nil {
		return Session{}, classifyAPIError(OpLogin, err)
	}
	if out.AccessToken == "" {
		return Session{}, newError(KindProviderRejected, OpLogin, "", errors.New("login response carried no access token"))
	}
	return Session{Token: out.AccessToken, Identity: out.User}, nil
}

// Register creates the account and then logs in so the caller receives a
// usable session.
func (l *Local) Register(ctx context.Context, reg domain.Registration) (Session, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	if err := l.api.JSON(apiclient.Public(ctx), http.MethodPost, "/users/register", reg, nil); err != nil {
		return Session{}, classifyAPIError(OpRegister, err)
	}

	sess, err := l.Login(ctx, reg.Email, reg.Password)
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			ae.Op = OpRegister
		}
		return Session{}, err
	}
	return sess, nil
}

// Logout implements Backend. It revokes the current credential server-side.
func (l *Local) Logout(ctx context.Context) error {
	err := l.api.JSON(apiclient.WithoutRecovery(ctx), http.MethodPost, "/users/logout", nil, nil)
	if err != nil {
		l.logger.Debug("backend logout failed", zap.Error(err))
		return classifyAPIError(OpLogout, err)
	}
	return nil
}

// Resolve implements Backend by fetching the profile with token.
func (l *Local) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	ctx = apiclient.WithoutRecovery(apiclient.WithBearer(ctx, token))
	id, err := l.api.Profile(ctx)
	if err != nil {
		return nil, classifyAPIError(OpResolve, err)
	}
	return id, nil
}

// SubscribeIdentityChanges implements Backend. The local API has no push
// channel, so fn is never called.
func (l *Local) SubscribeIdentityChanges(func(*domain.Identity)) func() {
	return func() {}
}

func classifyAPIError(op Operation, err error) error {
	if errors.Is(err, apiclient.ErrUnreachable) {
		return newError(KindNetworkUnavailable, op, "", err)
	}

	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		return newError(KindProviderRejected, op, "", err)
	}

	detail := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Status == http.StatusConflict, strings.Contains(detail, "already exists"):
		return newError(KindAlreadyRegistered, op, "", err)
	case apiErr.Status == http.StatusUnauthorized && op == OpLogin:
		return newError(KindInvalidCredentials, op, "", err)
	case apiErr.Status == http.StatusUnauthorized:
		return newError(KindProviderRejected, op, "Your session has expired. Please log in again.", err)
	case apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnprocessableEntity:
		// Validation errors arrive as structured JSON; only plain strings are shown.
		reason := apiErr.Message
		if strings.HasPrefix(reason, "[") || strings.HasPrefix(reason, "{") {
			reason = ""
		}
		return newError(KindProviderRejected, op, reason, err)
	default:
		return newError(KindProviderRejected, op, "", err)
	}
}
