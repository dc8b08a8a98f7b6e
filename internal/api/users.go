package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/ashureev/careerguide/internal/domain"
	"github.com/ashureev/careerguide/internal/identity"
	"github.com/ashureev/careerguide/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *domain.User `json:"user"`
}

func validateRegistration(reg *domain.Registration) string {
	reg.Email = strings.TrimSpace(reg.Email)
	if addr, err := mail.ParseAddress(reg.Email); err != nil || addr.Address != reg.Email {
		return "a valid email address is required"
	}
	if reg.Password == "" {
		return "password is required"
	}
	if len(reg.Password) < minPasswordLength {
		return "password must be at least 6 characters"
	}
	if reg.YearsOfExperience != nil && *reg.YearsOfExperience < 0 {
		return "years_of_experience must not be negative"
	}
	return ""
}

// Register creates an account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var reg domain.Registration
	if !decode(w, r, &reg) {
		return
	}
	if msg := validateRegistration(&reg); msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password failed", zap.Error(err))
		Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user := &domain.User{
		Email:                 reg.Email,
		FullName:              strings.TrimSpace(reg.FullName),
		PasswordHash:          string(hash),
		AgeRange:              reg.AgeRange,
		CurrentJobRole:        reg.CurrentJobRole,
		Industry:              reg.Industry,
		EducationalBackground: reg.EducationalBackground,
		YearsOfExperience:     reg.YearsOfExperience,
	}
	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			Error(w, http.StatusConflict, "User with this email already exists")
			return
		}
		h.logger.Error("create user failed", zap.Error(err))
		Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.logger.Info("user registered", zap.Int64("user_id", user.ID))
	JSON(w, http.StatusOK, user)
}

// Login verifies credentials and issues an access token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.repo.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		h.logger.Error("lookup user failed", zap.Error(err))
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.logger.Info("login rejected", zap.String("remote_ip", identity.IPFromRequest(r)))
		Error(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	tok, err := identity.Issue(r.Context(), h.repo, user.ID, h.tokenTTL)
	if err != nil {
		h.logger.Error("issue token failed", zap.Error(err), zap.Int64("user_id", user.ID))
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}

	h.logger.Info("user logged in",
		zap.Int64("user_id", user.ID),
		zap.String("remote_ip", identity.IPFromRequest(r)),
		zap.Time("expires_at", tok.ExpiresAt))
	JSON(w, http.StatusOK, loginResponse{
		AccessToken: tok.Value,
		TokenType:   identity.TokenType,
		User:        user,
	})
}

// Profile returns the authenticated user.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, identity.UserFromContext(r.Context()))
}

// Logout revokes the token the request was made with.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteToken(r.Context(), identity.TokenFromContext(r.Context())); err != nil {
		h.logger.Error("revoke token failed", zap.Error(err))
		Error(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
