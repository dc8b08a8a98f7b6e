// Package api provides HTTP handlers for the career guidance API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/careerguide/internal/assistant"
	"github.com/ashureev/careerguide/internal/store"
	"go.uber.org/zap"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo      store.Repository
	responder assistant.Responder
	tokenTTL  time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, responder assistant.Responder, tokenTTL time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if responder == nil {
		responder = assistant.Canned{}
	}
	return &Handler{
		repo:      repo,
		responder: responder,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response in the {"detail": "..."} shape.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"detail": message})
}

// decode reads a JSON request body of at most defaultMaxRequestBodySize.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
