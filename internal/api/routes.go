package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/careerguide/internal/domain"
	"github.com/ashureev/careerguide/internal/identity"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const healthCheckTimeout = 5 * time.Second

// RegisterRoutes mounts every endpoint under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/users/register", h.Register)
		r.Post("/users/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(h.repo))

			r.Get("/users/profile", h.Profile)
			r.Post("/users/logout", h.Logout)

			r.Post("/assessments", h.createRecord(domain.KindAssessment))
			r.Get("/assessments", h.listRecords(domain.KindAssessment))
			r.Get("/assessments/{id}", h.getRecord(domain.KindAssessment))

			r.Post("/skills/evaluate", h.createRecord(domain.KindSkills))
			r.Get("/skills", h.listRecords(domain.KindSkills))

			r.Post("/recommendations/generate", h.createRecord(domain.KindRecommendation))
			r.Get("/recommendations", h.listRecords(domain.KindRecommendation))
			r.Get("/recommendations/{id}", h.getRecord(domain.KindRecommendation))

			r.Post("/chat/stream", h.ChatStream)
		})
	})
}

// Health returns the health status of the API and its database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := map[string]interface{}{
		"status":  "healthy",
		"message": "AI Career Guidance System is running",
		"checks":  map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}
