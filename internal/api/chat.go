package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/careerguide/internal/identity"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type chatRequest struct {
	Message string `json:"message"`
}

// ChatStream streams the assistant's reply as a chunked text/plain body,
// flushing after every fragment. A failure after the first fragment aborts
// the connection so the client sees a broken stream rather than a short one.
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())

	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	log := h.logger.With(
		zap.Int64("user_id", user.ID),
		zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
	)
	log.Info("chat request", zap.Int("message_length", len(req.Message)))

	started := false
	chunks := 0
	for part, err := range h.responder.Stream(r.Context(), req.Message) {
		if err != nil {
			if r.Context().Err() != nil {
				log.Debug("chat client went away", zap.Int("chunks", chunks))
				return
			}
			log.Error("chat stream failed", zap.Error(err), zap.Int("chunks", chunks))
			if !started {
				Error(w, http.StatusBadGateway, "assistant unavailable")
				return
			}
			panic(http.ErrAbortHandler)
		}

		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, part); err != nil {
			log.Warn("failed to write chat chunk", zap.Error(err))
			return
		}
		flusher.Flush()
		chunks++
	}

	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
	log.Info("chat stream finished", zap.Int("chunks", chunks))
}
