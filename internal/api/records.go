package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ashureev/careerguide/internal/domain"
	"github.com/ashureev/careerguide/internal/identity"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// createRecord stores the request body verbatim as a record of kind.
func (h *Handler) createRecord(kind domain.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := identity.UserFromContext(r.Context())

		var body json.RawMessage
		if !decode(w, r, &body) {
			return
		}
		if len(body) == 0 || body[0] != '{' {
			Error(w, http.StatusBadRequest, "request body must be a JSON object")
			return
		}

		rec := &domain.Record{UserID: user.ID, Kind: kind, Body: body}
		if err := h.repo.CreateRecord(r.Context(), rec); err != nil {
			h.logger.Error("create record failed", zap.Error(err), zap.String("kind", string(kind)))
			Error(w, http.StatusInternalServerError, "failed to save "+string(kind))
			return
		}
		JSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) listRecords(kind domain.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := identity.UserFromContext(r.Context())
		recs, err := h.repo.ListRecords(r.Context(), user.ID, kind)
		if err != nil {
			h.logger.Error("list records failed", zap.Error(err), zap.String("kind", string(kind)))
			Error(w, http.StatusInternalServerError, "failed to list "+string(kind))
			return
		}
		JSON(w, http.StatusOK, recs)
	}
}

func (h *Handler) getRecord(kind domain.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := identity.UserFromContext(r.Context())
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid id")
			return
		}

		rec, err := h.repo.GetRecord(r.Context(), user.ID, kind, id)
		if err != nil {
			h.logger.Error("get record failed", zap.Error(err), zap.String("kind", string(kind)))
			Error(w, http.StatusInternalServerError, "failed to load "+string(kind))
			return
		}
		if rec == nil {
			Error(w, http.StatusNotFound, string(kind)+" not found")
			return
		}
		JSON(w, http.StatusOK, rec)
	}
}
