package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/repo"
)

// AuditHandler serves audit log endpoints.
type AuditHandler struct {
	Repo *repo.AuditRepo
	Log  *slog.Logger
}

// ListAudit returns recent audit log entries, newest first.
// Query: limit, offset, resource_type (schedule|task), resource_id, actor.
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	q := r.URL.Query()
	filter := repo.AuditFilter{ResourceType: q.Get("resource_type"), Actor: q.Get("actor")}
	switch filter.ResourceType {
	case "", models.ResourceSchedule, models.ResourceTask:
	default:
		JSONValidationError(w, "validation failed", map[string]string{"resource_type": "must be schedule or task"}, http.StatusBadRequest)
		return
	}
	if v := q.Get("resource_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 1 {
			JSONValidationError(w, "validation failed", map[string]string{"resource_id": "must be a positive integer"}, http.StatusBadRequest)
			return
		}
		filter.ResourceID = id
	}

	entries, err := h.Repo.List(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
