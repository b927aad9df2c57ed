package handlers

import (
	"log/slog"
	"net/http"

	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/notebook"
	"github.com/crucial707/juport/internal/params"
)

// NotebookHandler lists notebooks and reports their parameters.
type NotebookHandler struct {
	Catalog *notebook.Catalog
	Log     *slog.Logger
}

// ListNotebooks returns every notebook under the notebooks root.
func (h *NotebookHandler) ListNotebooks(w http.ResponseWriter, r *http.Request) {
	list, err := h.Catalog.Store().List()
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	if list == nil {
		list = []models.Notebook{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: list, Total: len(list), Limit: len(list)})
}

// Parameters returns the declared parameters of ?path=, with skipped
// declarations and the output files the source writes.
func (h *NotebookHandler) Parameters(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		JSONValidationError(w, "validation failed", map[string]string{"path": "required"}, http.StatusBadRequest)
		return
	}
	report, err := h.Catalog.Parameters(rel)
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	if report.Params == nil {
		report.Params = []models.Parameter{}
	}
	writeJSON(w, http.StatusOK, struct {
		Path string `json:"path"`
		params.Report
	}{rel, report})
}
