package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crucial707/juport/internal/middleware"
	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/repo"
	"github.com/crucial707/juport/internal/storage"
)

// ExecutionHandler serves execution history and the files runs produced.
type ExecutionHandler struct {
	Repo      *repo.ExecutionRepo
	Artifacts storage.Store
	Log       *slog.Logger
}

// ==========================
// List Executions
// ==========================

// ListExecutions returns executions newest first. Query: limit, offset and
// an optional schedule_id.
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	var (
		list  []models.Execution
		total int
		err   error
	)
	if s := r.URL.Query().Get("schedule_id"); s != "" {
		scheduleID, convErr := strconv.Atoi(s)
		if convErr != nil {
			JSONError(w, "invalid schedule_id", http.StatusBadRequest)
			return
		}
		list, err = h.Repo.ListBySchedule(r.Context(), scheduleID, limit, offset)
		if err == nil {
			total, err = h.Repo.CountBySchedule(r.Context(), scheduleID)
		}
	} else {
		list, err = h.Repo.List(r.Context(), limit, offset)
		if err == nil {
			total, err = h.Repo.Count(r.Context())
		}
	}
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	if list == nil {
		list = []models.Execution{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: list, Total: total, Limit: limit, Offset: offset})
}

// ==========================
// Get Execution
// ==========================

func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// ==========================
// Files
// ==========================

// DownloadArtifact streams one recorded artifact. Only names in the
// execution's artifact set are served.
func (h *ExecutionHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.load(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "*")
	a, found := exec.Artifact(name)
	if !found {
		JSONError(w, "artifact not found", http.StatusNotFound)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(a.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(a.Name)})
	h.stream(w, r, a.Ref, contentType, func(hdr http.Header) {
		hdr.Set("Content-Disposition", disposition)
		if a.Size > 0 {
			hdr.Set("Content-Length", strconv.FormatInt(a.Size, 10))
		}
	})
}

// RenderedOutput serves the rendered HTML of a successful execution.
func (h *ExecutionHandler) RenderedOutput(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.load(w, r)
	if !ok {
		return
	}
	if exec.HTMLOutput == "" {
		JSONError(w, "execution has no rendered output", http.StatusNotFound)
		return
	}
	h.stream(w, r, exec.HTMLOutput, "text/html; charset=utf-8", func(hdr http.Header) {
		hdr.Set("Content-Security-Policy", middleware.RenderedOutputCSP)
	})
}

func (h *ExecutionHandler) load(w http.ResponseWriter, r *http.Request) (*models.Execution, bool) {
	id, err := idParam(r)
	if err != nil {
		JSONError(w, "invalid execution id", http.StatusBadRequest)
		return nil, false
	}
	exec, err := h.Repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return nil, false
	}
	if exec == nil {
		JSONError(w, "execution not found", http.StatusNotFound)
		return nil, false
	}
	return exec, true
}

func (h *ExecutionHandler) stream(w http.ResponseWriter, r *http.Request, ref, contentType string, headers func(http.Header)) {
	rc, err := h.Artifacts.Open(r.Context(), ref)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			JSONError(w, "file no longer available", http.StatusNotFound)
			return
		}
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	headers(w.Header())
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		loggerOr(h.Log).WarnContext(r.Context(), "stream file failed", "ref", ref, "error", err)
	}
}
