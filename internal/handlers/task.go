package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/crucial707/juport/internal/dispatch"
	"github.com/crucial707/juport/internal/middleware"
	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/repo"
	"github.com/crucial707/juport/internal/tasks"
)

// multipartMemory is how much of a multipart body is kept in memory; the
// rest spills to temporary files.
const multipartMemory = 8 << 20

// TaskQueue accepts ad-hoc runs.
type TaskQueue interface {
	Submit(ctx context.Context, req tasks.Request) (models.Execution, error)
	Status() dispatch.Status
}

// TaskHandler starts manual notebook runs with uploaded files.
type TaskHandler struct {
	Queue     TaskQueue
	AuditRepo *repo.AuditRepo
	Log       *slog.Logger
	// MaxUploadBytes bounds the whole multipart body.
	MaxUploadBytes int64
}

// SubmitTask accepts multipart/form-data with fields notebook_path (required),
// variables (JSON object), artifacts (JSON artifact config) and any number of
// "files" parts. Answers 202 with the running execution.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			JSONError(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		JSONError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := tasks.Request{NotebookPath: r.FormValue("notebook_path")}
	fields := map[string]string{}
	if req.NotebookPath == "" {
		fields["notebook_path"] = "required"
	}
	if v := r.FormValue("variables"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
			fields["variables"] = "must be a JSON object"
		}
	}
	if v := r.FormValue("artifacts"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Artifacts); err != nil {
			fields["artifacts"] = "must be a JSON artifact config"
		}
	}
	if len(fields) > 0 {
		JSONValidationError(w, "validation failed", fields, http.StatusBadRequest)
		return
	}

	files, closeAll, err := openParts(r.MultipartForm.File["files"])
	defer closeAll()
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	req.Files = files

	exec, err := h.Queue.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	if h.AuditRepo != nil {
		if err := h.AuditRepo.Log(r.Context(), middleware.Actor(r.Context()), models.AuditRun, models.ResourceTask, exec.ID, req.NotebookPath); err != nil {
			loggerOr(h.Log).WarnContext(r.Context(), "audit log failed", "execution_id", exec.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusAccepted, exec)
}

// QueueStatus reports pending and running executions.
func (h *TaskHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Queue.Status())
}

func openParts(headers []*multipart.FileHeader) ([]tasks.File, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	files := make([]tasks.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)
		files = append(files, tasks.File{Name: fh.Filename, Content: f})
	}
	return files, closeAll, nil
}
