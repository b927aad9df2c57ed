package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/crucial707/juport/internal/dispatch"
	"github.com/crucial707/juport/internal/notebook"
	"github.com/crucial707/juport/internal/repo"
	"github.com/crucial707/juport/internal/scheduler"
	"github.com/crucial707/juport/internal/storage"
	"github.com/crucial707/juport/internal/tasks"
)

// ErrMessageInternal is the generic message for 500 responses. Do not expose internal details to clients.
const ErrMessageInternal = "internal server error"

// JSONError sends a JSON error response with a single "error" field.
func JSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONValidationError sends a JSON error response with "error" and optional "fields" for field-level details.
// status is typically http.StatusBadRequest (400).
func JSONValidationError(w http.ResponseWriter, message string, fields map[string]string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	out := map[string]interface{}{"error": message}
	if len(fields) > 0 {
		out["fields"] = fields
	}
	json.NewEncoder(w).Encode(out)
}

// statusFor maps engine errors to HTTP status codes. Zero means unknown.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, notebook.ErrInvalidPath),
		errors.Is(err, tasks.ErrInvalidUpload),
		errors.Is(err, scheduler.ErrInvalidCron),
		errors.Is(err, scheduler.ErrInvalidTimezone):
		return http.StatusBadRequest
	case errors.Is(err, notebook.ErrNotFound),
		errors.Is(err, scheduler.ErrScheduleNotFound),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrScheduleBusy):
		return http.StatusConflict
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, dispatch.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return 0
}

// writeError answers with the status mapped from err. Unknown errors are
// logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if status := statusFor(err); status != 0 {
		JSONError(w, err.Error(), status)
		return
	}
	log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	JSONError(w, ErrMessageInternal, http.StatusInternalServerError)
}
