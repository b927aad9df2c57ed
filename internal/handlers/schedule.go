package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/crucial707/juport/internal/middleware"
	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/notebook"
	"github.com/crucial707/juport/internal/repo"
	"github.com/crucial707/juport/internal/scheduler"
	"github.com/crucial707/juport/internal/storage"
)

// ScheduleTrigger runs a schedule outside its cron cadence.
type ScheduleTrigger interface {
	TriggerNow(ctx context.Context, scheduleID int) (models.Execution, error)
}

// ScheduleHandler handles notebook schedule CRUD and manual runs.
type ScheduleHandler struct {
	Repo      *repo.ScheduleRepo
	AuditRepo *repo.AuditRepo
	Notebooks *notebook.Store
	Trigger   ScheduleTrigger
	Log       *slog.Logger
	// Now is time.Now when nil.
	Now func() time.Time
}

type scheduleInput struct {
	Name         string                `json:"name" validate:"required,max=200"`
	NotebookPath string                `json:"notebook_path" validate:"required"`
	CronExpr     string                `json:"cron_expr" validate:"required,cron"`
	Timezone     string                `json:"timezone" validate:"omitempty,tz"`
	Active       *bool                 `json:"active"`
	Variables    map[string]any        `json:"variables"`
	Artifacts    models.ArtifactConfig `json:"artifacts"`
}

func (h *ScheduleHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// ListSchedules returns paginated schedules (query: limit, offset).
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	list, err := h.Repo.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	total, err := h.Repo.Count(r.Context())
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	if list == nil {
		list = []models.Schedule{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: list, Total: total, Limit: limit, Offset: offset})
}

// GetSchedule returns one schedule by id.
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		JSONError(w, "invalid schedule id", http.StatusBadRequest)
		return
	}

	s, err := h.Repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	if s == nil {
		JSONError(w, "schedule not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// CreateSchedule creates a schedule. Body: {"name", "notebook_path", "cron_expr",
// "timezone", "active", "variables", "artifacts"}. Invalid input never reaches
// the store.
func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var input scheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeDecodeError(w, err)
		return
	}
	if fields := h.check(input); len(fields) > 0 {
		JSONValidationError(w, "validation failed", fields, http.StatusBadRequest)
		return
	}

	s := models.Schedule{Active: true}
	h.apply(&s, input)
	if err := h.Repo.Create(r.Context(), &s); err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	h.audit(r, models.AuditCreate, s.ID, s.Name)
	writeJSON(w, http.StatusCreated, s)
}

// UpdateSchedule replaces the editable fields of a schedule. Same body as create.
func (h *ScheduleHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		JSONError(w, "invalid schedule id", http.StatusBadRequest)
		return
	}

	var input scheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeDecodeError(w, err)
		return
	}
	if fields := h.check(input); len(fields) > 0 {
		JSONValidationError(w, "validation failed", fields, http.StatusBadRequest)
		return
	}

	s, err := h.Repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	if s == nil {
		JSONError(w, "schedule not found", http.StatusNotFound)
		return
	}
	h.apply(s, input)
	if err := h.Repo.Update(r.Context(), s); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			JSONError(w, "schedule not found", http.StatusNotFound)
			return
		}
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	h.audit(r, models.AuditUpdate, s.ID, s.Name)
	writeJSON(w, http.StatusOK, s)
}

// ToggleSchedule flips the active flag. Pausing clears the next run time.
func (h *ScheduleHandler) ToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		JSONError(w, "invalid schedule id", http.StatusBadRequest)
		return
	}
	s, err := h.Repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	if s == nil {
		JSONError(w, "schedule not found", http.StatusNotFound)
		return
	}
	s.Active = !s.Active
	s.NextRunAt = h.nextRun(*s)
	if err := h.Repo.Update(r.Context(), s); err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	action := models.AuditPause
	if s.Active {
		action = models.AuditResume
	}
	h.audit(r, action, s.ID, s.Name)
	writeJSON(w, http.StatusOK, s)
}

// DeleteSchedule deletes a schedule. Its executions are kept.
func (h *ScheduleHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		JSONError(w, "invalid schedule id", http.StatusBadRequest)
		return
	}

	if err := h.Repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			JSONError(w, "schedule not found", http.StatusNotFound)
			return
		}
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	h.audit(r, models.AuditDelete, id, "")
	w.WriteHeader(http.StatusNoContent)
}

// RunSchedule starts an execution of the schedule now. 409 when one is
// already in flight.
func (h *ScheduleHandler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		JSONError(w, "invalid schedule id", http.StatusBadRequest)
		return
	}
	exec, err := h.Trigger.TriggerNow(r.Context(), id)
	if err != nil {
		writeError(w, r, loggerOr(h.Log), err)
		return
	}
	h.audit(r, models.AuditRun, id, exec.Key)
	writeJSON(w, http.StatusAccepted, exec)
}

// check validates input without touching the store.
func (h *ScheduleHandler) check(in scheduleInput) map[string]string {
	fields := map[string]string{}
	if err := validate.Struct(in); err != nil {
		fields = validationFields(err)
	}
	if _, ok := fields["notebook_path"]; !ok && h.Notebooks != nil {
		if msg := h.notebookProblem(in.NotebookPath); msg != "" {
			fields["notebook_path"] = msg
		}
	}
	for i, f := range in.Artifacts.Files {
		key := fmt.Sprintf("artifacts.files[%d].name", i)
		name := strings.TrimSpace(f.Name)
		switch {
		case name == "":
			fields[key] = "required"
		default:
			if _, err := storage.CleanKey(name); err != nil {
				fields[key] = "must be a relative path inside the workspace"
			}
		}
	}
	return fields
}

func (h *ScheduleHandler) notebookProblem(rel string) string {
	full, err := h.Notebooks.Resolve(rel)
	if err != nil {
		return err.Error()
	}
	if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
		return "notebook not found"
	}
	return ""
}

func (h *ScheduleHandler) apply(s *models.Schedule, in scheduleInput) {
	s.Name = strings.TrimSpace(in.Name)
	s.NotebookPath = in.NotebookPath
	s.CronExpr = strings.TrimSpace(in.CronExpr)
	s.Timezone = in.Timezone
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if in.Active != nil {
		s.Active = *in.Active
	}
	s.Variables = in.Variables
	s.Artifacts = in.Artifacts
	s.NextRunAt = h.nextRun(*s)
}

func (h *ScheduleHandler) nextRun(s models.Schedule) *time.Time {
	if !s.Active {
		return nil
	}
	fires, err := scheduler.NextFires(s.CronExpr, s.Timezone, h.now(), 1)
	if err != nil || len(fires) == 0 {
		return nil
	}
	next := fires[0].UTC()
	return &next
}

func (h *ScheduleHandler) audit(r *http.Request, action string, id int, details string) {
	if h.AuditRepo == nil {
		return
	}
	actor := middleware.Actor(r.Context())
	if err := h.AuditRepo.Log(r.Context(), actor, action, models.ResourceSchedule, id, details); err != nil {
		loggerOr(h.Log).WarnContext(r.Context(), "audit log failed", "action", action, "schedule_id", id, "error", err)
	}
}

// writeDecodeError answers 413 for oversized bodies and 400 otherwise.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		JSONError(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	JSONError(w, "invalid JSON", http.StatusBadRequest)
}
