package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/crucial707/juport/internal/dispatch"
	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/notebook"
	"github.com/crucial707/juport/internal/repo"
	"github.com/crucial707/juport/internal/scheduler"
)

var scheduleCols = []string{"id", "name", "notebook_path", "cron_expr", "timezone", "active", "variables", "artifacts", "last_run_at", "next_run_at", "created_at", "updated_at"}

var fixedNow = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func newNotebookStore(t *testing.T, names ...string) *notebook.Store {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, filepath.FromSlash(n))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(`{"cells":[],"metadata":{},"nbformat":4,"nbformat_minor":5}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := notebook.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

type fakeTrigger struct {
	exec models.Execution
	err  error
	ids  []int
}

func (f *fakeTrigger) TriggerNow(_ context.Context, id int) (models.Execution, error) {
	f.ids = append(f.ids, id)
	return f.exec, f.err
}

func TestScheduleHandler_ListSchedules(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, name, notebook_path, cron_expr`).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow(1, "weekly", "weekly.ipynb", "0 9 * * 1", "UTC", true, []byte(`{}`), []byte(`{"files":[]}`), nil, now, now, now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM schedules`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	h := &ScheduleHandler{Repo: repo.NewScheduleRepo(db), Log: discard}

	req := httptest.NewRequest("GET", "/schedules", nil)
	rr := httptest.NewRecorder()
	h.ListSchedules(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("ListSchedules status: got %d, want 200", rr.Code)
	}
	var listResp struct {
		Items []models.Schedule `json:"items"`
		Total int               `json:"total"`
		Limit int               `json:"limit"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&listResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(listResp.Items) != 1 || listResp.Items[0].NotebookPath != "weekly.ipynb" || listResp.Total != 1 || listResp.Limit != 50 {
		t.Errorf("unexpected list: %+v", listResp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestScheduleHandler_ListSchedules_QueryParams(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM schedules ORDER BY id DESC`).
		WithArgs(10, 20).
		WillReturnRows(sqlmock.NewRows(scheduleCols))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM schedules`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	h := &ScheduleHandler{Repo: repo.NewScheduleRepo(db), Log: discard}

	req := httptest.NewRequest("GET", "/schedules?limit=10&offset=20", nil)
	rr := httptest.NewRecorder()
	h.ListSchedules(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("ListSchedules status: got %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"items":[]`) {
		t.Errorf("expected empty items array, got %s", rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestScheduleHandler_GetSchedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM schedules WHERE id = \$1`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow(1, "weekly", "weekly.ipynb", "0 9 * * 1", "UTC", true, []byte(`{"days":7}`), []byte(`{"files":[]}`), nil, nil, now, now))

	h := &ScheduleHandler{Repo: repo.NewScheduleRepo(db), Log: discard}

	req := requestWithChiURLParams("GET", "/schedules/1", nil, map[string]string{"id": "1"})
	rr := httptest.NewRecorder()
	h.GetSchedule(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("GetSchedule status: got %d, want 200", rr.Code)
	}
	var s models.Schedule
	if err := json.NewDecoder(rr.Body).Decode(&s); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if s.ID != 1 || s.CronExpr != "0 9 * * 1" || s.Variables["days"] != float64(7) {
		t.Errorf("unexpected schedule: %+v", s)
	}
}

func TestScheduleHandler_GetSchedule_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM schedules WHERE id = \$1`).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows(scheduleCols))

	h := &ScheduleHandler{Repo: repo.NewScheduleRepo(db), Log: discard}
	req := requestWithChiURLParams("GET", "/schedules/99", nil, map[string]string{"id": "99"})
	rr := httptest.NewRecorder()
	h.GetSchedule(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("GetSchedule status: got %d, want 404", rr.Code)
	}
}

func TestScheduleHandler_GetSchedule_InvalidID(t *testing.T) {
	h := &ScheduleHandler{Log: discard}
	req := requestWithChiURLParams("GET", "/schedules/abc", nil, map[string]string{"id": "abc"})
	rr := httptest.NewRecorder()
	h.GetSchedule(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("GetSchedule status: got %d, want 400", rr.Code)
	}
}

func TestScheduleHandler_CreateSchedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	next := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO schedules`).
		WithArgs("Morning report", "reports/daily.ipynb", "0 9 * * *", "UTC", true, `{"days":7}`, `{"files":[{"name":"out.csv"}]}`, next).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(3, fixedNow, fixedNow))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs("anonymous", "create", "schedule", 3, "Morning report").
		WillReturnResult(sqlmock.NewResult(1, 1))

	h := &ScheduleHandler{
		Repo:      repo.NewScheduleRepo(db),
		AuditRepo: repo.NewAuditRepo(db),
		Notebooks: newNotebookStore(t, "reports/daily.ipynb"),
		Log:       discard,
		Now:       func() time.Time { return fixedNow },
	}

	body := []byte(`{"name":"Morning report","notebook_path":"reports/daily.ipynb","cron_expr":"0 9 * * *",
		"variables":{"days":7},"artifacts":{"files":[{"name":"out.csv"}]}}`)
	req := httptest.NewRequest("POST", "/schedules", strings.NewReader(string(body)))
	rr := httptest.NewRecorder()
	h.CreateSchedule(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("CreateSchedule status: got %d, want 201; body %s", rr.Code, rr.Body.String())
	}
	var s models.Schedule
	if err := json.NewDecoder(rr.Body).Decode(&s); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if s.ID != 3 || !s.Active || s.NextRunAt == nil || !s.NextRunAt.Equal(next) {
		t.Errorf("unexpected schedule: %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestScheduleHandler_CreateSchedule_RejectsBeforeStore(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"invalid cron", `{"name":"x","notebook_path":"daily.ipynb","cron_expr":"99 99 * * *"}`, "cron_expr"},
		{"missing cron", `{"name":"x","notebook_path":"daily.ipynb"}`, "cron_expr"},
		{"unknown timezone", `{"name":"x","notebook_path":"daily.ipynb","cron_expr":"@daily","timezone":"Mars/Olympus"}`, "timezone"},
		{"traversal", `{"name":"x","notebook_path":"../secret.ipynb","cron_expr":"@daily"}`, "notebook_path"},
		{"absolute path", `{"name":"x","notebook_path":"/etc/passwd","cron_expr":"@daily"}`, "notebook_path"},
		{"missing notebook", `{"name":"x","notebook_path":"nope.ipynb","cron_expr":"@daily"}`, "notebook_path"},
		{"missing name", `{"notebook_path":"daily.ipynb","cron_expr":"@daily"}`, "name"},
		{"escaping artifact", `{"name":"x","notebook_path":"daily.ipynb","cron_expr":"@daily","artifacts":{"files":[{"name":"../x.csv"}]}}`, "artifacts.files[0].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock.New: %v", err)
			}
			defer db.Close()

			h := &ScheduleHandler{Repo: repo.NewScheduleRepo(db), Notebooks: newNotebookStore(t, "daily.ipynb"), Log: discard}
			req := httptest.NewRequest("POST", "/schedules", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.CreateSchedule(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want 400; body %s", rr.Code, rr.Body.String())
			}
			var resp struct {
				Fields map[string]string `json:"fields"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, ok := resp.Fields[tt.field]; !ok {
				t.Errorf("expected field %q in %v", tt.field, resp.Fields)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("store touched: %v", err)
			}
		})
	}
}

func TestScheduleHandler_CreateSchedule_InvalidJSON(t *testing.T) {
	h := &ScheduleHandler{Log: discard}
	req := httptest.NewRequest("POST", "/schedules", strings.NewReader(`{`))
	rr := httptest.NewRecorder()
	h.CreateSchedule(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

func TestScheduleHandler_UpdateSchedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	then := fixedNow.Add(-24 * time.Hour)
	mock.ExpectQuery(`FROM schedules WHERE id = \$1`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow(2, "old", "daily.ipynb", "@daily", "UTC", true, []byte(`{}`), []byte(`{"files":[]}`), then, nil, then, then))
	mock.ExpectQuery(`UPDATE schedules`).
		WithArgs("new", "daily.ipynb", "30 8 * * *", "Europe/Rome", false, `{}`, `{"files":[]}`, nil, 2).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(fixedNow))

	h := &ScheduleHandler{Repo: repo.NewScheduleRepo(db), Notebooks: newNotebookStore(t, "daily.ipynb"), Log: discard,
		Now: func() time.Time { return fixedNow }}
	body := []byte(`{"name":"new","notebook_path":"daily.ipynb","cron_expr":"30 8 * * *","timezone":"Europe/Rome","active":false,"artifacts":{"files":[]}}`)
	req := requestWithChiURLParams("PUT", "/schedules/2", body, map[string]string{"id": "2"})
	rr := httptest.NewRecorder()
	h.UpdateSchedule(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("UpdateSchedule status: got %d, want 200; body %s", rr.Code, rr.Body.String())
	}
	var s models.Schedule
	if err := json.NewDecoder(rr.Body).Decode(&s); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if s.Active || s.NextRunAt != nil || s.LastRunAt == nil {
		t.Errorf("paused schedule must have no next run and keep its last run: %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestScheduleHandler_ToggleSchedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	next := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM schedules WHERE id = \$1`).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow(4, "r", "daily.ipynb", "0 9 * * *", "UTC", false, []byte(`{}`), []byte(`{"files":[]}`), nil, nil, fixedNow, fixedNow))
	mock.ExpectQuery(`UPDATE schedules`).
		WithArgs("r", "daily.ipynb", "0 9 * * *", "UTC", true, `{}`, `{"files":[]}`, next, 4).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(fixedNow))

	h := &ScheduleHandler{Repo: repo.NewScheduleRepo(db), Log: discard, Now: func() time.Time { return fixedNow }}
	req := requestWithChiURLParams("PUT", "/schedules/4/toggle", nil, map[string]string{"id": "4"})
	rr := httptest.NewRecorder()
	h.ToggleSchedule(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ToggleSchedule status: got %d, want 200; body %s", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestScheduleHandler_DeleteSchedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM schedules WHERE id = \$1`).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := &ScheduleHandler{Repo: repo.NewScheduleRepo(db), Log: discard}
	req := requestWithChiURLParams("DELETE", "/schedules/1", nil, map[string]string{"id": "1"})
	rr := httptest.NewRecorder()
	h.DeleteSchedule(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("DeleteSchedule status: got %d, want 204", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestScheduleHandler_DeleteSchedule_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM schedules WHERE id = \$1`).
		WithArgs(9).
		WillReturnResult(sqlmock.NewResult(0, 0))

	h := &ScheduleHandler{Repo: repo.NewScheduleRepo(db), Log: discard}
	req := requestWithChiURLParams("DELETE", "/schedules/9", nil, map[string]string{"id": "9"})
	rr := httptest.NewRecorder()
	h.DeleteSchedule(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("DeleteSchedule status: got %d, want 404", rr.Code)
	}
}

func TestScheduleHandler_RunSchedule(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"busy", dispatch.ErrScheduleBusy, http.StatusConflict},
		{"unknown", scheduler.ErrScheduleNotFound, http.StatusNotFound},
		{"shutting down", dispatch.ErrShuttingDown, http.StatusServiceUnavailable},
		{"bad path", notebook.ErrInvalidPath, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := &fakeTrigger{exec: models.Execution{ID: 8, Key: "k", Status: models.StatusRunning}, err: tt.err}
			h := &ScheduleHandler{Trigger: trig, Log: discard}
			req := requestWithChiURLParams("POST", "/schedules/5/run", nil, map[string]string{"id": "5"})
			rr := httptest.NewRecorder()
			h.RunSchedule(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d; body %s", rr.Code, tt.want, rr.Body.String())
			}
			if len(trig.ids) != 1 || trig.ids[0] != 5 {
				t.Errorf("trigger ids: %v", trig.ids)
			}
		})
	}
}
