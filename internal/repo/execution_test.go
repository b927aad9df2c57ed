package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/crucial707/juport/internal/models"
)

var executionCols = []string{"id", "execution_key", "schedule_id", "notebook_path", "triggered_by", "status", "started_at", "finished_at", "html_output", "artifacts", "error", "log", "cleanup_error"}

func TestExecutionRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	started := time.Now().UTC()
	sid := 3
	mock.ExpectQuery(`INSERT INTO executions`).
		WithArgs("k1", 3, "weekly.ipynb", models.TriggerSchedule, models.StatusRunning, started).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	e := &models.Execution{Key: "k1", ScheduleID: &sid, NotebookPath: "weekly.ipynb", Trigger: models.TriggerSchedule, Status: models.StatusRunning, StartedAt: started}
	if err := NewExecutionRepo(db).Create(context.Background(), e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.ID != 11 {
		t.Errorf("id = %d, want 11", e.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestExecutionRepo_Create_Manual(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	started := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO executions`).
		WithArgs("k2", nil, "adhoc.ipynb", models.TriggerManual, models.StatusRunning, started).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))

	e := &models.Execution{Key: "k2", NotebookPath: "adhoc.ipynb", Trigger: models.TriggerManual, Status: models.StatusRunning, StartedAt: started}
	if err := NewExecutionRepo(db).Create(context.Background(), e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestExecutionRepo_Finalize(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	finished := time.Now().UTC()
	out := models.Outcome{
		Status:     models.StatusSucceeded,
		FinishedAt: finished,
		HTMLOutput: "executions/weekly/k1/weekly.html",
		Artifacts:  []models.Artifact{{Name: "weekly.html", Ref: "executions/weekly/k1/weekly.html", Kind: models.ArtifactRendered, Size: 10}},
		Log:        "ok",
	}
	mock.ExpectExec(`UPDATE executions\s+SET status = \$1.*WHERE id = \$8 AND status = 'running'`).
		WithArgs(models.StatusSucceeded, finished, out.HTMLOutput,
			`[{"name":"weekly.html","ref":"executions/weekly/k1/weekly.html","kind":"rendered","size":10}]`,
			nil, "ok", nil, 11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE executions`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	r := NewExecutionRepo(db)
	if err := r.Finalize(context.Background(), 11, out); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := r.Finalize(context.Background(), 11, out); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Finalize: expected ErrNotRunning, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestExecutionRepo_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	started := time.Now().Add(-time.Minute)
	finished := time.Now()
	mock.ExpectQuery(`FROM executions WHERE id = \$1`).
		WithArgs(11).
		WillReturnRows(sqlmock.NewRows(executionCols).
			AddRow(11, "k1", 3, "weekly.ipynb", "schedule", "succeeded", started, finished,
				"executions/weekly/k1/weekly.html", []byte(`[{"name":"out.csv","ref":"executions/weekly/k1/out.csv","kind":"output","size":4}]`),
				"", "log text", ""))

	e, err := NewExecutionRepo(db).GetByID(context.Background(), 11)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if e == nil || e.Key != "k1" || e.ScheduleID == nil || *e.ScheduleID != 3 || e.FinishedAt == nil {
		t.Fatalf("unexpected execution: %+v", e)
	}
	a, ok := e.Artifact("out.csv")
	if !ok || a.Ref != "executions/weekly/k1/out.csv" || a.Size != 4 {
		t.Errorf("artifact: %+v %v", a, ok)
	}
	if e.Log != "log text" || !e.Terminal() {
		t.Errorf("unexpected execution: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestExecutionRepo_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM executions WHERE id = \$1`).WithArgs(5).WillReturnError(sql.ErrNoRows)
	e, err := NewExecutionRepo(db).GetByID(context.Background(), 5)
	if err != nil || e != nil {
		t.Errorf("expected nil, nil; got %+v, %v", e, err)
	}
}

func TestExecutionRepo_ListBySchedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM executions WHERE schedule_id = \$1 ORDER BY id DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(3, 20, 0).
		WillReturnRows(sqlmock.NewRows(executionCols).
			AddRow(12, "k2", 3, "weekly.ipynb", "schedule", "running", now, nil, "", nil, "", "", "").
			AddRow(11, "k1", 3, "weekly.ipynb", "schedule", "failed", now, now, "", nil, "boom", "", ""))

	list, err := NewExecutionRepo(db).ListBySchedule(context.Background(), 3, 20, 0)
	if err != nil {
		t.Fatalf("ListBySchedule: %v", err)
	}
	if len(list) != 2 || list[0].Status != "running" || list[0].FinishedAt != nil || list[1].Error != "boom" {
		t.Errorf("unexpected list: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestExecutionRepo_FailRunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE executions SET status = 'failed'`).
		WithArgs("interrupted by restart").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewExecutionRepo(db).FailRunning(context.Background(), "interrupted by restart")
	if err != nil || n != 2 {
		t.Errorf("FailRunning = %d, %v", n, err)
	}
}

func TestExecutionRepo_CountBySchedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM executions WHERE schedule_id = \$1`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := NewExecutionRepo(db).CountBySchedule(context.Background(), 3)
	if err != nil || n != 7 {
		t.Errorf("CountBySchedule = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}
