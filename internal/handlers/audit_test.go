package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/repo"
)

func TestAuditHandler_ListAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM audit_log ORDER BY created_at DESC`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor", "action", "resource_type", "resource_id", "details", "created_at"}).
			AddRow(1, "alice", "create", "schedule", 3, "Morning report", now))

	h := &AuditHandler{Repo: repo.NewAuditRepo(db), Log: discard}
	rr := httptest.NewRecorder()
	h.ListAudit(rr, httptest.NewRequest("GET", "/audit?limit=10", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var entries []models.AuditEntry
	if err := json.NewDecoder(rr.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != "alice" || entries[0].ResourceID != 3 {
		t.Errorf("unexpected entries: %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestAuditHandler_ListAudit_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`FROM audit_log`).WillReturnError(sqlmock.ErrCancelled)

	h := &AuditHandler{Repo: repo.NewAuditRepo(db), Log: discard}
	rr := httptest.NewRecorder()
	h.ListAudit(rr, httptest.NewRequest("GET", "/audit", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rr.Code)
	}
	if body := rr.Body.String(); body != "{\"error\":\"internal server error\"}\n" {
		t.Errorf("body leaks details: %s", body)
	}
}

func TestAuditHandler_ListAudit_Filtered(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM audit_log WHERE resource_type = \$1 AND resource_id = \$2 ORDER BY`).
		WithArgs("schedule", 3, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor", "action", "resource_type", "resource_id", "details", "created_at"}))

	h := &AuditHandler{Repo: repo.NewAuditRepo(db), Log: discard}
	rr := httptest.NewRecorder()
	h.ListAudit(rr, httptest.NewRequest("GET", "/audit?resource_type=schedule&resource_id=3", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("body: got %q, want empty array", body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestAuditHandler_ListAudit_BadFilter(t *testing.T) {
	h := &AuditHandler{Log: discard}
	for _, q := range []string{"resource_type=asset", "resource_id=abc", "resource_id=0"} {
		rr := httptest.NewRecorder()
		h.ListAudit(rr, httptest.NewRequest("GET", "/audit?"+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status got %d, want 400", q, rr.Code)
		}
	}
}
