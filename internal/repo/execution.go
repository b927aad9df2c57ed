package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crucial707/juport/internal/models"
)

// ErrNotRunning is returned by Finalize when the execution is already terminal.
var ErrNotRunning = errors.New("execution is not running")

const executionColumns = `id, execution_key, schedule_id, notebook_path, triggered_by, status, started_at, finished_at,
	COALESCE(html_output, ''), artifacts, COALESCE(error, ''), COALESCE(log, ''), COALESCE(cleanup_error, '')`

// Lists leave out the captured log.
const executionSummaryColumns = `id, execution_key, schedule_id, notebook_path, triggered_by, status, started_at, finished_at,
	COALESCE(html_output, ''), artifacts, COALESCE(error, ''), '', COALESCE(cleanup_error, '')`

// ExecutionRepo persists execution records.
type ExecutionRepo struct {
	DB *sql.DB
}

// NewExecutionRepo returns a new ExecutionRepo.
func NewExecutionRepo(db *sql.DB) *ExecutionRepo {
	return &ExecutionRepo{DB: db}
}

func scanExecution(row rowScanner) (models.Execution, error) {
	var e models.Execution
	var scheduleID sql.NullInt64
	var finishedAt sql.NullTime
	var arts []byte
	if err := row.Scan(&e.ID, &e.Key, &scheduleID, &e.NotebookPath, &e.Trigger, &e.Status, &e.StartedAt,
		&finishedAt, &e.HTMLOutput, &arts, &e.Error, &e.Log, &e.CleanupError); err != nil {
		return e, err
	}
	if scheduleID.Valid {
		id := int(scheduleID.Int64)
		e.ScheduleID = &id
	}
	if finishedAt.Valid {
		e.FinishedAt = &finishedAt.Time
	}
	if len(arts) > 0 {
		if err := json.Unmarshal(arts, &e.Artifacts); err != nil {
			return e, fmt.Errorf("execution %d artifacts: %w", e.ID, err)
		}
	}
	return e, nil
}

// Create inserts a running execution and sets its id.
func (r *ExecutionRepo) Create(ctx context.Context, e *models.Execution) error {
	return r.DB.QueryRowContext(ctx,
		`INSERT INTO executions (execution_key, schedule_id, notebook_path, triggered_by, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		e.Key, e.ScheduleID, e.NotebookPath, e.Trigger, e.Status, e.StartedAt,
	).Scan(&e.ID)
}

// Finalize stores the outcome of a running execution. An execution is
// finalized at most once; later calls return ErrNotRunning.
func (r *ExecutionRepo) Finalize(ctx context.Context, id int, o models.Outcome) error {
	var arts any
	if len(o.Artifacts) > 0 {
		var err error
		if arts, err = jsonParam(o.Artifacts); err != nil {
			return err
		}
	}
	err := affected(r.DB.ExecContext(ctx,
		`UPDATE executions
		 SET status = $1, finished_at = $2, html_output = $3, artifacts = $4, error = $5, log = $6, cleanup_error = $7
		 WHERE id = $8 AND status = 'running'`,
		o.Status, o.FinishedAt, nullString(o.HTMLOutput), arts, nullString(o.Error), nullString(o.Log),
		nullString(o.CleanupError), id,
	))
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrNotRunning, id)
	}
	return err
}

// GetByID returns an execution by id, or nil if not found.
func (r *ExecutionRepo) GetByID(ctx context.Context, id int) (*models.Execution, error) {
	e, err := scanExecution(r.DB.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *ExecutionRepo) query(ctx context.Context, query string, args ...any) ([]models.Execution, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// Count returns the total number of executions.
func (r *ExecutionRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&n)
	return n, err
}

// CountBySchedule returns the number of executions of one schedule.
func (r *ExecutionRepo) CountBySchedule(ctx context.Context, scheduleID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions WHERE schedule_id = $1", scheduleID).Scan(&n)
	return n, err
}

// List returns recent executions, newest first, without logs.
func (r *ExecutionRepo) List(ctx context.Context, limit, offset int) ([]models.Execution, error) {
	return r.query(ctx,
		`SELECT `+executionSummaryColumns+` FROM executions ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
}

// ListBySchedule returns a schedule's executions, newest first, without logs.
func (r *ExecutionRepo) ListBySchedule(ctx context.Context, scheduleID, limit, offset int) ([]models.Execution, error) {
	return r.query(ctx,
		`SELECT `+executionSummaryColumns+` FROM executions WHERE schedule_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		scheduleID, limit, offset,
	)
}

// FailRunning marks executions left running by a previous process as failed.
func (r *ExecutionRepo) FailRunning(ctx context.Context, reason string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE executions SET status = 'failed', finished_at = NOW(), error = $1 WHERE status = 'running'`,
		reason,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
