package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crucial707/juport/internal/models"
)

const scheduleColumns = `id, name, notebook_path, cron_expr, timezone, active, variables, artifacts, last_run_at, next_run_at, created_at, updated_at`

// ScheduleRepo persists notebook schedules.
type ScheduleRepo struct {
	DB *sql.DB
}

// NewScheduleRepo returns a new ScheduleRepo.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo {
	return &ScheduleRepo{DB: db}
}

func scanSchedule(row rowScanner) (models.Schedule, error) {
	var s models.Schedule
	var vars, arts []byte
	var lastRun, nextRun sql.NullTime
	if err := row.Scan(&s.ID, &s.Name, &s.NotebookPath, &s.CronExpr, &s.Timezone, &s.Active,
		&vars, &arts, &lastRun, &nextRun, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &s.Variables); err != nil {
			return s, fmt.Errorf("schedule %d variables: %w", s.ID, err)
		}
	}
	if len(arts) > 0 {
		if err := json.Unmarshal(arts, &s.Artifacts); err != nil {
			return s, fmt.Errorf("schedule %d artifacts: %w", s.ID, err)
		}
	}
	if lastRun.Valid {
		s.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		s.NextRunAt = &nextRun.Time
	}
	return s, nil
}

func (r *ScheduleRepo) query(ctx context.Context, query string, args ...any) ([]models.Schedule, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Count returns the total number of schedules.
func (r *ScheduleRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schedules").Scan(&n)
	return n, err
}

// List returns schedules, most recent first. limit/offset for pagination.
func (r *ScheduleRepo) List(ctx context.Context, limit, offset int) ([]models.Schedule, error) {
	return r.query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
}

// ListActive returns all active schedules (for the scheduler tick).
func (r *ScheduleRepo) ListActive(ctx context.Context) ([]models.Schedule, error) {
	return r.query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE active = true ORDER BY id`)
}

// GetByID returns one schedule by id, or nil if not found.
func (r *ScheduleRepo) GetByID(ctx context.Context, id int) (*models.Schedule, error) {
	s, err := scanSchedule(r.DB.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts s and sets its id and timestamps.
func (r *ScheduleRepo) Create(ctx context.Context, s *models.Schedule) error {
	vars, err := jsonParam(variablesOrEmpty(s.Variables))
	if err != nil {
		return err
	}
	arts, err := jsonParam(s.Artifacts)
	if err != nil {
		return err
	}
	return r.DB.QueryRowContext(ctx,
		`INSERT INTO schedules (name, notebook_path, cron_expr, timezone, active, variables, artifacts, next_run_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		s.Name, s.NotebookPath, s.CronExpr, s.Timezone, s.Active, vars, arts, s.NextRunAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// Update replaces the editable fields of s. The fire bookkeeping is kept.
func (r *ScheduleRepo) Update(ctx context.Context, s *models.Schedule) error {
	vars, err := jsonParam(variablesOrEmpty(s.Variables))
	if err != nil {
		return err
	}
	arts, err := jsonParam(s.Artifacts)
	if err != nil {
		return err
	}
	err = r.DB.QueryRowContext(ctx,
		`UPDATE schedules
		 SET name = $1, notebook_path = $2, cron_expr = $3, timezone = $4, active = $5,
		     variables = $6, artifacts = $7, next_run_at = $8, updated_at = NOW()
		 WHERE id = $9
		 RETURNING updated_at`,
		s.Name, s.NotebookPath, s.CronExpr, s.Timezone, s.Active, vars, arts, s.NextRunAt, s.ID,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Delete removes a schedule by id. Its executions keep their history.
func (r *ScheduleRepo) Delete(ctx context.Context, id int) error {
	return affected(r.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id))
}

// MarkFired records that the schedule fired for the window at firedAt.
func (r *ScheduleRepo) MarkFired(ctx context.Context, id int, firedAt time.Time, next *time.Time) error {
	return affected(r.DB.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = $1, next_run_at = $2 WHERE id = $3`,
		firedAt, next, id,
	))
}

func variablesOrEmpty(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
