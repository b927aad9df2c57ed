package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/crucial707/juport/internal/models"
)

// AuditRepo persists audit log entries.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo returns a new AuditRepo.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// AuditFilter narrows List. Zero values match everything.
type AuditFilter struct {
	ResourceType string
	ResourceID   int
	Actor        string
}

func (f AuditFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.ResourceType != "" {
		add("resource_type", f.ResourceType)
	}
	if f.ResourceID > 0 {
		add("resource_id", f.ResourceID)
	}
	if f.Actor != "" {
		add("actor", f.Actor)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Log records an audit entry.
func (r *AuditRepo) Log(ctx context.Context, actor, action, resourceType string, resourceID int, details string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, resource_type, resource_id, details) VALUES ($1, $2, $3, $4, $5)`,
		actor, action, resourceType, resourceID, nullString(details),
	)
	return err
}

// List returns matching audit entries, newest first.
func (r *AuditRepo) List(ctx context.Context, f AuditFilter, limit, offset int) ([]models.AuditEntry, error) {
	where, args := f.where()
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, actor, action, resource_type, resource_id, COALESCE(details,''), created_at FROM audit_log%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			where, n+1, n+2),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.ResourceType, &e.ResourceID, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
