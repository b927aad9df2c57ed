package models

import "time"

// Audit actions.
const (
	AuditCreate = "create"
	AuditUpdate = "update"
	AuditDelete = "delete"
	AuditPause  = "pause"
	AuditResume = "resume"
	AuditRun    = "run"
)

// Audited resource types.
const (
	ResourceSchedule = "schedule"
	ResourceTask     = "task"
)

// AuditEntry records who changed a schedule or started a run.
type AuditEntry struct {
	ID           int       `json:"id"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   int       `json:"resource_id"`
	Details      string    `json:"details,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
