package models

import "time"

// Execution statuses. An execution starts running and is finalized exactly once.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Execution triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Artifact kinds, derived from the file extension at harvest time.
const (
	ArtifactRendered  = "rendered"
	ArtifactGenerated = "generated"
	ArtifactOutput    = "output"
	ArtifactUploaded  = "uploaded"
	ArtifactFile      = "file"
)

// Execution is the append-only record of one notebook run.
type Execution struct {
	ID           int        `json:"id"`
	Key          string     `json:"key"`
	ScheduleID   *int       `json:"schedule_id,omitempty"`
	NotebookPath string     `json:"notebook_path"`
	Trigger      string     `json:"trigger"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	HTMLOutput   string     `json:"html_output,omitempty"`
	Artifacts    []Artifact `json:"artifacts,omitempty"`
	Error        string     `json:"error,omitempty"`
	Log          string     `json:"log,omitempty"`
	CleanupError string     `json:"cleanup_error,omitempty"`
}

// Terminal reports whether the execution has been finalized.
func (e *Execution) Terminal() bool {
	return e.Status == StatusSucceeded || e.Status == StatusFailed
}

// Artifact returns the recorded artifact with the given name.
func (e *Execution) Artifact(name string) (Artifact, bool) {
	for _, a := range e.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

// Artifact is a file produced by an execution, persisted in the artifact store under Ref.
type Artifact struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
	Kind string `json:"kind"`
	Size int64  `json:"size"`
}

// Outcome is what a finished run reports back for finalization.
type Outcome struct {
	Status       string
	FinishedAt   time.Time
	HTMLOutput   string
	Artifacts    []Artifact
	Error        string
	Log          string
	CleanupError string
}
