package models

import "time"

// Schedule is a recurring notebook execution (cron-like) with fixed inputs.
type Schedule struct {
	ID           int            `json:"id"`
	Name         string         `json:"name"`
	NotebookPath string         `json:"notebook_path"`
	CronExpr     string         `json:"cron_expr"`
	Timezone     string         `json:"timezone"`
	Active       bool           `json:"active"`
	Variables    map[string]any `json:"variables,omitempty"`
	Artifacts    ArtifactConfig `json:"artifacts"`
	LastRunAt    *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time     `json:"next_run_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ArtifactConfig lists the files a notebook is expected to produce.
// An empty list means "detect from the notebook source".
type ArtifactConfig struct {
	Files []ExpectedFile `json:"files"`
}

// ExpectedFile is one expected output of a notebook run.
type ExpectedFile struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Names returns the expected file names in declaration order.
func (c ArtifactConfig) Names() []string {
	out := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		out = append(out, f.Name)
	}
	return out
}
