package models

import "time"

// Notebook is a document available for execution under the notebooks root.
type Notebook struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}
