// Package tasks accepts ad-hoc notebook runs with uploaded input files.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/crucial707/juport/internal/dispatch"
	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/runner"
)

// ErrInvalidUpload is returned for unusable or duplicate upload names.
var ErrInvalidUpload = errors.New("invalid upload")

// File is an uploaded input file.
type File struct {
	Name    string
	Content io.Reader
}

// Request is an ad-hoc run.
type Request struct {
	NotebookPath string
	Variables    map[string]any
	Artifacts    models.ArtifactConfig
	Files        []File
}

// Dispatcher starts executions and reports pool status.
type Dispatcher interface {
	Dispatch(ctx context.Context, job dispatch.Job) (models.Execution, error)
	Status() dispatch.Status
}

// Resolver validates notebook paths.
type Resolver interface {
	Resolve(rel string) (string, error)
}

// Queue stages uploads and dispatches manual runs.
type Queue struct {
	dispatcher Dispatcher
	notebooks  Resolver
	uploadsDir string
	log        *slog.Logger
	newKey     func() string
}

// NewQueue creates uploadsDir if needed.
func NewQueue(d Dispatcher, notebooks Resolver, uploadsDir string, log *slog.Logger) (*Queue, error) {
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("uploads dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{dispatcher: d, notebooks: notebooks, uploadsDir: uploadsDir, log: log, newKey: uuid.NewString}, nil
}

// Submit stages the request's files and dispatches the run. Staged files are
// removed once the execution is finalized, or right away if dispatch fails.
func (q *Queue) Submit(ctx context.Context, req Request) (models.Execution, error) {
	if _, err := q.notebooks.Resolve(req.NotebookPath); err != nil {
		return models.Execution{}, err
	}
	key := q.newKey()

	staged, uploads, err := q.stage(key, req.Files)
	if err != nil {
		q.remove(staged)
		return models.Execution{}, err
	}

	exec, err := q.dispatcher.Dispatch(ctx, dispatch.Job{
		Key:          key,
		NotebookPath: req.NotebookPath,
		Trigger:      models.TriggerManual,
		Variables:    req.Variables,
		Artifacts:    req.Artifacts,
		Uploads:      uploads,
		OnDone:       func(models.Execution) { q.remove(staged) },
	})
	if err != nil {
		q.remove(staged)
		return models.Execution{}, err
	}
	return exec, nil
}

// Status reports the dispatcher's pool counts.
func (q *Queue) Status() dispatch.Status {
	return q.dispatcher.Status()
}

func (q *Queue) stage(key string, files []File) ([]string, []runner.Upload, error) {
	var staged []string
	var uploads []runner.Upload
	used := make(map[string]bool, len(files))
	for i, f := range files {
		base, err := uploadName(f.Name)
		if err != nil {
			return staged, nil, err
		}
		if used[base] {
			return staged, nil, fmt.Errorf("%w: duplicate file name %q", ErrInvalidUpload, base)
		}
		used[base] = true

		p := filepath.Join(q.uploadsDir, fmt.Sprintf("task_%s_%d_%s", key, i, base))
		if err := writeFile(p, f.Content); err != nil {
			return staged, nil, fmt.Errorf("stage %s: %w", base, err)
		}
		staged = append(staged, p)
		uploads = append(uploads, runner.Upload{Name: base, Path: p})
	}
	return staged, uploads, nil
}

func (q *Queue) remove(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			q.log.Warn("remove staged upload failed", "path", p, "error", err)
		}
	}
}

// uploadName reduces a client supplied name to a plain base name.
func uploadName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == ".." || base == "/" || strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUpload, name)
	}
	return base, nil
}

func writeFile(p string, r io.Reader) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if r != nil {
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			os.Remove(p)
			return err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return err
	}
	return nil
}
