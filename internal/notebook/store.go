// Package notebook resolves and lists notebooks under a configured root.
// Every path handed to the engine passes through Store.Resolve, which confines
// it to the root.
package notebook

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crucial707/juport/internal/models"
)

// Extension is the notebook file extension.
const Extension = ".ipynb"

const checkpointsDir = ".ipynb_checkpoints"

var (
	// ErrInvalidPath is returned for absolute paths, traversal segments or
	// paths that leave the root.
	ErrInvalidPath = errors.New("invalid notebook path")
	// ErrNotFound is returned when a valid path names no notebook.
	ErrNotFound = errors.New("notebook not found")
)

// Store gives access to the notebooks below Root.
type Store struct {
	Root string
}

// NewStore returns a Store rooted at root (made absolute).
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("notebook root: %w", err)
	}
	return &Store{Root: abs}, nil
}

// Resolve maps a relative notebook path to an absolute path below the root.
// It does not check that the file exists.
func (s *Store) Resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" || strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	slashed := filepath.ToSlash(rel)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, rel)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q contains a parent segment", ErrInvalidPath, rel)
		}
	}

	full := filepath.Join(s.Root, filepath.FromSlash(slashed))
	inside, err := filepath.Rel(s.Root, full)
	if err != nil || inside == "." || strings.HasPrefix(inside, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return full, nil
}

// Read returns the content of a notebook.
func (s *Store) Read(rel string) ([]byte, error) {
	full, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	return data, err
}

// List returns every notebook below the root, sorted by path. Checkpoint
// copies are skipped.
func (s *Store) List() ([]models.Notebook, error) {
	var list []models.Notebook
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.Root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == checkpointsDir {
				return fs.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != Extension {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		list = append(list, models.Notebook{
			Name:       strings.TrimSuffix(d.Name(), Extension),
			Path:       filepath.ToSlash(rel),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	return list, nil
}
