package notebook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crucial707/juport/internal/params"
)

// Catalog caches parameter scans per notebook. An entry is reused while the
// file's size and modification time are unchanged; Watch drops entries as soon
// as the filesystem reports a change.
type Catalog struct {
	store *Store
	log   *slog.Logger

	mu    sync.Mutex
	cache map[string]scanEntry
}

type scanEntry struct {
	modTime time.Time
	size    int64
	report  params.Report
}

// NewCatalog returns a Catalog over store.
func NewCatalog(store *Store, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{store: store, log: log, cache: make(map[string]scanEntry)}
}

// Store returns the underlying document store.
func (c *Catalog) Store() *Store { return c.store }

// Parameters returns the scan report of a notebook.
func (c *Catalog) Parameters(rel string) (params.Report, error) {
	full, err := c.store.Resolve(rel)
	if err != nil {
		return params.Report{}, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return params.Report{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return params.Report{}, err
	}

	c.mu.Lock()
	e, ok := c.cache[full]
	c.mu.Unlock()
	if ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.report, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return params.Report{}, err
	}
	report, err := params.ScanNotebook(data)
	if err != nil {
		return params.Report{}, fmt.Errorf("scan %s: %w", rel, err)
	}
	for _, d := range report.Skipped {
		c.log.Warn("skipped parameter declaration", "notebook", rel, "cell", d.Cell, "line", d.Line, "error", d.Err)
	}

	c.mu.Lock()
	c.cache[full] = scanEntry{modTime: info.ModTime(), size: info.Size(), report: report}
	c.mu.Unlock()
	return report, nil
}

// Invalidate drops the cached scan of an absolute path.
func (c *Catalog) Invalidate(full string) {
	c.mu.Lock()
	delete(c.cache, full)
	c.mu.Unlock()
}

// Cached reports the number of cached scans.
func (c *Catalog) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Watch invalidates cache entries on filesystem events until ctx is done.
// Directories created under the root are watched as they appear.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("notebook watch: %w", err)
	}
	defer w.Close()

	if err := c.watchTree(w, c.store.Root); err != nil {
		return err
	}
	c.log.Info("watching notebooks", "root", c.store.Root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.Invalidate(ev.Name)
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := c.watchTree(w, ev.Name); err != nil {
						c.log.Warn("notebook watch add failed", "dir", ev.Name, "error", err)
					}
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("notebook watch error", "error", err)
			c.mu.Lock()
			c.cache = make(map[string]scanEntry)
			c.mu.Unlock()
		}
	}
}

func (c *Catalog) watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == checkpointsDir {
			return fs.SkipDir
		}
		return w.Add(path)
	})
}
