package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/storage"
)

const reportNotebook = `{
 "cells": [
  {"cell_type": "markdown", "metadata": {}, "source": ["# Weekly report"]},
  {"cell_type": "code", "execution_count": null, "metadata": {}, "outputs": [],
   "source": ["days = 7  # @param {type:\"integer\"}\n", "region = \"eu\"  # @param [\"eu\", \"us\"]\n"]}
 ],
 "metadata": {"kernelspec": {"name": "python3"}},
 "nbformat": 4,
 "nbformat_minor": 5
}`

type fixture struct {
	notebook string
	tempRoot string
	store    *storage.FileStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	nb := filepath.Join(dir, "notebooks", "weekly.ipynb")
	require.NoError(t, os.MkdirAll(filepath.Dir(nb), 0o755))
	require.NoError(t, os.WriteFile(nb, []byte(reportNotebook), 0o644))
	tempRoot := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(tempRoot, 0o755))
	store, err := storage.NewFileStore(filepath.Join(dir, "outputs"))
	require.NoError(t, err)
	return fixture{notebook: nb, tempRoot: tempRoot, store: store}
}

func envValue(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(env[i], key+"="); ok {
			return v, true
		}
	}
	return "", false
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	var seen Invocation
	interp := InterpreterFunc(func(ctx context.Context, inv Invocation) (Output, error) {
		seen = inv
		copyData, err := os.ReadFile(inv.Notebook)
		if err != nil {
			return Output{}, err
		}
		if !strings.Contains(string(copyData), `days = 30  # @param`) {
			return Output{}, errors.New("variables not injected")
		}
		if err := os.WriteFile(inv.Output, []byte("<html>ok</html>"), 0o644); err != nil {
			return Output{}, err
		}
		if err := os.MkdirAll(filepath.Join(inv.Workspace, "charts"), 0o755); err != nil {
			return Output{}, err
		}
		if err := os.WriteFile(filepath.Join(inv.Workspace, "charts", "sales.png"), []byte("png"), 0o644); err != nil {
			return Output{}, err
		}
		return Output{Stdout: "done"}, os.WriteFile(filepath.Join(inv.Workspace, "summary.xlsx"), []byte("xlsx"), 0o644)
	})

	r := New(interp, f.store, f.tempRoot, nil)
	res, err := r.Run(context.Background(), Request{
		Key:       "k1",
		Notebook:  f.notebook,
		Variables: map[string]any{"days": 30, "region": "us"},
		Artifacts: models.ArtifactConfig{Files: []models.ExpectedFile{{Name: "summary.xlsx"}, {Name: "missing.csv"}}},
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusSucceeded, res.Status, res.Error)
	require.Empty(t, res.CleanupError)
	require.NoDirExists(t, res.Workspace)
	requireEmptyDir(t, f.tempRoot)

	require.Equal(t, "executions/weekly/k1/weekly.html", res.HTMLOutput)
	names := map[string]string{}
	for _, a := range res.Artifacts {
		names[a.Name] = a.Kind
	}
	require.Equal(t, map[string]string{
		"weekly.html":      models.ArtifactRendered,
		"summary.xlsx":     models.ArtifactGenerated,
		"charts/sales.png": models.ArtifactOutput,
	}, names)
	require.Contains(t, res.Log, "missing.csv")

	rc, err := f.store.Open(context.Background(), "executions/weekly/k1/summary.xlsx")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	require.Equal(t, "xlsx", string(data))

	id, _ := envValue(seen.Env, "JUPORT_EXECUTION_ID")
	require.Equal(t, "k1", id)
	days, _ := envValue(seen.Env, "days")
	require.Equal(t, "30", days)
	vars, _ := envValue(seen.Env, "JUPORT_VARIABLES")
	require.JSONEq(t, `{"days":30,"region":"us"}`, vars)
	out, _ := envValue(seen.Env, "JUPORT_OUTPUT_DIR")
	require.Equal(t, seen.Workspace, out)

	orig, err := os.ReadFile(f.notebook)
	require.NoError(t, err)
	require.Equal(t, reportNotebook, string(orig), "original notebook must not change")
}

func TestRun_InterpreterFailure(t *testing.T) {
	f := newFixture(t)
	interp := InterpreterFunc(func(ctx context.Context, inv Invocation) (Output, error) {
		_ = os.WriteFile(filepath.Join(inv.Workspace, "partial.csv"), []byte("x"), 0o644)
		return Output{Stdout: "cell 1", Stderr: "Traceback\nNameError: name 'x' is not defined"}, errors.New("exit status 1")
	})
	res, err := New(interp, f.store, f.tempRoot, nil).Run(context.Background(), Request{Key: "k2", Notebook: f.notebook})
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, res.Status)
	require.Contains(t, res.Error, "NameError")
	require.Empty(t, res.Artifacts)
	require.Empty(t, res.HTMLOutput)
	require.Equal(t, "cell 1", res.Log)
	require.NoDirExists(t, res.Workspace)
	require.NoDirExists(t, filepath.Join(f.store.Root(), "executions"))
}

func TestRun_Timeout(t *testing.T) {
	f := newFixture(t)
	interp := InterpreterFunc(func(ctx context.Context, inv Invocation) (Output, error) {
		<-ctx.Done()
		return Output{}, ctx.Err()
	})
	start := time.Now()
	res, err := New(interp, f.store, f.tempRoot, nil).Run(context.Background(), Request{
		Key: "k3", Notebook: f.notebook, Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, models.StatusFailed, res.Status)
	require.Contains(t, res.Error, "timed out")
	require.NoDirExists(t, res.Workspace)
}

func TestRun_MissingNotebook(t *testing.T) {
	f := newFixture(t)
	called := false
	interp := InterpreterFunc(func(ctx context.Context, inv Invocation) (Output, error) {
		called = true
		return Output{}, nil
	})
	res, err := New(interp, f.store, f.tempRoot, nil).Run(context.Background(), Request{
		Key: "k4", Notebook: filepath.Join(filepath.Dir(f.notebook), "gone.ipynb"),
	})
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, models.StatusFailed, res.Status)
	require.Contains(t, res.Error, "not found")
	requireEmptyDir(t, f.tempRoot)
}

func TestRun_MalformedNotebook(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.notebook, []byte(`{"nbformat": 4}`), 0o644))
	res, err := New(InterpreterFunc(func(context.Context, Invocation) (Output, error) {
		return Output{}, nil
	}), f.store, f.tempRoot, nil).Run(context.Background(), Request{Key: "k5", Notebook: f.notebook})
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, res.Status)
}

func TestRun_WorkspaceError(t *testing.T) {
	f := newFixture(t)
	r := New(InterpreterFunc(func(context.Context, Invocation) (Output, error) {
		return Output{}, nil
	}), f.store, filepath.Join(f.tempRoot, "does", "not", "exist"), nil)
	_, err := r.Run(context.Background(), Request{Key: "k6", Notebook: f.notebook})
	require.ErrorIs(t, err, ErrWorkspace)
}

func TestRun_Uploads(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "task_k7_0_input.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b"), 0o644))

	interp := InterpreterFunc(func(ctx context.Context, inv Invocation) (Output, error) {
		raw, _ := envValue(inv.Env, "JUPORT_UPLOADS")
		var m map[string]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return Output{}, err
		}
		if m["input.csv"] != "k7_input.csv" {
			return Output{}, fmt.Errorf("mapping %v", m)
		}
		if _, err := os.Stat(filepath.Join(inv.Workspace, "k7_input.csv")); err != nil {
			return Output{}, err
		}
		return Output{}, os.WriteFile(inv.Output, []byte("<html/>"), 0o644)
	})
	res, err := New(interp, f.store, f.tempRoot, nil).Run(context.Background(), Request{
		Key: "k7", Notebook: f.notebook, Uploads: []Upload{{Name: "input.csv", Path: src}},
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusSucceeded, res.Status, res.Error)
	a, ok := (&models.Execution{Artifacts: res.Artifacts}).Artifact("k7_input.csv")
	require.True(t, ok)
	require.Equal(t, models.ArtifactUploaded, a.Kind)
	require.FileExists(t, src, "staged source is owned by the caller")
}

func TestRun_ConcurrentIsolation(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	workspaces := map[string]string{}
	interp := InterpreterFunc(func(ctx context.Context, inv Invocation) (Output, error) {
		id, _ := envValue(inv.Env, "JUPORT_EXECUTION_ID")
		region, _ := envValue(inv.Env, "region")
		mu.Lock()
		workspaces[id] = inv.Workspace
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		if err := os.WriteFile(filepath.Join(inv.Workspace, "result.txt"), []byte(region), 0o644); err != nil {
			return Output{}, err
		}
		return Output{}, os.WriteFile(inv.Output, []byte(region), 0o644)
	})
	r := New(interp, f.store, f.tempRoot, nil)

	regions := []string{"eu", "us", "apac", "latam"}
	results := make([]*Result, len(regions))
	var wg sync.WaitGroup
	for i, region := range regions {
		wg.Add(1)
		go func(i int, region string) {
			defer wg.Done()
			res, err := r.Run(context.Background(), Request{
				Key: fmt.Sprintf("c%d", i), Notebook: f.notebook, Variables: map[string]any{"region": region},
			})
			if err == nil {
				results[i] = res
			}
		}(i, region)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, res := range results {
		require.NotNil(t, res)
		require.Equal(t, models.StatusSucceeded, res.Status, res.Error)
		require.False(t, seen[res.Workspace])
		seen[res.Workspace] = true

		rc, err := f.store.Open(context.Background(), fmt.Sprintf("executions/weekly/c%d/result.txt", i))
		require.NoError(t, err)
		data, _ := io.ReadAll(rc)
		rc.Close()
		require.Equal(t, regions[i], string(data))
	}
	require.Len(t, workspaces, len(regions))
	requireEmptyDir(t, f.tempRoot)
}

type flakyStore struct {
	storage.Store
	puts    atomic.Int32
	failAt  int32
	deleted []string
	mu      sync.Mutex
}

func (s *flakyStore) Put(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	if s.puts.Add(1) == s.failAt {
		return "", errors.New("disk full")
	}
	return s.Store.Put(ctx, key, r, size)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, key)
	s.mu.Unlock()
	return s.Store.Delete(ctx, key)
}

func TestRun_PersistFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	store := &flakyStore{Store: f.store, failAt: 2}
	interp := InterpreterFunc(func(ctx context.Context, inv Invocation) (Output, error) {
		_ = os.WriteFile(filepath.Join(inv.Workspace, "a.csv"), []byte("a"), 0o644)
		_ = os.WriteFile(filepath.Join(inv.Workspace, "b.csv"), []byte("b"), 0o644)
		return Output{}, nil
	})
	res, err := New(interp, store, f.tempRoot, nil).Run(context.Background(), Request{Key: "k8", Notebook: f.notebook})
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, res.Status)
	require.Contains(t, res.Error, "disk full")
	require.Empty(t, res.Artifacts)
	require.Equal(t, []string{"executions/weekly/k8/a.csv"}, store.deleted)
	_, err = f.store.Open(context.Background(), "executions/weekly/k8/a.csv")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTailOf(t *testing.T) {
	require.Equal(t, "abc", tailOf("  abc\n", 10))
	require.Equal(t, "...cdef", tailOf("abcdef", 4))
}

func TestRun_DetectsExpectedFiles(t *testing.T) {
	f := newFixture(t)
	nb := filepath.Join(filepath.Dir(f.notebook), "export.ipynb")
	require.NoError(t, os.WriteFile(nb, []byte(`{
 "cells": [{"cell_type": "code", "metadata": {}, "outputs": [],
   "source": ["df.to_csv(\"daily.csv\")\n", "fig.savefig('trend.png')\n"]}],
 "metadata": {}, "nbformat": 4, "nbformat_minor": 5
}`), 0o644))
	interp := InterpreterFunc(func(ctx context.Context, inv Invocation) (Output, error) {
		cfg, _ := envValue(inv.Env, "JUPORT_ARTIFACTS_CONFIG")
		if !strings.Contains(cfg, "daily.csv") {
			return Output{}, fmt.Errorf("artifact config not detected: %s", cfg)
		}
		return Output{}, os.WriteFile(filepath.Join(inv.Workspace, "daily.csv"), []byte("a,b"), 0o644)
	})

	res, err := New(interp, f.store, f.tempRoot, nil).Run(context.Background(), Request{Key: "k9", Notebook: nb})
	require.NoError(t, err)
	require.Equal(t, models.StatusSucceeded, res.Status, res.Error)
	a, ok := (&models.Execution{Artifacts: res.Artifacts}).Artifact("daily.csv")
	require.True(t, ok)
	require.Equal(t, models.ArtifactGenerated, a.Kind)
	require.Contains(t, res.Log, "trend.png")
}
