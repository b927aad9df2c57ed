// Package runner executes one notebook in an isolated workspace and persists
// the files it produces.
//
// Each run gets a fresh temporary directory holding a parameterized copy of
// the notebook and the staged uploads. The interpreter runs with that
// directory as its working directory; afterwards every produced file is
// copied to the artifact store and the directory is removed, whatever the
// outcome.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/crucial707/juport/internal/ipynb"
	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/params"
	"github.com/crucial707/juport/internal/storage"
)

// ErrWorkspace is returned when no workspace could be created. Every other
// failure is reported through a failed Result.
var ErrWorkspace = errors.New("create workspace")

const (
	setupCellID    = "juport-setup"
	stderrTailSize = 4096
	checkpointsDir = ".ipynb_checkpoints"
)

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// setupSource silences warnings and exposes JUPORT_VARIABLES as environment
// variables inside the kernel.
const setupSource = `import warnings
warnings.filterwarnings('ignore')
import os
import json
os.environ['PYTHONWARNINGS'] = 'ignore'
try:
    import pandas as pd
    pd.options.mode.chained_assignment = None
except ImportError:
    pass

if 'JUPORT_VARIABLES' in os.environ:
    try:
        for _k, _v in json.loads(os.environ['JUPORT_VARIABLES']).items():
            os.environ[_k] = _v if isinstance(_v, str) else json.dumps(_v)
    except Exception as e:
        print(f'Error loading JUPORT_VARIABLES: {e}')
`

// Upload is a staged input file. Name is the client's file name; Path is
// where it currently lives.
type Upload struct {
	Name string
	Path string
}

// Request describes one run.
type Request struct {
	Key string
	// Notebook is the absolute path of the original notebook.
	Notebook  string
	Variables map[string]any
	Artifacts models.ArtifactConfig
	Uploads   []Upload
	// Timeout bounds the interpreter call; zero means no limit.
	Timeout time.Duration
}

// Result is the outcome of a run.
type Result struct {
	Status       string
	HTMLOutput   string
	Artifacts    []models.Artifact
	Error        string
	Log          string
	CleanupError string
	Workspace    string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Outcome converts the result for finalization.
func (r *Result) Outcome() models.Outcome {
	return models.Outcome{
		Status:       r.Status,
		FinishedAt:   r.FinishedAt,
		HTMLOutput:   r.HTMLOutput,
		Artifacts:    r.Artifacts,
		Error:        r.Error,
		Log:          r.Log,
		CleanupError: r.CleanupError,
	}
}

// Runner executes notebooks.
type Runner struct {
	interp   Interpreter
	store    storage.Store
	tempRoot string
	log      *slog.Logger
	now      func() time.Time
}

// New returns a Runner. tempRoot empty means os.TempDir().
func New(interp Interpreter, store storage.Store, tempRoot string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{interp: interp, store: store, tempRoot: tempRoot, log: log, now: time.Now}
}

// Run executes req. The returned error is non-nil only when the workspace
// could not be created.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	ws, err := os.MkdirTemp(r.tempRoot, "juport_"+req.Key+"_")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspace, err)
	}
	res := &Result{Workspace: ws, StartedAt: r.now(), Status: models.StatusRunning}
	defer func() {
		if err := removeWorkspace(ws); err != nil {
			res.CleanupError = err.Error()
			r.log.WarnContext(ctx, "workspace cleanup failed", "workspace", ws, "error", err)
		}
	}()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	copyPath, detected, err := r.prepareNotebook(ws, req)
	if err != nil {
		return r.fail(ctx, res, err.Error()), nil
	}
	if len(req.Artifacts.Files) == 0 {
		req.Artifacts.Files = detected
	}
	staged, err := stageUploads(ws, req)
	if err != nil {
		return r.fail(ctx, res, err.Error()), nil
	}
	env, err := buildEnv(ws, req, staged)
	if err != nil {
		return r.fail(ctx, res, err.Error()), nil
	}

	stem := strings.TrimSuffix(filepath.Base(req.Notebook), filepath.Ext(req.Notebook))
	inv := Invocation{
		Workspace: ws,
		Notebook:  copyPath,
		Output:    filepath.Join(ws, stem+".html"),
		Env:       env,
		Timeout:   req.Timeout,
	}
	r.log.InfoContext(ctx, "executing notebook", "notebook", req.Notebook, "workspace", ws)
	out, err := r.interp.Execute(ctx, inv)
	res.Log = out.Stdout
	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("execution timed out after %s", req.Timeout)
		}
		if tail := tailOf(out.Stderr, stderrTailSize); tail != "" {
			msg += "\n" + tail
		}
		return r.fail(ctx, res, msg), nil
	}

	if err := r.harvest(ctx, res, req, inv, stem, staged); err != nil {
		return r.fail(ctx, res, err.Error()), nil
	}
	res.Status = models.StatusSucceeded
	res.FinishedAt = r.now()
	r.log.InfoContext(ctx, "notebook executed", "artifacts", len(res.Artifacts))
	return res, nil
}

func (r *Runner) fail(ctx context.Context, res *Result, msg string) *Result {
	res.Status = models.StatusFailed
	res.Error = msg
	res.Artifacts = nil
	res.HTMLOutput = ""
	res.FinishedAt = r.now()
	r.log.WarnContext(ctx, "notebook execution failed", "error", msg)
	return res
}

// prepareNotebook writes the parameterized copy into the workspace and
// returns the output files detected in the original source.
func (r *Runner) prepareNotebook(ws string, req Request) (string, []models.ExpectedFile, error) {
	data, err := os.ReadFile(req.Notebook)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, fmt.Errorf("notebook not found: %s", filepath.Base(req.Notebook))
	}
	if err != nil {
		return "", nil, fmt.Errorf("read notebook: %w", err)
	}
	doc, err := ipynb.Parse(data)
	if err != nil {
		return "", nil, err
	}
	detected := params.DetectArtifacts(doc.Code()...)
	if len(req.Variables) > 0 {
		doc.RewriteCode(func(code string) string { return params.Inject(code, req.Variables) })
	}
	doc.Prepend(ipynb.NewCodeCell(setupCellID, setupSource))
	out, err := doc.Marshal()
	if err != nil {
		return "", nil, fmt.Errorf("write notebook copy: %w", err)
	}
	copyPath := filepath.Join(ws, filepath.Base(req.Notebook))
	if err := os.WriteFile(copyPath, out, 0o644); err != nil {
		return "", nil, fmt.Errorf("write notebook copy: %w", err)
	}
	return copyPath, detected, nil
}

// stageUploads copies uploads into the workspace as "<key>_<name>" and returns
// the original name to staged name mapping.
func stageUploads(ws string, req Request) (map[string]string, error) {
	staged := make(map[string]string, len(req.Uploads))
	for _, u := range req.Uploads {
		base := filepath.Base(filepath.Clean("/" + filepath.FromSlash(u.Name)))
		if base == "/" || base == "." || base == string(filepath.Separator) {
			return nil, fmt.Errorf("upload has no file name: %q", u.Name)
		}
		name := req.Key + "_" + base
		if err := copyFile(u.Path, filepath.Join(ws, name)); err != nil {
			return nil, fmt.Errorf("stage upload %s: %w", u.Name, err)
		}
		staged[u.Name] = name
	}
	return staged, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func buildEnv(ws string, req Request, staged map[string]string) ([]string, error) {
	vars := req.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}
	artifactsJSON, err := json.Marshal(req.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("encode artifact config: %w", err)
	}
	uploadsJSON, err := json.Marshal(staged)
	if err != nil {
		return nil, fmt.Errorf("encode uploads: %w", err)
	}

	env := os.Environ()
	names := make([]string, 0, len(vars))
	for k := range vars {
		if envName.MatchString(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	for _, k := range names {
		env = append(env, k+"="+params.EnvString(vars[k]))
	}
	env = append(env,
		"JUPORT_VARIABLES="+string(varsJSON),
		"JUPORT_ARTIFACTS_CONFIG="+string(artifactsJSON),
		"JUPORT_OUTPUT_DIR="+ws,
		"JUPORT_EXECUTION_ID="+req.Key,
		"JUPORT_UPLOADS="+string(uploadsJSON),
		"PYTHONWARNINGS=ignore",
		"TF_CPP_MIN_LOG_LEVEL=3",
	)
	return env, nil
}

// harvest persists every produced file. On a storage error the artifacts
// already stored are deleted again.
func (r *Runner) harvest(ctx context.Context, res *Result, req Request, inv Invocation, stem string, staged map[string]string) error {
	uploaded := make(map[string]bool, len(staged))
	for _, name := range staged {
		uploaded[name] = true
	}
	expected := make(map[string]bool)
	for _, n := range req.Artifacts.Names() {
		expected[n] = true
	}

	var files []string
	err := filepath.WalkDir(inv.Workspace, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == checkpointsDir {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || filepath.Ext(p) == ".ipynb" {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("collect artifacts: %w", err)
	}

	var stored []models.Artifact
	for _, p := range files {
		rel, err := filepath.Rel(inv.Workspace, p)
		if err != nil {
			r.rollback(stored)
			return fmt.Errorf("collect artifacts: %w", err)
		}
		rel = filepath.ToSlash(rel)
		a, err := r.persist(ctx, p, path.Join("executions", stem, req.Key, rel))
		if err != nil {
			r.rollback(stored)
			return fmt.Errorf("persist artifacts: %w", err)
		}
		a.Name = rel
		switch {
		case p == inv.Output:
			a.Kind = models.ArtifactRendered
			res.HTMLOutput = a.Ref
		case uploaded[rel]:
			a.Kind = models.ArtifactUploaded
		case expected[rel] || expected[path.Base(rel)]:
			a.Kind = models.ArtifactGenerated
		case isDataFile(rel):
			a.Kind = models.ArtifactOutput
		default:
			a.Kind = models.ArtifactFile
		}
		stored = append(stored, a)
	}
	res.Artifacts = stored

	var missing []string
	for _, n := range req.Artifacts.Names() {
		if _, ok := artifactByName(stored, n); !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		note := "expected artifacts not produced: " + strings.Join(missing, ", ")
		r.log.WarnContext(ctx, note)
		if res.Log != "" && !strings.HasSuffix(res.Log, "\n") {
			res.Log += "\n"
		}
		res.Log += note + "\n"
	}
	return nil
}

func (r *Runner) persist(ctx context.Context, p, key string) (models.Artifact, error) {
	f, err := os.Open(p)
	if err != nil {
		return models.Artifact{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return models.Artifact{}, err
	}
	ref, err := r.store.Put(ctx, key, f, info.Size())
	if err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{Ref: ref, Size: info.Size()}, nil
}

// rollback runs on a fresh context so a cancelled run still cleans up.
func (r *Runner) rollback(stored []models.Artifact) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, a := range stored {
		if err := r.store.Delete(ctx, a.Ref); err != nil {
			r.log.Warn("artifact rollback failed", "ref", a.Ref, "error", err)
		}
	}
}

func artifactByName(list []models.Artifact, name string) (models.Artifact, bool) {
	for _, a := range list {
		if a.Name == name || path.Base(a.Name) == name {
			return a, true
		}
	}
	return models.Artifact{}, false
}

func isDataFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".xlsx", ".xls", ".json", ".parquet", ".png", ".jpg", ".jpeg", ".svg", ".pdf", ".txt":
		return true
	}
	return false
}

func removeWorkspace(ws string) error {
	err := os.RemoveAll(ws)
	if err == nil {
		return nil
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.RemoveAll(ws); err != nil {
		return fmt.Errorf("remove workspace %s: %w", ws, err)
	}
	return nil
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
