// Package dispatch turns execution requests into running executions. It
// creates the execution record, runs the notebook on a bounded worker pool
// and finalizes the record exactly once, retrying transient store failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/crucial707/juport/internal/logging"
	"github.com/crucial707/juport/internal/metrics"
	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/repo"
	"github.com/crucial707/juport/internal/runner"
)

var (
	// ErrScheduleBusy is returned when the schedule already has an execution in flight.
	ErrScheduleBusy = errors.New("schedule has an execution in progress")
	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("dispatcher is shutting down")
)

const (
	finalizeTimeout  = 30 * time.Second
	finalizeAttempts = 5
	finalizeBackoff  = 100 * time.Millisecond
)

// ExecutionStore persists execution records.
type ExecutionStore interface {
	Create(ctx context.Context, e *models.Execution) error
	Finalize(ctx context.Context, id int, o models.Outcome) error
}

// ArtifactDeleter removes stored artifacts.
type ArtifactDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Resolver maps a notebook path to an absolute file path.
type Resolver interface {
	Resolve(rel string) (string, error)
}

// Runner executes a single run.
type Runner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// Job is one execution request.
type Job struct {
	ScheduleID   *int
	NotebookPath string
	Trigger      string
	Variables    map[string]any
	Artifacts    models.ArtifactConfig
	Uploads      []runner.Upload
	// Key is assigned when empty.
	Key string
	// OnDone runs after the record is finalized.
	OnDone func(models.Execution)
}

// Status is a snapshot of the worker pool.
type Status struct {
	Pending       int `json:"pending"`
	Running       int `json:"running"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Options configures a Dispatcher.
type Options struct {
	MaxConcurrent int
	// Timeout bounds each run; zero means no limit.
	Timeout time.Duration
	// Artifacts, when set, receives the artifacts of runs whose record could
	// not be finalized.
	Artifacts ArtifactDeleter
}

// Dispatcher runs jobs asynchronously.
type Dispatcher struct {
	runner     Runner
	executions ExecutionStore
	notebooks  Resolver
	log        *slog.Logger
	opts       Options

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	busy    map[int]bool
	pending int
	running int
	closed  bool

	now    func() time.Time
	newKey func() string
}

// New returns a Dispatcher.
func New(r Runner, executions ExecutionStore, notebooks Resolver, log *slog.Logger, opts Options) *Dispatcher {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:     r,
		executions: executions,
		notebooks:  notebooks,
		log:        log,
		opts:       opts,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		ctx:        ctx,
		cancel:     cancel,
		busy:       make(map[int]bool),
		now:        time.Now,
		newKey:     uuid.NewString,
	}
}

// Dispatch validates job, records a running execution and starts it in the
// background. The returned execution is the freshly created record.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) (models.Execution, error) {
	full, err := d.notebooks.Resolve(job.NotebookPath)
	if err != nil {
		return models.Execution{}, err
	}
	if job.Trigger == "" {
		job.Trigger = models.TriggerManual
	}
	if job.Key == "" {
		job.Key = d.newKey()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return models.Execution{}, ErrShuttingDown
	}
	if job.ScheduleID != nil {
		if d.busy[*job.ScheduleID] {
			d.mu.Unlock()
			return models.Execution{}, fmt.Errorf("%w: schedule %d", ErrScheduleBusy, *job.ScheduleID)
		}
		d.busy[*job.ScheduleID] = true
	}
	d.pending++
	d.wg.Add(1)
	d.mu.Unlock()

	exec := models.Execution{
		Key:          job.Key,
		ScheduleID:   job.ScheduleID,
		NotebookPath: job.NotebookPath,
		Trigger:      job.Trigger,
		Status:       models.StatusRunning,
		StartedAt:    d.now().UTC(),
	}
	if err := d.executions.Create(ctx, &exec); err != nil {
		d.release(job.ScheduleID, false)
		d.wg.Done()
		return models.Execution{}, fmt.Errorf("create execution: %w", err)
	}
	metrics.ExecutionQueued()

	go d.run(exec, full, job)
	return exec, nil
}

func (d *Dispatcher) release(scheduleID *int, started bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if scheduleID != nil {
		delete(d.busy, *scheduleID)
	}
	if started {
		d.running--
	} else {
		d.pending--
	}
}

func (d *Dispatcher) run(exec models.Execution, notebook string, job Job) {
	defer d.wg.Done()
	ctx := logging.WithAttrs(d.ctx,
		slog.String("execution", exec.Key),
		slog.Int("execution_id", exec.ID),
		slog.String("notebook", exec.NotebookPath),
	)

	started := false
	var out models.Outcome
	if err := d.sem.Acquire(ctx, 1); err != nil {
		out = d.failed("execution cancelled before start: " + err.Error())
		metrics.ExecutionAbandoned()
	} else {
		started = true
		d.mu.Lock()
		d.pending--
		d.running++
		d.mu.Unlock()
		metrics.ExecutionStarted()

		out = d.execute(ctx, exec, notebook, job)
		d.sem.Release(1)
	}

	d.finalize(ctx, exec.ID, out)

	if started {
		metrics.ExecutionFinished(out.Status, exec.Trigger, out.FinishedAt.Sub(exec.StartedAt).Seconds())
	}
	d.release(job.ScheduleID, started)

	exec.Status = out.Status
	finished := out.FinishedAt
	exec.FinishedAt = &finished
	exec.HTMLOutput = out.HTMLOutput
	exec.Artifacts = out.Artifacts
	exec.Error = out.Error
	exec.Log = out.Log
	exec.CleanupError = out.CleanupError
	d.log.InfoContext(ctx, "execution finalized", "status", out.Status)

	if job.OnDone != nil {
		defer func() {
			if rec := recover(); rec != nil {
				d.log.ErrorContext(ctx, "execution hook panicked", "panic", rec)
			}
		}()
		job.OnDone(exec)
	}
}

// finalize writes the outcome, retrying with backoff for up to
// finalizeTimeout. When the record cannot take the outcome the run's
// artifacts are deleted, since nothing will reference them.
func (d *Dispatcher) finalize(ctx context.Context, id int, out models.Outcome) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	backoff := finalizeBackoff
	for attempt := 1; ; attempt++ {
		err := d.executions.Finalize(fctx, id, out)
		if err == nil {
			return
		}
		if errors.Is(err, repo.ErrNotRunning) {
			d.log.WarnContext(ctx, "execution finalized elsewhere", "error", err)
			break
		}
		d.log.WarnContext(ctx, "finalize execution failed", "attempt", attempt, "error", err)
		if attempt == finalizeAttempts || !sleepCtx(fctx, backoff) {
			d.log.ErrorContext(ctx, "execution record not finalized", "attempts", attempt, "error", err)
			break
		}
		backoff *= 2
	}
	d.discardArtifacts(ctx, out.Artifacts)
}

func (d *Dispatcher) discardArtifacts(ctx context.Context, artifacts []models.Artifact) {
	if d.opts.Artifacts == nil || len(artifacts) == 0 {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	for _, a := range artifacts {
		if err := d.opts.Artifacts.Delete(dctx, a.Ref); err != nil {
			d.log.ErrorContext(ctx, "delete orphaned artifact failed", "ref", a.Ref, "error", err)
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// execute converts every runner failure, including panics, into an outcome.
func (d *Dispatcher) execute(ctx context.Context, exec models.Execution, notebook string, job Job) (out models.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.ErrorContext(ctx, "execution panicked", "panic", rec)
			out = d.failed(fmt.Sprintf("internal error: %v", rec))
		}
	}()
	res, err := d.runner.Run(ctx, runner.Request{
		Key:       exec.Key,
		Notebook:  notebook,
		Variables: job.Variables,
		Artifacts: job.Artifacts,
		Uploads:   job.Uploads,
		Timeout:   d.opts.Timeout,
	})
	if err != nil {
		return d.failed(err.Error())
	}
	if res.FinishedAt.IsZero() {
		res.FinishedAt = d.now()
	}
	return res.Outcome()
}

func (d *Dispatcher) failed(msg string) models.Outcome {
	return models.Outcome{Status: models.StatusFailed, FinishedAt: d.now().UTC(), Error: msg}
}

// Busy reports whether the schedule has an execution in flight.
func (d *Dispatcher) Busy(scheduleID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy[scheduleID]
}

// Status returns the current pool counts.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{Pending: d.pending, Running: d.running, MaxConcurrent: d.opts.MaxConcurrent}
}

// Shutdown stops accepting jobs and waits for in-flight executions. When ctx
// expires first the remaining runs are cancelled, still finalized, and
// ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
