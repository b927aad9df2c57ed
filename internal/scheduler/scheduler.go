// Package scheduler dispatches active schedules when their cron expression
// comes due. Missed windows collapse into a single run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crucial707/juport/internal/dispatch"
	"github.com/crucial707/juport/internal/metrics"
	"github.com/crucial707/juport/internal/models"
)

// ErrScheduleNotFound is returned by TriggerNow for unknown schedules.
var ErrScheduleNotFound = errors.New("schedule not found")

// Store is the schedule persistence the scheduler needs.
type Store interface {
	ListActive(ctx context.Context) ([]models.Schedule, error)
	GetByID(ctx context.Context, id int) (*models.Schedule, error)
	MarkFired(ctx context.Context, id int, firedAt time.Time, next *time.Time) error
}

// Dispatcher starts executions.
type Dispatcher interface {
	Dispatch(ctx context.Context, job dispatch.Job) (models.Execution, error)
}

type scheduleState struct {
	firstSeen time.Time
	lastFire  time.Time
	expr, tz  string
}

// Scheduler evaluates schedules on every tick.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	log        *slog.Logger
	interval   time.Duration
	now        func() time.Time

	mu    sync.Mutex
	state map[int]*scheduleState
	// ticked is set after the first successful listing. Until then a
	// schedule's persisted last run anchors it so windows missed while the
	// process was down coalesce into one dispatch.
	ticked bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a Scheduler ticking every interval.
func New(store Store, d Dispatcher, log *slog.Logger, interval time.Duration, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Scheduler{
		store:      store,
		dispatcher: d,
		log:        log,
		interval:   interval,
		now:        time.Now,
		state:      make(map[int]*scheduleState),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run ticks until ctx is cancelled. A failed tick is logged and retried on
// the next one.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick dispatches every schedule that came due since it last fired.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	list, err := s.store.ListActive(ctx)
	metrics.Tick(err)
	if err != nil {
		return fmt.Errorf("list active schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[int]bool, len(list))
	for i := range list {
		sc := list[i]
		active[sc.ID] = true
		s.evaluate(ctx, sc, now)
	}
	for id := range s.state {
		if !active[id] {
			delete(s.state, id)
		}
	}
	s.ticked = true
	return nil
}

func (s *Scheduler) evaluate(ctx context.Context, sc models.Schedule, now time.Time) {
	st, ok := s.state[sc.ID]
	if !ok || st.expr != sc.CronExpr || st.tz != sc.Timezone {
		// New, resumed or edited schedules only fire for windows after now.
		st = &scheduleState{firstSeen: now, expr: sc.CronExpr, tz: sc.Timezone}
		if !ok && !s.ticked && sc.LastRunAt != nil && sc.LastRunAt.Before(now) {
			st.firstSeen = *sc.LastRunAt
		}
		s.state[sc.ID] = st
	}

	sched, loc, err := ParseCron(sc.CronExpr, sc.Timezone)
	if err != nil {
		s.log.Warn("skipping schedule", "schedule_id", sc.ID, "error", err)
		return
	}

	anchor := st.firstSeen
	if sc.LastRunAt != nil && sc.LastRunAt.After(anchor) {
		anchor = *sc.LastRunAt
	}
	if st.lastFire.After(anchor) {
		anchor = st.lastFire
	}
	fire, due := latestFire(sched, anchor.In(loc), now.In(loc))
	if !due {
		return
	}
	st.lastFire = fire
	next := sched.Next(now.In(loc))

	id := sc.ID
	exec, err := s.dispatcher.Dispatch(ctx, dispatch.Job{
		ScheduleID:   &id,
		NotebookPath: sc.NotebookPath,
		Trigger:      models.TriggerSchedule,
		Variables:    sc.Variables,
		Artifacts:    sc.Artifacts,
	})
	switch {
	case errors.Is(err, dispatch.ErrScheduleBusy):
		metrics.Dispatched("busy")
		s.log.Info("schedule still running, window skipped", "schedule_id", id, "fire", fire)
	case err != nil:
		metrics.Dispatched("error")
		s.log.Error("schedule dispatch failed", "schedule_id", id, "fire", fire, "error", err)
	default:
		metrics.Dispatched("dispatched")
		s.log.Info("schedule dispatched", "schedule_id", id, "fire", fire, "execution", exec.Key)
	}

	var nextPtr *time.Time
	if !next.IsZero() {
		n := next.UTC()
		nextPtr = &n
	}
	if err := s.store.MarkFired(ctx, id, fire.UTC(), nextPtr); err != nil {
		s.log.Error("record schedule fire failed", "schedule_id", id, "error", err)
	}
}

// TriggerNow runs a schedule immediately regardless of its cron expression.
func (s *Scheduler) TriggerNow(ctx context.Context, scheduleID int) (models.Execution, error) {
	sc, err := s.store.GetByID(ctx, scheduleID)
	if err != nil {
		return models.Execution{}, err
	}
	if sc == nil {
		return models.Execution{}, fmt.Errorf("%w: %d", ErrScheduleNotFound, scheduleID)
	}
	id := sc.ID
	return s.dispatcher.Dispatch(ctx, dispatch.Job{
		ScheduleID:   &id,
		NotebookPath: sc.NotebookPath,
		Trigger:      models.TriggerManual,
		Variables:    sc.Variables,
		Artifacts:    sc.Artifacts,
	})
}
