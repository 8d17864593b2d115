// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/messhall-labs/messhall/lib/clock"
	"github.com/messhall-labs/messhall/lib/schedule"
)

// ErrSyncPending is returned by TriggerNow when a manual run is
// already queued and not yet started.
var ErrSyncPending = errors.New("attendance: a manual sync is already queued")

// defaultRunHistory is how many run summaries the scheduler retains
// when the config does not say otherwise.
const defaultRunHistory = 32

// manualRequest is one queued TriggerNow call.
type manualRequest struct {
	scope Scope
	day   time.Time
	runID string
}

// SchedulerConfig holds the parameters for creating a Scheduler.
type SchedulerConfig struct {
	// Engine runs the reconciliation passes. Required.
	Engine *Engine
	// Schedule is the parsed cron expression for recurring runs.
	// Required (the zero Schedule matches nothing and would never
	// fire).
	Schedule schedule.Schedule
	// Clock provides timers and the current time. Required; tests
	// inject a fake.
	Clock clock.Clock
	// History is how many run summaries to retain. Defaults to 32
	// if zero.
	History int
	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Scheduler drives the engine from a single goroutine: recurring runs
// on a cron schedule, manual runs on demand. Because every run
// executes inline in the same loop, scheduled and manual passes never
// overlap in-process; overlap across processes is harmless because
// reconciliation is idempotent.
type Scheduler struct {
	engine   *Engine
	schedule schedule.Schedule
	clock    clock.Clock
	history  int
	logger   *slog.Logger

	// manual carries at most one queued TriggerNow request. A
	// second trigger while one is pending is refused rather than
	// stacked; the refused caller retries after the pending run.
	manual chan manualRequest

	mu   sync.Mutex
	runs []RunSummary // oldest first, capped at history
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("attendance scheduler: Engine is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("attendance scheduler: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("attendance scheduler: Logger is required")
	}

	history := cfg.History
	if history <= 0 {
		history = defaultRunHistory
	}

	return &Scheduler{
		engine:   cfg.Engine,
		schedule: cfg.Schedule,
		clock:    cfg.Clock,
		history:  history,
		logger:   cfg.Logger,
		manual:   make(chan manualRequest, 1),
	}, nil
}

// Run is the scheduler loop. It arms a timer for the next cron
// occurrence, executes runs as the timer fires or manual triggers
// arrive, and returns when ctx is cancelled. A run in progress when
// shutdown begins finishes its current site batch via the per-site
// timeout; the loop exits afterwards.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started")

	for {
		now := s.clock.Now().In(s.engine.location)
		next, err := s.schedule.Next(now)
		if err != nil {
			return fmt.Errorf("attendance scheduler: computing next occurrence: %w", err)
		}

		timer := s.clock.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return nil

		case <-timer.C:
			s.execute(ctx, Scope{Role: RoleAdmin}, s.clock.Now(), uuid.NewString(), TriggerScheduled)

		case request := <-s.manual:
			timer.Stop()
			s.execute(ctx, request.scope, request.day, request.runID, TriggerManual)
		}
	}
}

// TriggerNow queues a manual run under the caller's scope and returns
// its run ID immediately; the run executes on the scheduler
// goroutine. A zero day means "today". Returns ErrSyncPending when a
// manual run is already waiting.
func (s *Scheduler) TriggerNow(scope Scope, day time.Time) (string, error) {
	if day.IsZero() {
		day = s.clock.Now()
	}
	runID := uuid.NewString()

	select {
	case s.manual <- manualRequest{scope: scope, day: day, runID: runID}:
		return runID, nil
	default:
		return "", ErrSyncPending
	}
}

// Summaries returns the retained run summaries, most recent first.
func (s *Scheduler) Summaries() []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]RunSummary, len(s.runs))
	for i, summary := range s.runs {
		summaries[len(s.runs)-1-i] = summary
	}
	return summaries
}

// execute runs one pass and records its summary.
func (s *Scheduler) execute(ctx context.Context, scope Scope, day time.Time, runID string, trigger Trigger) {
	if ctx.Err() != nil {
		return
	}

	summary := s.engine.Run(ctx, scope, day, runID, trigger)
	s.record(summary)

	var created, existing, dropped, failed int
	for _, site := range summary.Sites {
		created += site.Created
		existing += site.Existing
		dropped += site.Dropped
		failed += site.Failed
	}
	s.logger.Info("run complete",
		"run_id", summary.RunID,
		"trigger", string(summary.Trigger),
		"date", summary.Date,
		"sites", len(summary.Sites),
		"created", created,
		"existing", existing,
		"dropped", dropped,
		"failed", failed,
		"duration", summary.Finished.Sub(summary.Started),
	)
}

// record appends a summary to the bounded history.
func (s *Scheduler) record(summary RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, summary)
	if len(s.runs) > s.history {
		s.runs = s.runs[len(s.runs)-s.history:]
	}
}
