// SPDX-License-Identifier: Apache-2.0

// Package schedule submits goals on a timetable. Each entry pairs a
// schedule expression with a goal; when the entry fires the goal is
// handed to a Submitter, normally the agent runtime. Expressions are
// standard five-field cron (descriptors like @hourly included) or a Go
// duration for fixed intervals.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
)

// Submitter starts an agent run for a goal and returns its run id. The
// run proceeds on the submitter's own lifecycle; the context only
// bounds admission.
type Submitter interface {
	Submit(ctx context.Context, goal core.Goal) (string, error)
}

const defaultSubmitTimeout = 30 * time.Second

// Scheduler fires configured goals into a Submitter.
type Scheduler struct {
	cron          *cron.Cron
	submitter     Submitter
	logger        *slog.Logger
	submitTimeout time.Duration

	mu      sync.Mutex
	entries int
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for the scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSubmitTimeout bounds how long a firing waits for the submitter
// to admit the goal.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.submitTimeout = d
		}
	}
}

// New creates a scheduler that submits goals to the given submitter.
func New(submitter Submitter, opts ...Option) (*Scheduler, error) {
	if submitter == nil {
		return nil, errors.New(errors.CodeInvalidInput, "submitter is required", nil)
	}
	s := &Scheduler{
		cron:          cron.New(),
		submitter:     submitter,
		logger:        slog.Default(),
		submitTimeout: defaultSubmitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add registers a goal to be submitted on the given schedule. Entries
// can be added before or after Start.
func (s *Scheduler) Add(expr string, goal core.Goal) error {
	if goal.Text == "" {
		return errors.New(errors.CodeInvalidInput, "goal text is required", nil)
	}
	sched, err := ParseExpr(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Schedule(sched, cron.FuncJob(func() {
		s.fire(expr, goal)
	}))
	s.entries++

	s.logger.Info("schedule.entry.added",
		"schedule", expr,
		"goal", goal.Text,
	)
	return nil
}

// Entries reports how many schedule entries are registered.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// Start begins firing entries. Start after Stop is not supported.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true

	s.logger.Info("schedule.started", "entries", s.entries)
}

// Stop halts firing and waits for in-flight submissions to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.cancel()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.started = false

	s.logger.Info("schedule.stopped")
}

func (s *Scheduler) fire(expr string, goal core.Goal) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	runID, err := s.submitter.Submit(submitCtx, goal)
	if err != nil {
		s.logger.Warn("schedule.submit.failed",
			"schedule", expr,
			"goal", goal.Text,
			"error", err,
		)
		return
	}
	s.logger.Info("schedule.submitted",
		"schedule", expr,
		"goal", goal.Text,
		"run_id", runID,
	)
}

// ParseExpr parses a schedule expression: five-field cron (with
// descriptors) first, then a Go duration as a fixed interval.
func ParseExpr(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, errors.New(errors.CodeInvalidInput, "schedule expression is required", nil)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(expr); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(expr)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput,
			"expression is neither a cron spec nor a duration", nil).
			WithContext("expression", expr)
	}
	if dur <= 0 {
		return nil, errors.New(errors.CodeInvalidInput, "interval must be positive", nil).
			WithContext("expression", expr)
	}
	return constantDelay{interval: dur}, nil
}

// constantDelay fires at a fixed interval. cron.Every rounds up to
// whole seconds, which is too coarse for short intervals.
type constantDelay struct {
	interval time.Duration
}

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.interval)
}
