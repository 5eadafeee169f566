// Package runtime hosts concurrent agent runs. A Runtime admits goals
// against a concurrency bound, tracks a handle per run, and sweeps
// registered health checkers in the background. Runs are detached from
// the submitter: cancelling the submission context after admission
// does not cancel the run, only Stop or Cancel does.
package runtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tekhne-dev/tekhne/pkg/agent"
	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
	"github.com/tekhne-dev/tekhne/pkg/telemetry"
)

var tracer = otel.Tracer("tekhne/runtime")

const (
	defaultMaxConcurrentRuns = 8
	defaultSweepTimeout      = 10 * time.Second

	// Finished handles kept for late Wait calls before eviction.
	retainFinished = 64
)

// Run is the handle for one submitted goal.
type Run struct {
	id        string
	goal      core.Goal
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	result *agent.RunResult
	err    error
}

// RunInfo is a point-in-time view of a run handle.
type RunInfo struct {
	ID        string
	Goal      string
	StartedAt time.Time
	Done      bool
}

// Runtime executes agent runs with bounded concurrency.
type Runtime struct {
	agent   *agent.Agent
	logger  *slog.Logger
	sem     chan struct{}
	health  *core.DefaultHealthCheckProvider
	metrics *telemetry.ErrorMetrics

	sweepInterval time.Duration
	sweepTimeout  time.Duration
	sweepCancel   context.CancelFunc
	sweepDone     chan struct{}

	mu       sync.Mutex
	started  bool
	baseCtx  context.Context
	cancelFn context.CancelFunc
	runs     map[string]*Run
	finished []string
	wg       sync.WaitGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxConcurrentRuns bounds how many runs execute at once.
func WithMaxConcurrentRuns(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.sem = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHealthSweepInterval enables the background health sweeper. Zero
// leaves it disabled.
func WithHealthSweepInterval(d time.Duration) Option {
	return func(r *Runtime) {
		r.sweepInterval = d
	}
}

// WithHealthSweepTimeout bounds each health sweep.
func WithHealthSweepTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.sweepTimeout = d
		}
	}
}

// WithErrorMetrics records per-component health gauges during sweeps.
func WithErrorMetrics(em *telemetry.ErrorMetrics) Option {
	return func(r *Runtime) {
		r.metrics = em
	}
}

// New creates a runtime around an agent.
func New(a *agent.Agent, opts ...Option) (*Runtime, error) {
	if a == nil {
		return nil, errors.New(errors.CodeInvalidInput, "agent is required", nil)
	}
	r := &Runtime{
		agent:        a,
		logger:       slog.Default(),
		sem:          make(chan struct{}, defaultMaxConcurrentRuns),
		health:       core.NewDefaultHealthCheckProvider(),
		sweepTimeout: defaultSweepTimeout,
		runs:         make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RegisterHealth adds a component health checker swept in the
// background and reported by Health.
func (r *Runtime) RegisterHealth(name string, checker core.HealthChecker) {
	if checker == nil {
		return
	}
	r.health.RegisterChecker(name, checker)
}

// Health checks all registered components once.
func (r *Runtime) Health(ctx context.Context) ([]core.HealthResult, core.HealthStatus) {
	return r.health.CheckAll(ctx)
}

// Start makes the runtime accept submissions. Runs live under the
// given context: cancelling it cancels every active run.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New(errors.CodeInternal, "runtime already started", nil)
	}
	r.baseCtx, r.cancelFn = context.WithCancel(ctx)
	r.started = true

	r.startHealthSweeper()

	r.logger.Info("runtime.started",
		slog.Int("max_concurrent_runs", cap(r.sem)),
		slog.Duration("health_sweep_interval", r.sweepInterval),
	)
	return nil
}

// Stop cancels all active runs and waits for them to settle. The
// context bounds the wait.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.cancelFn()
	r.mu.Unlock()

	r.stopHealthSweeper()

	settled := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-ctx.Done():
		return errors.New(errors.CodeCancelled, "runs still settling at stop deadline", ctx.Err())
	}

	r.logger.Info("runtime.stopped")
	return nil
}

// Submit admits a goal and starts its run, returning the run id. The
// context bounds admission only; once admitted the run proceeds under
// the runtime's lifecycle.
func (r *Runtime) Submit(ctx context.Context, goal core.Goal) (string, error) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return "", errors.New(errors.CodeInternal, "runtime not started", nil)
	}
	base := r.baseCtx
	r.mu.Unlock()

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		recordRejected(ctx)
		return "", errors.New(errors.CodeCancelled, "run admission cancelled", ctx.Err()).
			WithContext("goal", goal.Text)
	case <-base.Done():
		return "", errors.New(errors.CodeInternal, "runtime stopped", base.Err())
	}

	runCtx, cancel := context.WithCancel(base)
	runCtx, runID := core.EnsureRunID(runCtx)
	h := &Run{
		id:        runID,
		goal:      goal,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		cancel()
		<-r.sem
		return "", errors.New(errors.CodeInternal, "runtime not started", nil)
	}
	r.runs[runID] = h
	r.wg.Add(1)
	r.mu.Unlock()

	recordSubmitted(ctx)
	r.logger.Info("runtime.run.submitted",
		slog.String("run_id", runID),
		slog.String("goal", goal.Text),
	)

	go r.execute(runCtx, h)
	return runID, nil
}

func (r *Runtime) execute(ctx context.Context, h *Run) {
	defer r.wg.Done()
	defer func() { <-r.sem }()

	ctx, span := tracer.Start(ctx, "runtime.run",
		trace.WithAttributes(attribute.String(telemetry.AttrAgentID, r.agent.ID())))
	defer span.End()
	traceID, spanID := traceIDs(span)

	result, err := r.agent.Run(ctx, h.goal)

	r.mu.Lock()
	h.result = result
	h.err = err
	close(h.done)
	r.finishLocked(h.id)
	r.mu.Unlock()
	recordSettled(ctx)

	if err != nil {
		r.logger.Error("runtime.run.error",
			slog.String("run_id", h.id),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Info("runtime.run.complete",
		slog.String("run_id", h.id),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
		slog.String("state", string(result.State)),
	)
}

// finishLocked retires a completed handle, evicting the oldest
// finished runs beyond the retention window.
func (r *Runtime) finishLocked(id string) {
	r.finished = append(r.finished, id)
	for len(r.finished) > retainFinished {
		old := r.finished[0]
		r.finished = r.finished[1:]
		delete(r.runs, old)
	}
}

// Wait blocks until the run finishes and returns its result. The
// handle is collected: a second Wait for the same id reports NotFound.
func (r *Runtime) Wait(ctx context.Context, runID string) (*agent.RunResult, error) {
	r.mu.Lock()
	h, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "unknown or already collected run", nil).
			WithContext("run_id", runID)
	}

	select {
	case <-ctx.Done():
		return nil, errors.New(errors.CodeCancelled, "wait cancelled", ctx.Err()).
			WithContext("run_id", runID)
	case <-h.done:
	}

	r.mu.Lock()
	delete(r.runs, runID)
	r.mu.Unlock()
	return h.result, h.err
}

// Cancel cancels an active run. The run settles asynchronously; Wait
// observes the cancelled result.
func (r *Runtime) Cancel(runID string) error {
	r.mu.Lock()
	h, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return errors.New(errors.CodeNotFound, "unknown or already collected run", nil).
			WithContext("run_id", runID)
	}
	h.cancel()
	return nil
}

// Runs lists current handles, active first by start time.
func (r *Runtime) Runs() []RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RunInfo, 0, len(r.runs))
	for _, h := range r.runs {
		done := false
		select {
		case <-h.done:
			done = true
		default:
		}
		out = append(out, RunInfo{
			ID:        h.id,
			Goal:      h.goal.Text,
			StartedAt: h.startedAt,
			Done:      done,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Done != out[j].Done {
			return !out[i].Done
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}
