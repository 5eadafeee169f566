package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
	"github.com/tekhne-dev/tekhne/pkg/resilience"
)

var tracer = otel.Tracer("tekhne/toolchain")

// Executor runs compiled plans. Steps run concurrently once their
// dependencies complete, bounded by the concurrency limit. Every handler
// invocation is bounded by the step timeout; failures the handler marks
// recoverable retry with backoff, and repeated failures open the
// capability's circuit breaker.
//
// Cancelling the run context stops new steps from starting. In-flight
// handlers keep a detached context bounded by the step timeout, so they
// get a bounded grace period to finish; a step whose grace expires is
// recorded cancelled.
type Executor struct {
	concurrency int
	stepTimeout time.Duration
	retry       resilience.RetryConfig
	breakers    *resilience.BreakerGroup
	audit       AuditStore
	emitter     core.EventEmitter
	logger      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithConcurrency bounds how many steps run at once.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithStepTimeout bounds each handler invocation. This is also the grace
// period in-flight steps get after run cancellation.
func WithStepTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithRetryConfig sets the retry policy for recoverable step failures.
func WithRetryConfig(rc resilience.RetryConfig) ExecutorOption {
	return func(e *Executor) { e.retry = rc }
}

// WithBreakerGroup sets the per-capability circuit breakers.
func WithBreakerGroup(g *resilience.BreakerGroup) ExecutorOption {
	return func(e *Executor) {
		if g != nil {
			e.breakers = g
		}
	}
}

// WithAuditStore persists step outcomes to the given store.
func WithAuditStore(s AuditStore) ExecutorOption {
	return func(e *Executor) {
		if s != nil {
			e.audit = s
		}
	}
}

// WithEmitter streams step lifecycle events to the given emitter.
func WithEmitter(emitter core.EventEmitter) ExecutorOption {
	return func(e *Executor) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor builds an executor with defaults: four concurrent steps,
// a 30 second step timeout, the default retry policy, and per-capability
// circuit breakers.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		concurrency: 4,
		stepTimeout: 30 * time.Second,
		retry:       resilience.DefaultRetryConfig(),
		audit:       noopAuditStore{},
		emitter:     core.NoopEventEmitter{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breakers == nil {
		e.breakers = resilience.NewBreakerGroup(resilience.DefaultBreakerConfig(), e.logger)
	}
	return e
}

// stepResult pairs a dispatched step with its outcome.
type stepResult struct {
	step    *Step
	outcome StepOutcome
}

// Execute runs every step of the plan held by execCtx and records outcomes
// into it. The returned error covers structural problems only; step
// failures are reported through the execution context, whose final status
// is ExecCompleted, ExecPartiallyFailed, or ExecCancelled.
func (e *Executor) Execute(ctx context.Context, execCtx *ExecutionContext) error {
	if execCtx == nil || execCtx.Plan == nil {
		return errors.New(errors.CodeInvalidInput, "execution context has no plan", nil)
	}
	plan := execCtx.Plan
	if execCtx.RunID != "" {
		ctx = core.WithRunID(ctx, execCtx.RunID)
	} else {
		var runID string
		ctx, runID = core.EnsureRunID(ctx)
		execCtx.RunID = runID
	}

	ctx, span := tracer.Start(ctx, "toolchain.execute", trace.WithAttributes(
		attribute.String("tekhne.plan.id", plan.ID),
		attribute.Int("tekhne.plan.steps", plan.Len()),
	))
	defer span.End()

	e.emitter.Emit(ctx, core.NewEvent(ctx, core.EventExecutionStarted, "toolchain", map[string]any{
		"plan":  plan.ID,
		"steps": plan.Len(),
	}))
	e.logger.Info("toolchain.execution.started",
		"run_id", execCtx.RunID,
		"plan_id", plan.ID,
		"steps", plan.Len(),
	)

	indegree := make(map[string]int, plan.Len())
	for _, s := range plan.Steps {
		indegree[s.ID] = len(s.Deps)
	}
	dependents := plan.dependents()

	sem := make(chan struct{}, e.concurrency)
	results := make(chan stepResult)
	dispatched := make(map[string]bool, plan.Len())
	terminal := 0
	pruned := false

	dispatch := func(s *Step) {
		dispatched[s.ID] = true
		go func() {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- stepResult{step: s, outcome: cancelledBeforeStart(s.ID, ctx.Err())}
				return
			}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				results <- stepResult{step: s, outcome: cancelledBeforeStart(s.ID, ctx.Err())}
				return
			}
			results <- stepResult{step: s, outcome: e.runStep(ctx, execCtx, s)}
		}()
	}

	// pruneRemaining marks every step that was never dispatched as
	// cancelled. Dispatched steps report through the results channel.
	pruneRemaining := func(cause error) {
		if pruned {
			return
		}
		pruned = true
		for _, s := range plan.Steps {
			if dispatched[s.ID] {
				continue
			}
			outcome := cancelledBeforeStart(s.ID, cause)
			e.recordOutcome(ctx, execCtx, s, outcome)
			terminal++
		}
	}

	// skipDependents marks the transitive dependent closure of a failed
	// step as skipped. None of them can have been dispatched, because the
	// failed dependency never completed.
	skipDependents := func(failed *Step, cause error) {
		type skipItem struct{ id, via string }
		queue := make([]skipItem, 0, len(dependents[failed.ID]))
		for _, id := range dependents[failed.ID] {
			queue = append(queue, skipItem{id: id, via: failed.ID})
		}
		for len(queue) > 0 {
			item := queue[0]
			queue = queue[1:]
			if outcome, ok := execCtx.Outcome(item.id); !ok || outcome.Status != StepPending {
				continue
			}
			step, _ := plan.Step(item.id)
			e.recordOutcome(ctx, execCtx, step, StepOutcome{
				StepID: item.id,
				Status: StepSkipped,
				Err: errors.New(errors.CodeStepSkipped,
					fmt.Sprintf("step %s skipped: dependency %s did not complete", item.id, item.via), cause).
					WithContext("dependency", item.via),
				FinishedAt: time.Now().UTC(),
			})
			terminal++
			for _, next := range dependents[item.id] {
				queue = append(queue, skipItem{id: next, via: item.id})
			}
		}
	}

	for _, s := range plan.Steps {
		if indegree[s.ID] == 0 {
			dispatch(s)
		}
	}

	for terminal < plan.Len() {
		res := <-results
		e.recordOutcome(ctx, execCtx, res.step, res.outcome)
		terminal++

		if ctx.Err() != nil {
			pruneRemaining(ctx.Err())
			continue
		}

		switch res.outcome.Status {
		case StepCompleted:
			for _, id := range dependents[res.step.ID] {
				indegree[id]--
				if indegree[id] > 0 || dispatched[id] {
					continue
				}
				// A dependent that lost another dependency is already
				// marked skipped; only pending steps dispatch.
				if outcome, ok := execCtx.Outcome(id); ok && outcome.Status == StepPending {
					next, _ := plan.Step(id)
					dispatch(next)
				}
			}
		case StepFailed:
			skipDependents(res.step, res.outcome.Err)
		}
	}

	status := ExecCompleted
	counts := execCtx.Counts()
	switch {
	case ctx.Err() != nil || counts[StepCancelled] > 0:
		status = ExecCancelled
	case counts[StepFailed] > 0 || counts[StepSkipped] > 0:
		status = ExecPartiallyFailed
	}
	execCtx.finish(status)

	span.SetAttributes(attribute.String("tekhne.execution.status", string(status)))
	if status != ExecCompleted {
		span.SetStatus(codes.Error, string(status))
	}
	e.emitter.Emit(ctx, core.NewEvent(ctx, core.EventExecutionFinished, "toolchain", map[string]any{
		"plan":      plan.ID,
		"status":    string(status),
		"completed": counts[StepCompleted],
		"failed":    counts[StepFailed],
		"skipped":   counts[StepSkipped],
		"cancelled": counts[StepCancelled],
	}))
	e.logger.Info("toolchain.execution.finished",
		"run_id", execCtx.RunID,
		"plan_id", plan.ID,
		"status", string(status),
		"duration", execCtx.FinishedAt().Sub(execCtx.StartedAt()),
	)
	return nil
}

// runStep executes one step to a terminal outcome: input validation, then
// the breaker-wrapped, timeout-bounded handler invocation with retries,
// then output validation.
func (e *Executor) runStep(ctx context.Context, execCtx *ExecutionContext, step *Step) StepOutcome {
	ctx = core.WithStepID(ctx, step.ID)
	ctx, span := tracer.Start(ctx, "toolchain.step", trace.WithAttributes(
		attribute.String("tekhne.step.id", step.ID),
		attribute.String("tekhne.capability", step.Capability.Name),
		attribute.String("tekhne.skill", step.Capability.Skill),
	))
	defer span.End()

	started := time.Now().UTC()
	execCtx.markRunning(step.ID, started)
	e.emitter.Emit(ctx, core.NewEvent(ctx, core.EventStepStarted, "toolchain", map[string]any{
		"step":       step.ID,
		"capability": step.Capability.Name,
	}))

	args := e.materializeArgs(execCtx, step)

	attempts := 0
	var result any
	err := step.Capability.InputSchema.Validate(args)
	if err != nil {
		err = errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("step %s input rejected by schema", step.ID), err).
			WithContext("capability", step.Capability.Name)
	} else {
		retry := e.retry.WithOnRetry(func(attempt int, attemptErr error) {
			e.emitter.Emit(ctx, core.NewEvent(ctx, core.EventStepRetried, "toolchain", map[string]any{
				"step":    step.ID,
				"attempt": attempt,
				"error":   attemptErr.Error(),
			}))
			e.logger.Warn("toolchain.step.retry",
				"step", step.ID,
				"capability", step.Capability.Name,
				"attempt", attempt,
				"error", attemptErr,
			)
			recordRetry(ctx, step.Capability.Name)
		})
		result, err = retry.DoWithResult(ctx, func() (any, error) {
			attempts++
			return e.invokeOnce(ctx, step, args)
		})
	}

	if err == nil {
		if verr := step.Capability.OutputSchema.Validate(result); verr != nil {
			err = errors.New(errors.CodeStepFailed,
				fmt.Sprintf("step %s output rejected by schema", step.ID), verr).
				WithContext("capability", step.Capability.Name)
			result = nil
		}
	}

	outcome := StepOutcome{
		StepID:     step.ID,
		Output:     result,
		Err:        err,
		Attempts:   attempts,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	switch {
	case err == nil:
		outcome.Status = StepCompleted
		span.SetStatus(codes.Ok, "")
	case ctx.Err() != nil && errors.IsCode(err, errors.CodeCancelled):
		outcome.Status = StepCancelled
		outcome.Output = nil
		span.SetStatus(codes.Error, "cancelled")
	case ctx.Err() != nil && errors.IsCode(err, errors.CodeStepTimeout):
		// The run was cancelled and the grace period elapsed.
		outcome.Status = StepCancelled
		outcome.Output = nil
		outcome.Err = errors.New(errors.CodeCancelled,
			fmt.Sprintf("step %s cancelled after grace period", step.ID), err)
		span.SetStatus(codes.Error, "cancelled")
	default:
		outcome.Status = StepFailed
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return outcome
}

// invokeOnce performs a single breaker-guarded, timeout-bounded handler
// invocation. The handler context is detached from run cancellation so an
// in-flight invocation can finish within its timeout after the run is
// cancelled.
func (e *Executor) invokeOnce(ctx context.Context, step *Step, args map[string]any) (any, error) {
	if ctx.Err() != nil {
		return nil, errors.New(errors.CodeCancelled, "run cancelled", ctx.Err())
	}
	return e.breakers.Execute(step.Capability.Name, func() (any, error) {
		invokeCtx := context.WithoutCancel(ctx)
		return resilience.WithTimeoutResult(invokeCtx, resilience.TimeoutConfig{Duration: e.stepTimeout},
			func(tctx context.Context) (any, error) {
				return step.Capability.Handler.Invoke(tctx, args)
			})
	})
}

// materializeArgs resolves bindings into concrete argument values.
// Reference bindings read completed upstream outputs, which the scheduler
// guarantees exist before dispatch.
func (e *Executor) materializeArgs(execCtx *ExecutionContext, step *Step) map[string]any {
	args := make(map[string]any, len(step.Args))
	for name, binding := range step.Args {
		if binding.IsRef() {
			out, _ := execCtx.Output(binding.Ref)
			args[name] = out
			continue
		}
		args[name] = binding.Literal
	}
	return args
}

// recordOutcome stores a terminal outcome and fans it out to events,
// audit, metrics, and the log.
func (e *Executor) recordOutcome(ctx context.Context, execCtx *ExecutionContext, step *Step, outcome StepOutcome) {
	execCtx.record(outcome)

	payload := map[string]any{
		"step":       outcome.StepID,
		"capability": step.Capability.Name,
		"status":     string(outcome.Status),
		"attempts":   outcome.Attempts,
	}
	if outcome.Err != nil {
		payload["error"] = outcome.Err.Error()
	}
	e.emitter.Emit(ctx, core.NewEvent(ctx, eventForStatus(outcome.Status), "toolchain", payload))

	// Audit writes survive run cancellation.
	auditCtx := context.WithoutCancel(ctx)
	if err := e.audit.Record(auditCtx, auditEventFor(execCtx, step, outcome)); err != nil {
		e.logger.Warn("toolchain.audit.record_failed", "step", outcome.StepID, "error", err)
	}
	recordStep(ctx, step.Capability.Name, outcome.Status)

	switch outcome.Status {
	case StepCompleted:
		e.logger.Debug("toolchain.step.completed",
			"step", outcome.StepID,
			"capability", step.Capability.Name,
			"attempts", outcome.Attempts,
			"duration", outcome.FinishedAt.Sub(outcome.StartedAt),
		)
	case StepFailed:
		e.logger.Error("toolchain.step.failed",
			"step", outcome.StepID,
			"capability", step.Capability.Name,
			"attempts", outcome.Attempts,
			"error", outcome.Err,
		)
	case StepSkipped:
		e.logger.Info("toolchain.step.skipped", "step", outcome.StepID, "error", outcome.Err)
	case StepCancelled:
		e.logger.Info("toolchain.step.cancelled", "step", outcome.StepID)
	}
}

// cancelledBeforeStart is the outcome for a step pruned by run
// cancellation before its handler ever ran.
func cancelledBeforeStart(stepID string, cause error) StepOutcome {
	return StepOutcome{
		StepID: stepID,
		Status: StepCancelled,
		Err: errors.New(errors.CodeCancelled,
			fmt.Sprintf("step %s cancelled before start", stepID), cause),
		FinishedAt: time.Now().UTC(),
	}
}

// eventForStatus maps a terminal step status to its event type.
func eventForStatus(status StepStatus) core.EventType {
	switch status {
	case StepCompleted:
		return core.EventStepCompleted
	case StepSkipped:
		return core.EventStepSkipped
	case StepCancelled:
		return core.EventStepCancelled
	default:
		return core.EventStepFailed
	}
}
