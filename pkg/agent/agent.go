// Package agent implements the goal-driven run loop: plan against a fresh
// registry snapshot, execute the compiled plan, evaluate the outcome, and
// re-plan until the goal is met or the budget runs out.
package agent

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
	"github.com/tekhne-dev/tekhne/pkg/registry"
	"github.com/tekhne-dev/tekhne/pkg/telemetry"
	"github.com/tekhne-dev/tekhne/pkg/toolchain"
)

var tracer = otel.Tracer("tekhne/agent")

// RunState is one phase of the run state machine.
type RunState string

const (
	StateIdle       RunState = "idle"
	StatePlanning   RunState = "planning"
	StateExecuting  RunState = "executing"
	StateEvaluating RunState = "evaluating"
	StateReplanning RunState = "replanning"
	StateCompleted  RunState = "completed"
	StateFailed     RunState = "failed"
	StateCancelled  RunState = "cancelled"
)

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From   RunState
	To     RunState
	At     time.Time
	Reason string
}

// Criterion decides whether a finished execution satisfies the goal. The
// run completes when it returns true; otherwise the loop re-plans while
// budget remains.
type Criterion func(ctx context.Context, execCtx *toolchain.ExecutionContext) (bool, error)

// AllStepsCompleted is the default criterion: the goal is met when every
// step of the final plan completed.
func AllStepsCompleted(_ context.Context, execCtx *toolchain.ExecutionContext) (bool, error) {
	return execCtx.Status() == toolchain.ExecCompleted, nil
}

// RunResult is the terminal record of one run.
type RunResult struct {
	RunID       string
	AgentID     string
	Goal        core.Goal
	State       RunState
	Replans     int
	Transitions []Transition
	Executions  []*toolchain.ExecutionContext
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Final returns the execution context of the last iteration, if any ran.
func (r *RunResult) Final() *toolchain.ExecutionContext {
	if len(r.Executions) == 0 {
		return nil
	}
	return r.Executions[len(r.Executions)-1]
}

// Agent drives goal runs against a skill registry.
type Agent struct {
	id         string
	registry   *registry.Registry
	planner    core.Planner
	compiler   *toolchain.Compiler
	executor   *toolchain.Executor
	criterion  Criterion
	maxReplans int
	emitter    core.EventEmitter
	logger     *slog.Logger
}

var (
	// ErrMissingRegistry is returned by New when no registry is configured.
	ErrMissingRegistry = stderrors.New("agent registry is required")

	// ErrMissingPlanner is returned by New when neither a planner nor a
	// compiler is configured.
	ErrMissingPlanner = stderrors.New("agent planner is required")
)

// Option configures an Agent instance.
type Option func(*Agent)

// WithRegistry sets the skill registry the agent plans against.
func WithRegistry(r *registry.Registry) Option {
	return func(a *Agent) { a.registry = r }
}

// WithPlanner sets the planner used to build the compiler.
func WithPlanner(p core.Planner) Option {
	return func(a *Agent) { a.planner = p }
}

// WithCompiler overrides the compiler (takes precedence over WithPlanner).
func WithCompiler(c *toolchain.Compiler) Option {
	return func(a *Agent) { a.compiler = c }
}

// WithExecutor sets the plan executor.
func WithExecutor(e *toolchain.Executor) Option {
	return func(a *Agent) {
		if e != nil {
			a.executor = e
		}
	}
}

// WithCriterion sets the default completion criterion.
func WithCriterion(c Criterion) Option {
	return func(a *Agent) {
		if c != nil {
			a.criterion = c
		}
	}
}

// WithMaxReplans bounds how many times a run may re-plan.
func WithMaxReplans(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.maxReplans = n
		}
	}
}

// WithEmitter streams run and step events to the given emitter.
func WithEmitter(emitter core.EventEmitter) Option {
	return func(a *Agent) {
		if emitter != nil {
			a.emitter = emitter
		}
	}
}

// WithLogger sets the agent's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an agent. A registry and either a planner or a compiler are
// required.
func New(id string, opts ...Option) (*Agent, error) {
	if id == "" {
		return nil, stderrors.New("agent id is required")
	}
	a := &Agent{
		id:         id,
		criterion:  AllStepsCompleted,
		maxReplans: 2,
		emitter:    core.NoopEventEmitter{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		return nil, ErrMissingRegistry
	}
	if a.compiler == nil {
		if a.planner == nil {
			return nil, ErrMissingPlanner
		}
		a.compiler = toolchain.NewCompiler(a.planner, toolchain.WithCompilerLogger(a.logger))
	}
	if a.executor == nil {
		a.executor = toolchain.NewExecutor(
			toolchain.WithEmitter(a.emitter),
			toolchain.WithExecutorLogger(a.logger),
		)
	}
	return a, nil
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// RunOption adjusts a single run.
type RunOption func(*runConfig)

type runConfig struct {
	criterion  Criterion
	maxReplans int
}

// WithRunCriterion overrides the completion criterion for one run.
func WithRunCriterion(c Criterion) RunOption {
	return func(rc *runConfig) {
		if c != nil {
			rc.criterion = c
		}
	}
}

// WithRunMaxReplans overrides the replan budget for one run.
func WithRunMaxReplans(n int) RunOption {
	return func(rc *runConfig) {
		if n >= 0 {
			rc.maxReplans = n
		}
	}
}

// Run drives the state machine for one goal until a terminal state. The
// returned error is the run's terminal error (nil for completed runs); the
// RunResult always carries the full transition history and every
// iteration's execution context.
func (a *Agent) Run(ctx context.Context, goal core.Goal, opts ...RunOption) (*RunResult, error) {
	cfg := runConfig{criterion: a.criterion, maxReplans: a.maxReplans}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := tracer.Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(telemetry.RunAttributes(a.id, runID)...)
	span.SetAttributes(telemetry.GoalAttributes(goal.Text)...)

	result := &RunResult{
		RunID:     runID,
		AgentID:   a.id,
		Goal:      goal,
		State:     StateIdle,
		StartedAt: time.Now().UTC(),
	}

	transition := func(to RunState, reason string) {
		from := result.State
		result.Transitions = append(result.Transitions, Transition{
			From:   from,
			To:     to,
			At:     time.Now().UTC(),
			Reason: reason,
		})
		result.State = to
		a.emitter.Emit(ctx, core.NewEvent(ctx, core.EventRunState, "agent", map[string]any{
			"agent":  a.id,
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		}))
		a.logger.Info("agent.run.state",
			slog.String("agent_id", a.id),
			slog.String("run_id", runID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.String("reason", reason),
		)
	}

	fail := func(err error, reason string) {
		result.Err = err
		transition(StateFailed, reason)
	}
	cancelled := func(cause error) {
		result.Err = errors.New(errors.CodeCancelled, "run cancelled", cause)
		transition(StateCancelled, "context cancelled")
	}

	a.logger.Info("agent.run.start",
		slog.String("agent_id", a.id),
		slog.String("run_id", runID),
		slog.String("goal", goal.Text),
	)

	iterGoal := goal
	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			cancelled(ctx.Err())
			break
		}

		transition(StatePlanning, "")
		snap := a.registry.Snapshot()
		plan, err := a.compiler.Compile(ctx, iterGoal, snap)
		if err != nil {
			if ctx.Err() != nil {
				cancelled(ctx.Err())
			} else {
				fail(err, "compilation failed")
			}
			break
		}

		transition(StateExecuting, "plan "+plan.ID)
		execCtx := toolchain.NewExecutionContext(runID, iterGoal, plan)
		result.Executions = append(result.Executions, execCtx)
		if err := a.executor.Execute(ctx, execCtx); err != nil {
			fail(err, "executor rejected the plan")
			break
		}
		if execCtx.Status() == toolchain.ExecCancelled || ctx.Err() != nil {
			cancelled(ctx.Err())
			break
		}

		transition(StateEvaluating, "")
		met, err := cfg.criterion(ctx, execCtx)
		if err != nil {
			fail(errors.New(errors.CodeInternal, "criterion evaluation failed", err), "criterion error")
			break
		}
		if met {
			transition(StateCompleted, "")
			break
		}
		if iteration >= cfg.maxReplans {
			fail(errors.New(errors.CodePlanningFailed, "goal not met and replan budget exhausted", nil).
				WithContext("replans", iteration), "replan budget exhausted")
			break
		}

		result.Replans++
		transition(StateReplanning, "")
		recordReplan(ctx)
		iterGoal = replanGoal(goal, result.Replans, execCtx)
	}

	result.FinishedAt = time.Now().UTC()
	span.SetAttributes(
		attribute.String(telemetry.AttrRunState, string(result.State)),
		attribute.Int(telemetry.AttrRunReplans, result.Replans),
	)
	recordRun(ctx, result.State, result.FinishedAt.Sub(result.StartedAt))

	a.logger.Info("agent.run.finished",
		slog.String("agent_id", a.id),
		slog.String("run_id", runID),
		slog.String("state", string(result.State)),
		slog.Int("replans", result.Replans),
		slog.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, result.Err
}

// replanGoal derives the next iteration's goal: the original text plus a
// digest of the prior execution for the planner to steer by.
func replanGoal(base core.Goal, replan int, prior *toolchain.ExecutionContext) core.Goal {
	return base.
		WithParam("replan", replan).
		WithParam("prior", prior.Summary())
}
