package toolchain

import (
	"sync"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

// StepStatus is the disposition of one plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// ExecStatus is the aggregate disposition of a plan execution.
type ExecStatus string

const (
	ExecRunning         ExecStatus = "running"
	ExecCompleted       ExecStatus = "completed"
	ExecPartiallyFailed ExecStatus = "partially_failed"
	ExecCancelled       ExecStatus = "cancelled"
)

// StepOutcome records the result of one step. Err is nil only for
// completed steps; Attempts counts handler invocations, so it stays zero
// for steps that never started.
type StepOutcome struct {
	StepID     string
	Status     StepStatus
	Output     any
	Err        error
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// ExecutionContext carries the shared state of one plan execution: the
// goal, the plan, and every step outcome. The executor writes it; the
// agent loop and evaluation read it. All accessors are safe for
// concurrent use.
type ExecutionContext struct {
	RunID string
	Goal  core.Goal
	Plan  *Plan

	mu       sync.Mutex
	status   ExecStatus
	outcomes map[string]StepOutcome
	started  time.Time
	finished time.Time
}

// NewExecutionContext builds an execution context with every step pending.
func NewExecutionContext(runID string, goal core.Goal, plan *Plan) *ExecutionContext {
	outcomes := make(map[string]StepOutcome, plan.Len())
	for _, s := range plan.Steps {
		outcomes[s.ID] = StepOutcome{StepID: s.ID, Status: StepPending}
	}
	return &ExecutionContext{
		RunID:    runID,
		Goal:     goal,
		Plan:     plan,
		status:   ExecRunning,
		outcomes: outcomes,
		started:  time.Now().UTC(),
	}
}

// Status returns the aggregate execution status.
func (ec *ExecutionContext) Status() ExecStatus {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.status
}

// Outcome returns the recorded outcome for a step.
func (ec *ExecutionContext) Outcome(stepID string) (StepOutcome, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out, ok := ec.outcomes[stepID]
	return out, ok
}

// Outcomes lists step outcomes in plan order.
func (ec *ExecutionContext) Outcomes() []StepOutcome {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]StepOutcome, 0, len(ec.outcomes))
	for _, s := range ec.Plan.Steps {
		out = append(out, ec.outcomes[s.ID])
	}
	return out
}

// Output returns the output of a completed step.
func (ec *ExecutionContext) Output(stepID string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	outcome, ok := ec.outcomes[stepID]
	if !ok || outcome.Status != StepCompleted {
		return nil, false
	}
	return outcome.Output, true
}

// Counts tallies outcomes by status.
func (ec *ExecutionContext) Counts() map[StepStatus]int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	counts := make(map[StepStatus]int, 6)
	for _, outcome := range ec.outcomes {
		counts[outcome.Status]++
	}
	return counts
}

// StartedAt is when execution began.
func (ec *ExecutionContext) StartedAt() time.Time {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.started
}

// FinishedAt is when execution reached a terminal status. Zero while
// running.
func (ec *ExecutionContext) FinishedAt() time.Time {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.finished
}

// Summary digests the execution for evaluation and re-planning: aggregate
// status, counts, and the ids and errors of steps that did not complete.
func (ec *ExecutionContext) Summary() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	var failed, skipped, cancelled []map[string]any
	completed := 0
	for _, s := range ec.Plan.Steps {
		outcome := ec.outcomes[s.ID]
		entry := map[string]any{"step": s.ID, "capability": s.Capability.Name}
		if outcome.Err != nil {
			entry["error"] = outcome.Err.Error()
		}
		switch outcome.Status {
		case StepCompleted:
			completed++
		case StepFailed:
			failed = append(failed, entry)
		case StepSkipped:
			skipped = append(skipped, entry)
		case StepCancelled:
			cancelled = append(cancelled, entry)
		}
	}

	summary := map[string]any{
		"status":    string(ec.status),
		"steps":     len(ec.Plan.Steps),
		"completed": completed,
	}
	if len(failed) > 0 {
		summary["failed"] = failed
	}
	if len(skipped) > 0 {
		summary["skipped"] = skipped
	}
	if len(cancelled) > 0 {
		summary["cancelled"] = cancelled
	}
	return summary
}

// markRunning transitions a step to running.
func (ec *ExecutionContext) markRunning(stepID string, at time.Time) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	outcome := ec.outcomes[stepID]
	outcome.Status = StepRunning
	outcome.StartedAt = at
	ec.outcomes[stepID] = outcome
}

// record stores a terminal step outcome.
func (ec *ExecutionContext) record(outcome StepOutcome) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.outcomes[outcome.StepID] = outcome
}

// finish stamps the aggregate status and completion time.
func (ec *ExecutionContext) finish(status ExecStatus) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.status = status
	ec.finished = time.Now().UTC()
}
