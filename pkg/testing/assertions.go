// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tekhne-dev/tekhne/pkg/agent"
	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/toolchain"
)

// Assertions provides assertion helpers for testing.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

// AssertEqual asserts that two values are equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if expected != actual {
		a.t.Errorf("%s: expected %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertNotEqual asserts that two values are not equal.
func (a *Assertions) AssertNotEqual(expected, actual any, msg string) {
	a.t.Helper()
	if expected == actual {
		a.t.Errorf("%s: expected not %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertNil asserts that the value is nil.
func (a *Assertions) AssertNil(value any, msg string) {
	a.t.Helper()
	if value != nil {
		a.t.Errorf("%s: expected nil, got %v", msg, value)
		a.failed = true
	}
}

// AssertNotNil asserts that the value is not nil.
func (a *Assertions) AssertNotNil(value any, msg string) {
	a.t.Helper()
	if value == nil {
		a.t.Errorf("%s: expected non-nil value", msg)
		a.failed = true
	}
}

// AssertTrue asserts that the value is true.
func (a *Assertions) AssertTrue(value bool, msg string) {
	a.t.Helper()
	if !value {
		a.t.Errorf("%s: expected true", msg)
		a.failed = true
	}
}

// AssertFalse asserts that the value is false.
func (a *Assertions) AssertFalse(value bool, msg string) {
	a.t.Helper()
	if value {
		a.t.Errorf("%s: expected false", msg)
		a.failed = true
	}
}

// AssertContains asserts that the string contains the substring.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.t.Errorf("%s: %q does not contain %q", msg, s, substr)
		a.failed = true
	}
}

// AssertNotContains asserts that the string does not contain the substring.
func (a *Assertions) AssertNotContains(s, substr, msg string) {
	a.t.Helper()
	if strings.Contains(s, substr) {
		a.t.Errorf("%s: %q should not contain %q", msg, s, substr)
		a.failed = true
	}
}

// AssertError asserts that the error is not nil.
func (a *Assertions) AssertError(err error, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Errorf("%s: expected error, got nil", msg)
		a.failed = true
	}
}

// AssertNoError asserts that the error is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.t.Errorf("%s: unexpected error: %v", msg, err)
		a.failed = true
	}
}

// AssertErrorContains asserts that the error message contains the substring.
func (a *Assertions) AssertErrorContains(err error, substr, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Errorf("%s: expected error containing %q, got nil", msg, substr)
		a.failed = true
		return
	}
	if !strings.Contains(err.Error(), substr) {
		a.t.Errorf("%s: error %q does not contain %q", msg, err.Error(), substr)
		a.failed = true
	}
}

// AssertLen asserts the length of a slice or map.
func (a *Assertions) AssertLen(value any, expected int, msg string) {
	a.t.Helper()
	var length int
	switch v := value.(type) {
	case string:
		length = len(v)
	case []any:
		length = len(v)
	case []string:
		length = len(v)
	case []core.ProposedStep:
		length = len(v)
	case []core.Event:
		length = len(v)
	case []core.Capability:
		length = len(v)
	case []toolchain.StepOutcome:
		length = len(v)
	case []HandlerCall:
		length = len(v)
	case map[string]any:
		length = len(v)
	default:
		a.t.Errorf("%s: cannot get length of %T", msg, value)
		a.failed = true
		return
	}
	if length != expected {
		a.t.Errorf("%s: expected length %d, got %d", msg, expected, length)
		a.failed = true
	}
}

// RunAssertions provides assertion helpers for agent run results.
type RunAssertions struct {
	*Assertions
	result *agent.RunResult
}

// AssertRun creates run assertions for the given result.
func (a *Assertions) AssertRun(result *agent.RunResult) *RunAssertions {
	a.t.Helper()
	if result == nil {
		a.t.Error("run result is nil")
		a.failed = true
		return &RunAssertions{Assertions: a, result: &agent.RunResult{}}
	}
	return &RunAssertions{Assertions: a, result: result}
}

// HasState asserts the run ended in the given state.
func (r *RunAssertions) HasState(state agent.RunState) *RunAssertions {
	r.t.Helper()
	if r.result.State != state {
		r.t.Errorf("expected state %q, got %q", state, r.result.State)
		r.failed = true
	}
	return r
}

// HasReplans asserts the number of replan iterations.
func (r *RunAssertions) HasReplans(count int) *RunAssertions {
	r.t.Helper()
	if r.result.Replans != count {
		r.t.Errorf("expected %d replans, got %d", count, r.result.Replans)
		r.failed = true
	}
	return r
}

// HasExecutionCount asserts the number of plan executions.
func (r *RunAssertions) HasExecutionCount(count int) *RunAssertions {
	r.t.Helper()
	if len(r.result.Executions) != count {
		r.t.Errorf("expected %d executions, got %d", count, len(r.result.Executions))
		r.failed = true
	}
	return r
}

// HasTransition asserts the run passed through the given transition.
func (r *RunAssertions) HasTransition(from, to agent.RunState) *RunAssertions {
	r.t.Helper()
	for _, tr := range r.result.Transitions {
		if tr.From == from && tr.To == to {
			return r
		}
	}
	r.t.Errorf("no transition %q -> %q recorded", from, to)
	r.failed = true
	return r
}

// HasNoError asserts the run finished without error.
func (r *RunAssertions) HasNoError() *RunAssertions {
	r.t.Helper()
	if r.result.Err != nil {
		r.t.Errorf("expected no run error, got: %v", r.result.Err)
		r.failed = true
	}
	return r
}

// ExecutionAssertions provides assertion helpers for plan executions.
type ExecutionAssertions struct {
	*Assertions
	execCtx *toolchain.ExecutionContext
}

// AssertExecution creates execution assertions for the given context.
func (a *Assertions) AssertExecution(execCtx *toolchain.ExecutionContext) *ExecutionAssertions {
	a.t.Helper()
	if execCtx == nil {
		a.t.Error("execution context is nil")
		a.failed = true
		return &ExecutionAssertions{Assertions: a, execCtx: &toolchain.ExecutionContext{}}
	}
	return &ExecutionAssertions{Assertions: a, execCtx: execCtx}
}

// HasStatus asserts the execution ended with the given status.
func (e *ExecutionAssertions) HasStatus(status toolchain.ExecStatus) *ExecutionAssertions {
	e.t.Helper()
	if e.execCtx.Status() != status {
		e.t.Errorf("expected execution status %q, got %q", status, e.execCtx.Status())
		e.failed = true
	}
	return e
}

// StepStatus asserts a step ended with the given status.
func (e *ExecutionAssertions) StepStatus(stepID string, status toolchain.StepStatus) *ExecutionAssertions {
	e.t.Helper()
	outcome, ok := e.execCtx.Outcome(stepID)
	if !ok {
		e.t.Errorf("step %q has no recorded outcome", stepID)
		e.failed = true
		return e
	}
	if outcome.Status != status {
		e.t.Errorf("step %q: expected status %q, got %q", stepID, status, outcome.Status)
		e.failed = true
	}
	return e
}

// StepCompleted asserts a step completed successfully.
func (e *ExecutionAssertions) StepCompleted(stepID string) *ExecutionAssertions {
	return e.StepStatus(stepID, toolchain.StepCompleted)
}

// StepFailed asserts a step ended in failure.
func (e *ExecutionAssertions) StepFailed(stepID string) *ExecutionAssertions {
	return e.StepStatus(stepID, toolchain.StepFailed)
}

// StepOutputContains asserts a step's rendered output contains the substring.
func (e *ExecutionAssertions) StepOutputContains(stepID, substr string) *ExecutionAssertions {
	e.t.Helper()
	out, ok := e.execCtx.Output(stepID)
	if !ok {
		e.t.Errorf("step %q produced no output", stepID)
		e.failed = true
		return e
	}
	rendered := RenderOutput(out)
	if !strings.Contains(rendered, substr) {
		e.t.Errorf("step %q output %q does not contain %q", stepID, rendered, substr)
		e.failed = true
	}
	return e
}

// CompletedCount asserts the number of completed steps.
func (e *ExecutionAssertions) CompletedCount(count int) *ExecutionAssertions {
	e.t.Helper()
	got := e.execCtx.Counts()[toolchain.StepCompleted]
	if got != count {
		e.t.Errorf("expected %d completed steps, got %d", count, got)
		e.failed = true
	}
	return e
}

// ScenarioResultAssertions provides assertions for scenario results.
type ScenarioResultAssertions struct {
	*Assertions
	result *ScenarioResult
}

// AssertScenarioResult creates assertions for a scenario result.
func (a *Assertions) AssertScenarioResult(result *ScenarioResult) *ScenarioResultAssertions {
	a.t.Helper()
	if result == nil {
		a.t.Error("scenario result is nil")
		a.failed = true
		return &ScenarioResultAssertions{Assertions: a, result: &ScenarioResult{}}
	}
	return &ScenarioResultAssertions{Assertions: a, result: result}
}

// Succeeded asserts the scenario completed without error.
func (s *ScenarioResultAssertions) Succeeded() *ScenarioResultAssertions {
	s.t.Helper()
	if s.result.Error != nil {
		s.t.Errorf("expected success, got error: %v", s.result.Error)
		s.failed = true
	}
	return s
}

// Failed asserts the scenario failed with an error.
func (s *ScenarioResultAssertions) Failed() *ScenarioResultAssertions {
	s.t.Helper()
	if s.result.Error == nil {
		s.t.Error("expected failure, got success")
		s.failed = true
	}
	return s
}

// EndedIn asserts the run ended in the given state.
func (s *ScenarioResultAssertions) EndedIn(state agent.RunState) *ScenarioResultAssertions {
	s.t.Helper()
	if s.result.Result == nil {
		s.t.Error("no run result")
		s.failed = true
		return s
	}
	if s.result.Result.State != state {
		s.t.Errorf("expected state %q, got %q", state, s.result.Result.State)
		s.failed = true
	}
	return s
}

// StepOutputContains asserts a step output in the final execution
// contains the substring.
func (s *ScenarioResultAssertions) StepOutputContains(stepID, substr string) *ScenarioResultAssertions {
	s.t.Helper()
	execCtx := s.result.finalExecution()
	if execCtx == nil {
		s.t.Error("no execution ran")
		s.failed = true
		return s
	}
	out, ok := execCtx.Output(stepID)
	if !ok {
		s.t.Errorf("step %q produced no output", stepID)
		s.failed = true
		return s
	}
	rendered := RenderOutput(out)
	if !strings.Contains(rendered, substr) {
		s.t.Errorf("step %q output %q does not contain %q", stepID, rendered, substr)
		s.failed = true
	}
	return s
}

// Quick assertion functions for common patterns

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// RequireEqual fails the test immediately if values are not equal.
func RequireEqual(t *testing.T, expected, actual any, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// RequireNotNil fails the test immediately if value is nil.
func RequireNotNil(t *testing.T, value any, msg string) {
	t.Helper()
	if value == nil {
		t.Fatalf("%s: expected non-nil value", msg)
	}
}

// AssertCallArg checks one argument of a recorded handler call.
func AssertCallArg(t *testing.T, call HandlerCall, key string, expected any) {
	t.Helper()
	got, ok := call.Args[key]
	if !ok {
		t.Errorf("call has no argument %q", key)
		return
	}
	if got != expected {
		t.Errorf("argument %q: expected %v, got %v", key, expected, got)
	}
}

// FormatSteps formats proposed steps for error messages.
func FormatSteps(steps []core.ProposedStep) string {
	if len(steps) == 0 {
		return "(none)"
	}
	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID
	}
	return fmt.Sprintf("[%s]", strings.Join(ids, ", "))
}
