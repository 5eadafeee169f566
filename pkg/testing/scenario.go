// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing Tekhne agents.
//
// This package includes:
//   - Scenario definitions for declarative run testing
//   - Scripted handlers and skill builders for registry fixtures
//   - Assertion helpers for common validations
//   - Event collectors for verifying run behavior
//
// Example usage:
//
//	scenario := testing.NewScenario("greeting test").
//	    WithGoalText("greet the user").
//	    ExpectState(agent.StateCompleted).
//	    ExpectStepOutput("greet", testing.Contains("hello"))
//
//	result := scenario.Run(t, ag)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/agent"
	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/toolchain"
)

// Scenario defines a test scenario for one agent run.
type Scenario struct {
	name          string
	description   string
	goal          core.Goal
	context       context.Context
	timeout       time.Duration
	runOpts       []agent.RunOption
	collector     *EventCollector
	expectations  []Expectation
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// ScenarioResult contains the outcome of running a scenario. Result is
// never nil after Run.
type ScenarioResult struct {
	Result   *agent.RunResult
	Error    error
	Events   []core.Event
	Duration time.Duration
}

// NewScenario creates a new test scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:         name,
		timeout:      30 * time.Second,
		context:      context.Background(),
		expectations: make([]Expectation, 0),
	}
}

// WithDescription adds a description to the scenario.
func (s *Scenario) WithDescription(desc string) *Scenario {
	s.description = desc
	return s
}

// WithGoal sets the goal submitted to the agent.
func (s *Scenario) WithGoal(goal core.Goal) *Scenario {
	s.goal = goal
	return s
}

// WithGoalText sets a free-text goal.
func (s *Scenario) WithGoalText(text string) *Scenario {
	s.goal = core.NewGoal(text)
	return s
}

// WithContext sets the context for the scenario.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout sets the timeout for the scenario.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithRunOptions forwards per-run options to the agent.
func (s *Scenario) WithRunOptions(opts ...agent.RunOption) *Scenario {
	s.runOpts = append(s.runOpts, opts...)
	return s
}

// WithEvents snapshots the collector into the result after the run. The
// same collector must be wired into the agent as its emitter.
func (s *Scenario) WithEvents(c *EventCollector) *Scenario {
	s.collector = c
	return s
}

// WithSetup adds a setup function to run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a teardown function to run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectState expects the run to end in the given state.
func (s *Scenario) ExpectState(state agent.RunState) *Scenario {
	return s.Expect(&stateExpectation{state: state})
}

// ExpectNoError expects the run to finish without error.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects an error matching the given pattern.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectStepStatus expects a step of the final execution to end with the
// given status.
func (s *Scenario) ExpectStepStatus(stepID string, status toolchain.StepStatus) *Scenario {
	return s.Expect(&stepStatusExpectation{stepID: stepID, status: status})
}

// ExpectStepOutput expects the rendered output of a step in the final
// execution to match.
func (s *Scenario) ExpectStepOutput(stepID string, matcher StringMatcher) *Scenario {
	return s.Expect(&stepOutputExpectation{stepID: stepID, matcher: matcher})
}

// ExpectReplans expects an exact number of replan iterations.
func (s *Scenario) ExpectReplans(n int) *Scenario {
	return s.Expect(&replansExpectation{n: n})
}

// ExpectEvent expects an event of the given type. Requires WithEvents.
func (s *Scenario) ExpectEvent(eventType core.EventType) *Scenario {
	return s.Expect(&eventExpectation{eventType: eventType})
}

// ExpectMinDuration expects the scenario to take at least the given duration.
func (s *Scenario) ExpectMinDuration(d time.Duration) *Scenario {
	return s.Expect(&minDurationExpectation{min: d})
}

// ExpectMaxDuration expects the scenario to complete within the given duration.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// GoalRunner is the surface the harness drives. *agent.Agent satisfies it.
type GoalRunner interface {
	Run(ctx context.Context, goal core.Goal, opts ...agent.RunOption) (*agent.RunResult, error)
}

// Run executes the scenario against the given runner.
func (s *Scenario) Run(t *testing.T, runner GoalRunner) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := runner.Run(ctx, s.goal, s.runOpts...)
	duration := time.Since(start)

	sr := &ScenarioResult{
		Result:   result,
		Error:    err,
		Duration: duration,
	}
	if s.collector != nil {
		sr.Events = s.collector.Events()
	}
	return sr
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()

	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("expectation %q failed: %v", exp.Description(), err)
		}
	}
}

// finalExecution returns the last iteration's execution context, if any.
func (r *ScenarioResult) finalExecution() *toolchain.ExecutionContext {
	if r.Result == nil {
		return nil
	}
	return r.Result.Final()
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{pattern: pattern}
}

// HasPrefix returns a matcher that checks if the string has the given prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

// HasSuffix returns a matcher that checks if the string has the given suffix.
func HasSuffix(suffix string) StringMatcher {
	return &suffixMatcher{suffix: suffix}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool {
	return strings.Contains(s, m.substr)
}

func (m *containsMatcher) Description() string {
	return fmt.Sprintf("contains %q", m.substr)
}

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool {
	return s == m.expected
}

func (m *equalsMatcher) Description() string {
	return fmt.Sprintf("equals %q", m.expected)
}

type regexMatcher struct {
	pattern string
}

func (m *regexMatcher) Match(s string) bool {
	re, err := regexp.Compile(m.pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (m *regexMatcher) Description() string {
	return fmt.Sprintf("matches regex %q", m.pattern)
}

type prefixMatcher struct {
	prefix string
}

func (m *prefixMatcher) Match(s string) bool {
	return strings.HasPrefix(s, m.prefix)
}

func (m *prefixMatcher) Description() string {
	return fmt.Sprintf("has prefix %q", m.prefix)
}

type suffixMatcher struct {
	suffix string
}

func (m *suffixMatcher) Match(s string) bool {
	return strings.HasSuffix(s, m.suffix)
}

func (m *suffixMatcher) Description() string {
	return fmt.Sprintf("has suffix %q", m.suffix)
}

// RenderOutput turns a handler output into text for matching: nil is
// empty, strings pass through, everything else is JSON.
func RenderOutput(v any) string {
	switch out := v.(type) {
	case nil:
		return ""
	case string:
		return out
	default:
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Sprintf("%v", out)
		}
		return string(data)
	}
}

// Expectation implementations

type stateExpectation struct {
	state agent.RunState
}

func (e *stateExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil {
		return fmt.Errorf("no run result")
	}
	if r.Result.State != e.state {
		return fmt.Errorf("run ended in %q, expected %q", r.Result.State, e.state)
	}
	return nil
}

func (e *stateExpectation) Description() string {
	return fmt.Sprintf("run state %q", e.state)
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("expected no error, got: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string {
	return "no error"
}

type errorExpectation struct {
	matcher StringMatcher
}

func (e *errorExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected error matching %s, got nil", e.matcher.Description())
	}
	if !e.matcher.Match(r.Error.Error()) {
		return fmt.Errorf("error %q does not match: %s", r.Error.Error(), e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return fmt.Sprintf("error %s", e.matcher.Description())
}

type stepStatusExpectation struct {
	stepID string
	status toolchain.StepStatus
}

func (e *stepStatusExpectation) Check(r *ScenarioResult) error {
	execCtx := r.finalExecution()
	if execCtx == nil {
		return fmt.Errorf("no execution ran")
	}
	outcome, ok := execCtx.Outcome(e.stepID)
	if !ok {
		return fmt.Errorf("step %q not in final plan", e.stepID)
	}
	if outcome.Status != e.status {
		return fmt.Errorf("step %q ended %q, expected %q", e.stepID, outcome.Status, e.status)
	}
	return nil
}

func (e *stepStatusExpectation) Description() string {
	return fmt.Sprintf("step %q status %q", e.stepID, e.status)
}

type stepOutputExpectation struct {
	stepID  string
	matcher StringMatcher
}

func (e *stepOutputExpectation) Check(r *ScenarioResult) error {
	execCtx := r.finalExecution()
	if execCtx == nil {
		return fmt.Errorf("no execution ran")
	}
	out, ok := execCtx.Output(e.stepID)
	if !ok {
		return fmt.Errorf("step %q produced no output", e.stepID)
	}
	rendered := RenderOutput(out)
	if !e.matcher.Match(rendered) {
		return fmt.Errorf("step %q output %q does not match: %s", e.stepID, rendered, e.matcher.Description())
	}
	return nil
}

func (e *stepOutputExpectation) Description() string {
	return fmt.Sprintf("step %q output %s", e.stepID, e.matcher.Description())
}

type replansExpectation struct {
	n int
}

func (e *replansExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil {
		return fmt.Errorf("no run result")
	}
	if r.Result.Replans != e.n {
		return fmt.Errorf("run replanned %d times, expected %d", r.Result.Replans, e.n)
	}
	return nil
}

func (e *replansExpectation) Description() string {
	return fmt.Sprintf("%d replans", e.n)
}

type eventExpectation struct {
	eventType core.EventType
}

func (e *eventExpectation) Check(r *ScenarioResult) error {
	for _, ev := range r.Events {
		if ev.Type == e.eventType {
			return nil
		}
	}
	return fmt.Errorf("event type %q was not emitted", e.eventType)
}

func (e *eventExpectation) Description() string {
	return fmt.Sprintf("event %q emitted", e.eventType)
}

type minDurationExpectation struct {
	min time.Duration
}

func (e *minDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration < e.min {
		return fmt.Errorf("duration %v is less than minimum %v", r.Duration, e.min)
	}
	return nil
}

func (e *minDurationExpectation) Description() string {
	return fmt.Sprintf("duration >= %v", e.min)
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("duration %v exceeds maximum %v", r.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("duration <= %v", e.max)
}

// EventCollector collects events emitted during a scenario. It satisfies
// core.EventEmitter, so it plugs into agent and executor options directly.
type EventCollector struct {
	mu     sync.RWMutex
	events []core.Event
}

// NewEventCollector creates a new event collector.
func NewEventCollector() *EventCollector {
	return &EventCollector{
		events: make([]core.Event, 0),
	}
}

// Emit implements core.EventEmitter.
func (c *EventCollector) Emit(_ context.Context, event core.Event) {
	c.Collect(event)
}

// Collect adds an event to the collector.
func (c *EventCollector) Collect(event core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns all collected events.
func (c *EventCollector) Events() []core.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]core.Event, len(c.events))
	copy(result, c.events)
	return result
}

// EventTypes returns the types of all collected events.
func (c *EventCollector) EventTypes() []core.EventType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]core.EventType, len(c.events))
	for i, ev := range c.events {
		types[i] = ev.Type
	}
	return types
}

// HasEvent checks if an event of the given type was collected.
func (c *EventCollector) HasEvent(eventType core.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ev := range c.events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

// OfType returns the collected events of one type.
func (c *EventCollector) OfType(eventType core.EventType) []core.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []core.Event
	for _, ev := range c.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns the number of collected events.
func (c *EventCollector) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Reset clears all collected events.
func (c *EventCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
