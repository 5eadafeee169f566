// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestRunAttributes(t *testing.T) {
	attrs := RunAttributes("agent-1", "run-123")

	expected := map[string]any{
		AttrAgentID: "agent-1",
		AttrRunID:   "run-123",
	}

	assertAttributes(t, attrs, expected)
}

func TestGoalAttributesTruncation(t *testing.T) {
	longGoal := string(make([]byte, 300))
	attrs := GoalAttributes(longGoal)

	for _, attr := range attrs {
		if string(attr.Key) == AttrGoal {
			val := attr.Value.AsString()
			if len(val) > 204 { // 200 + "..."
				t.Errorf("goal not truncated: len=%d", len(val))
			}
		}
	}
	if attrs := GoalAttributes(""); attrs != nil {
		t.Errorf("expected no attributes for empty goal, got %v", attrs)
	}
}

func TestPlanAttributes(t *testing.T) {
	attrs := PlanAttributes("plan-1", 4, 7)

	expected := map[string]any{
		AttrPlanID:          "plan-1",
		AttrPlanSteps:       4,
		AttrSnapshotVersion: 7,
	}

	assertAttributes(t, attrs, expected)
}

func TestStepAttributes(t *testing.T) {
	attrs := StepAttributes("fetch-page", "http.get", "web")

	expected := map[string]any{
		AttrStepID:     "fetch-page",
		AttrCapability: "http.get",
		AttrSkill:      "web",
	}

	assertAttributes(t, attrs, expected)

	attrs = StepAttributes("fetch-page", "http.get", "")
	for _, attr := range attrs {
		if string(attr.Key) == AttrSkill {
			t.Errorf("expected no skill attribute when skill is empty")
		}
	}
}

func TestStepOutcomeAttributes(t *testing.T) {
	attrs := StepOutcomeAttributes("completed", 2, 150.5)

	expected := map[string]any{
		AttrStepStatus:   "completed",
		AttrStepAttempts: 2,
	}
	expected["tekhne.step.duration_ms"] = 150.5

	assertAttributes(t, attrs, expected)
}

func TestSkillAttributes(t *testing.T) {
	attrs := SkillAttributes("web", "1.2.0", "active")

	expected := map[string]any{
		AttrSkillName:    "web",
		AttrSkillVersion: "1.2.0",
		AttrSkillState:   "active",
	}

	assertAttributes(t, attrs, expected)
}

func TestEventAttributes(t *testing.T) {
	attrs := EventAttributes("step.completed", "run-9")

	expected := map[string]any{
		AttrEventType: "step.completed",
		AttrRunID:     "run-9",
	}

	assertAttributes(t, attrs, expected)
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes("STEP_FAILED", true)

	expected := map[string]any{
		AttrErrorCode: "STEP_FAILED",
	}
	expected["tekhne.error.recoverable"] = true

	assertAttributes(t, attrs, expected)
}

// assertAttributes checks that expected key-value pairs exist in attrs
func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()

	found := make(map[string]attribute.KeyValue)
	for _, attr := range attrs {
		found[string(attr.Key)] = attr
	}

	for key, expectedVal := range expected {
		attr, ok := found[key]
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}

		var actualVal any
		switch attr.Value.Type() {
		case attribute.STRING:
			actualVal = attr.Value.AsString()
		case attribute.INT64:
			actualVal = int(attr.Value.AsInt64())
		case attribute.FLOAT64:
			actualVal = attr.Value.AsFloat64()
		case attribute.BOOL:
			actualVal = attr.Value.AsBool()
		}

		if actualVal != expectedVal {
			t.Errorf("attribute %s: got %v, want %v", key, actualVal, expectedVal)
		}
	}
}
