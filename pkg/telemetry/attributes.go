// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for runtime observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Tekhne telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	// Agent run attributes
	AttrAgentID    = "tekhne.agent.id"
	AttrRunID      = "tekhne.run.id"
	AttrRunState   = "tekhne.run.state"
	AttrRunReplans = "tekhne.run.replans"
	AttrGoal       = "tekhne.goal"

	// Plan attributes
	AttrPlanID          = "tekhne.plan.id"
	AttrPlanSteps       = "tekhne.plan.steps"
	AttrSnapshotVersion = "tekhne.snapshot.version"

	// Step attributes
	AttrStepID       = "tekhne.step.id"
	AttrStepStatus   = "tekhne.step.status"
	AttrStepAttempts = "tekhne.step.attempts"
	AttrCapability   = "tekhne.capability"
	AttrSkill        = "tekhne.skill"

	// Execution attributes
	AttrExecutionStatus = "tekhne.execution.status"

	// Skill registry attributes
	AttrSkillName    = "tekhne.skill.name"
	AttrSkillVersion = "tekhne.skill.version"
	AttrSkillState   = "tekhne.skill.state"

	// Event attributes
	AttrEventType = "tekhne.event.type"

	// Error attributes
	AttrErrorCode = "tekhne.error.code"
)

// RunAttributes returns the common attributes for an agent run span.
func RunAttributes(agentID, runID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrAgentID, agentID),
		attribute.String(AttrRunID, runID),
	}
}

// GoalAttributes returns the goal attribute, truncated for span safety.
func GoalAttributes(goal string) []attribute.KeyValue {
	if goal == "" {
		return nil
	}
	if len(goal) > 200 {
		goal = goal[:200] + "..."
	}
	return []attribute.KeyValue{attribute.String(AttrGoal, goal)}
}

// PlanAttributes returns attributes describing a compiled plan.
func PlanAttributes(planID string, steps int, snapshotVersion uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPlanID, planID),
		attribute.Int(AttrPlanSteps, steps),
		attribute.Int64(AttrSnapshotVersion, int64(snapshotVersion)),
	}
}

// StepAttributes returns attributes identifying a plan step.
func StepAttributes(stepID, capability, skill string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStepID, stepID),
		attribute.String(AttrCapability, capability),
	}
	if skill != "" {
		attrs = append(attrs, attribute.String(AttrSkill, skill))
	}
	return attrs
}

// StepOutcomeAttributes returns attributes for a finished step.
func StepOutcomeAttributes(status string, attempts int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStepStatus, status),
	}
	if attempts > 0 {
		attrs = append(attrs, attribute.Int(AttrStepAttempts, attempts))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64("tekhne.step.duration_ms", durationMs))
	}
	return attrs
}

// SkillAttributes returns attributes for registry operations.
func SkillAttributes(name, version, state string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSkillName, name),
	}
	if version != "" {
		attrs = append(attrs, attribute.String(AttrSkillVersion, version))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(AttrSkillState, state))
	}
	return attrs
}

// EventAttributes returns attributes for an emitted runtime event.
func EventAttributes(eventType, runID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrEventType, eventType),
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	return attrs
}

// ErrorAttributes returns attributes for a typed runtime error.
func ErrorAttributes(code string, recoverable bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorCode, code),
		attribute.Bool("tekhne.error.recoverable", recoverable),
	}
}
