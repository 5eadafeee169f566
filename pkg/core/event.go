package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted by the registry, executor,
// or agent loop.
type EventType string

const (
	EventSkillRegistered   EventType = "registry.skill.registered"
	EventSkillActivated    EventType = "registry.skill.activated"
	EventSkillReloaded     EventType = "registry.skill.reloaded"
	EventSkillUnregistered EventType = "registry.skill.unregistered"
	EventSkillDisabled     EventType = "registry.skill.disabled"

	EventRunState EventType = "agent.run.state"

	EventStepStarted   EventType = "step.started"
	EventStepRetried   EventType = "step.retry"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepSkipped   EventType = "step.skipped"
	EventStepCancelled EventType = "step.cancelled"

	EventExecutionStarted  EventType = "execution.started"
	EventExecutionFinished EventType = "execution.finished"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	Source    string
	RunID     string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds a default event with timestamp. The run id is taken from
// the context when present.
func NewEvent(ctx context.Context, eventType EventType, source string, payload map[string]any) Event {
	runID, _ := RunID(ctx)
	return Event{
		Type:      eventType,
		Source:    source,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
