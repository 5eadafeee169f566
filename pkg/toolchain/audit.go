package toolchain

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// AuditEvent is one persisted record of a step outcome.
type AuditEvent struct {
	PlanID     string
	RunID      string
	StepID     string
	Capability string
	Skill      string
	Status     string
	Attempts   int
	Output     any
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// AuditStore persists step outcomes for later inspection.
type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// AuditFilter limits audit event queries.
type AuditFilter struct {
	PlanID string
	RunID  string
	StepID string
	Status string
	Limit  int
}

// noopAuditStore discards everything. It is the executor default.
type noopAuditStore struct{}

func (noopAuditStore) Record(_ context.Context, _ AuditEvent) error { return nil }

func (noopAuditStore) List(_ context.Context, _ AuditFilter) ([]AuditEvent, error) {
	return nil, nil
}

// MemoryAuditStore keeps audit events in memory.
type MemoryAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditStore returns an in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Record appends an audit event.
func (s *MemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered audit events in insertion order.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, 0, len(s.events))
	for _, ev := range s.events {
		if filter.PlanID != "" && ev.PlanID != filter.PlanID {
			continue
		}
		if filter.RunID != "" && ev.RunID != filter.RunID {
			continue
		}
		if filter.StepID != "" && ev.StepID != filter.StepID {
			continue
		}
		if filter.Status != "" && ev.Status != filter.Status {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// auditEventFor converts a recorded outcome into its audit form.
func auditEventFor(execCtx *ExecutionContext, step *Step, outcome StepOutcome) AuditEvent {
	event := AuditEvent{
		PlanID:     execCtx.Plan.ID,
		RunID:      execCtx.RunID,
		StepID:     outcome.StepID,
		Capability: step.Capability.Name,
		Skill:      step.Capability.Skill,
		Status:     string(outcome.Status),
		Attempts:   outcome.Attempts,
		Output:     outcome.Output,
		StartedAt:  outcome.StartedAt,
		FinishedAt: outcome.FinishedAt,
	}
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
	}
	return event
}

// encodeAuditOutput marshals the output payload into JSON.
func encodeAuditOutput(output any) ([]byte, error) {
	if output == nil {
		return []byte("null"), nil
	}
	return json.Marshal(output)
}

// decodeAuditOutput parses a JSON output payload.
func decodeAuditOutput(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeAuditTime ensures timestamps are stored in UTC.
func normalizeAuditTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
