package core

import "context"

// ProposedStep is one entry in a planner proposal. Args values are
// literals, except the object form {"$from": "<step-id>"} which requests
// the output of another step. After lists ordering-only dependencies that
// carry no data.
type ProposedStep struct {
	ID         string         `json:"id" yaml:"id"`
	Capability string         `json:"capability" yaml:"capability"`
	Args       map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	After      []string       `json:"after,omitempty" yaml:"after,omitempty"`
}

// Planner decomposes a goal into an ordered capability proposal against a
// fixed snapshot. The runtime treats planners as opaque collaborators: it
// never inspects how a proposal was produced, only whether it compiles.
type Planner interface {
	Propose(ctx context.Context, goal Goal, snap Snapshot) ([]ProposedStep, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, goal Goal, snap Snapshot) ([]ProposedStep, error)

// Propose implements Planner.
func (f PlannerFunc) Propose(ctx context.Context, goal Goal, snap Snapshot) ([]ProposedStep, error) {
	return f(ctx, goal, snap)
}
