package toolchain

import (
	"time"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

// RefKey is the object key a planner uses to request another step's output
// as an argument value: {"$from": "<step-id>"}.
const RefKey = "$from"

// Binding is one argument source for a step. Exactly one of Literal or Ref
// is set; Ref names the step whose output supplies the value at runtime.
type Binding struct {
	Literal any
	Ref     string
}

// IsRef reports whether the binding reads another step's output.
func (b Binding) IsRef() bool { return b.Ref != "" }

// Step is one node of a compiled plan. The capability is pinned from the
// compile-time snapshot, so registry mutations after compilation cannot
// change what the step invokes.
type Step struct {
	ID         string
	Capability core.Capability
	Args       map[string]Binding
	Deps       []string

	// index is the step's position in the planner proposal. It breaks
	// ties when several steps become ready at once, keeping plan order
	// deterministic.
	index int
}

// DependsOn reports whether the step names id as a dependency.
func (s *Step) DependsOn(id string) bool {
	for _, dep := range s.Deps {
		if dep == id {
			return true
		}
	}
	return false
}

// Plan is a validated capability DAG. Steps is in topological order; when
// several orders are valid, proposal order decides. Plans are immutable
// once compiled.
type Plan struct {
	ID              string
	Goal            core.Goal
	SnapshotVersion uint64
	CompiledAt      time.Time
	Steps           []*Step

	byID map[string]*Step
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (*Step, bool) {
	s, ok := p.byID[id]
	return s, ok
}

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.Steps) }

// StepIDs lists step ids in execution order.
func (p *Plan) StepIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// dependents builds the reverse adjacency: step id to the ids of steps
// that depend on it, in plan order.
func (p *Plan) dependents() map[string][]string {
	out := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		for _, dep := range s.Deps {
			out[dep] = append(out[dep], s.ID)
		}
	}
	return out
}
