package planner

import (
	"context"
	"fmt"
	"sync"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

// ScriptedPlanner returns a predefined sequence of proposals, one per
// Propose call. Useful for exercising multi-iteration runs where the
// second plan differs from the first.
type ScriptedPlanner struct {
	mu        sync.Mutex
	proposals [][]core.ProposedStep

	// CallCount tracks how many times Propose has been called.
	CallCount int

	// Err, when set, is returned instead of the next proposal.
	Err error
}

// NewScriptedPlanner builds a planner that yields the given proposals in
// order.
func NewScriptedPlanner(proposals ...[]core.ProposedStep) *ScriptedPlanner {
	return &ScriptedPlanner{proposals: proposals}
}

// Propose pops the next scripted proposal or returns the configured error.
func (p *ScriptedPlanner) Propose(_ context.Context, _ core.Goal, _ core.Snapshot) ([]core.ProposedStep, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CallCount++

	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.proposals) == 0 {
		return nil, fmt.Errorf("scripted planner: no more proposals available")
	}

	next := p.proposals[0]
	p.proposals = p.proposals[1:]
	out := make([]core.ProposedStep, len(next))
	copy(out, next)
	return out, nil
}

// AddProposal appends a proposal to the queue.
func (p *ScriptedPlanner) AddProposal(steps ...core.ProposedStep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proposals = append(p.proposals, steps)
}

// Remaining reports how many proposals are still queued.
func (p *ScriptedPlanner) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proposals)
}
