package planner

import (
	"context"
	"log/slog"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
)

// FallbackPlanner tries planners in order until one returns a proposal.
// A remote planner backed by a local static pipeline is the typical
// arrangement.
type FallbackPlanner struct {
	planners []core.Planner
	logger   *slog.Logger
}

// NewFallbackPlanner chains planners. At least one is required.
func NewFallbackPlanner(logger *slog.Logger, planners ...core.Planner) *FallbackPlanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackPlanner{planners: planners, logger: logger}
}

// Propose implements core.Planner.
func (p *FallbackPlanner) Propose(ctx context.Context, goal core.Goal, snap core.Snapshot) ([]core.ProposedStep, error) {
	if len(p.planners) == 0 {
		return nil, errors.New(errors.CodePlanningFailed, "no planners configured", nil)
	}

	var lastErr error
	for i, planner := range p.planners {
		steps, err := planner.Propose(ctx, goal, snap)
		if err == nil {
			return steps, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(p.planners)-1 {
			p.logger.Warn("planner.fallback",
				"failed_planner", i,
				"error", err,
			)
		}
	}
	return nil, lastErr
}
