package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
)

// Compiler lowers planner proposals into executable plans. It owns no
// skills: capabilities are resolved against the snapshot passed to Compile
// and pinned into the plan, so the plan stays valid even if the registry
// changes afterwards.
type Compiler struct {
	planner core.Planner
	logger  *slog.Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithCompilerLogger sets the compiler's logger.
func WithCompilerLogger(logger *slog.Logger) CompilerOption {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCompiler builds a compiler around a planner.
func NewCompiler(planner core.Planner, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		planner: planner,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile asks the planner for a proposal against the snapshot and lowers
// it into a plan. Proposals that reference unknown capabilities fail with
// CAPABILITY_NOT_FOUND; malformed proposals fail with PLANNING_FAILED;
// dependency cycles fail with PLAN_CYCLE. A returned plan is guaranteed
// acyclic with every capability resolved.
func (c *Compiler) Compile(ctx context.Context, goal core.Goal, snap core.Snapshot) (*Plan, error) {
	ctx, span := tracer.Start(ctx, "toolchain.compile", trace.WithAttributes(
		attribute.Int64("tekhne.snapshot.version", int64(snap.Version())),
	))
	defer span.End()

	if c.planner == nil {
		return nil, errors.New(errors.CodePlanningFailed, "no planner configured", nil)
	}

	proposal, err := c.planner.Propose(ctx, goal, snap)
	if err != nil {
		recordCompile(ctx, false)
		return nil, errors.New(errors.CodePlanningFailed, "planner proposal failed", err).
			WithContext("goal", goal.Text)
	}
	if len(proposal) == 0 {
		recordCompile(ctx, false)
		return nil, errors.New(errors.CodePlanningFailed, "planner returned an empty proposal", nil).
			WithContext("goal", goal.Text)
	}

	steps, byID, err := c.lower(proposal, snap)
	if err != nil {
		recordCompile(ctx, false)
		return nil, err
	}

	ordered, err := topoOrder(steps)
	if err != nil {
		recordCompile(ctx, false)
		return nil, err
	}

	plan := &Plan{
		ID:              uuid.NewString(),
		Goal:            goal,
		SnapshotVersion: snap.Version(),
		CompiledAt:      time.Now().UTC(),
		Steps:           ordered,
		byID:            byID,
	}
	span.SetAttributes(
		attribute.String("tekhne.plan.id", plan.ID),
		attribute.Int("tekhne.plan.steps", len(ordered)),
	)
	c.logger.Debug("toolchain.plan.compiled",
		"plan_id", plan.ID,
		"steps", len(ordered),
		"snapshot_version", snap.Version(),
	)
	recordCompile(ctx, true)
	return plan, nil
}

// lower validates each proposed step and resolves its capability and
// argument bindings. Steps come back in proposal order.
func (c *Compiler) lower(proposal []core.ProposedStep, snap core.Snapshot) ([]*Step, map[string]*Step, error) {
	ids := make(map[string]bool, len(proposal))
	for i, ps := range proposal {
		if ps.ID == "" {
			return nil, nil, errors.New(errors.CodePlanningFailed,
				fmt.Sprintf("proposal step %d has no id", i), nil)
		}
		if ids[ps.ID] {
			return nil, nil, errors.New(errors.CodePlanningFailed,
				fmt.Sprintf("duplicate step id %q", ps.ID), nil)
		}
		ids[ps.ID] = true
	}

	steps := make([]*Step, 0, len(proposal))
	byID := make(map[string]*Step, len(proposal))
	for i, ps := range proposal {
		capability, ok := snap.Capability(ps.Capability)
		if !ok {
			return nil, nil, errors.New(errors.CodeCapabilityNotFound,
				fmt.Sprintf("capability %q is not registered", ps.Capability), nil).
				WithContext("step", ps.ID)
		}

		args, refs, err := decodeArgs(ps)
		if err != nil {
			return nil, nil, err
		}
		for _, ref := range refs {
			if !ids[ref] {
				return nil, nil, errors.New(errors.CodePlanningFailed,
					fmt.Sprintf("step %q references unknown step %q", ps.ID, ref), nil)
			}
		}
		for _, after := range ps.After {
			if !ids[after] {
				return nil, nil, errors.New(errors.CodePlanningFailed,
					fmt.Sprintf("step %q lists unknown step %q in after", ps.ID, after), nil)
			}
		}

		if err := checkRequiredInputs(ps.ID, capability, args); err != nil {
			return nil, nil, err
		}
		if err := validateLiteralArgs(ps.ID, capability, args); err != nil {
			return nil, nil, err
		}

		step := &Step{
			ID:         ps.ID,
			Capability: capability,
			Args:       args,
			Deps:       mergeDeps(refs, ps.After),
			index:      i,
		}
		steps = append(steps, step)
		byID[step.ID] = step
	}
	return steps, byID, nil
}

// decodeArgs maps proposal argument values to bindings. The object form
// {"$from": "<step-id>"} becomes a reference; everything else is a literal.
func decodeArgs(ps core.ProposedStep) (map[string]Binding, []string, error) {
	if len(ps.Args) == 0 {
		return map[string]Binding{}, nil, nil
	}
	args := make(map[string]Binding, len(ps.Args))
	var refs []string
	for name, value := range ps.Args {
		obj, isObj := value.(map[string]any)
		if !isObj {
			args[name] = Binding{Literal: value}
			continue
		}
		raw, hasFrom := obj[RefKey]
		if !hasFrom {
			args[name] = Binding{Literal: value}
			continue
		}
		from, isString := raw.(string)
		if !isString || from == "" || len(obj) != 1 {
			return nil, nil, errors.New(errors.CodePlanningFailed,
				fmt.Sprintf("step %q has a malformed %s reference in arg %q", ps.ID, RefKey, name), nil)
		}
		args[name] = Binding{Ref: from}
		refs = append(refs, from)
	}
	sort.Strings(refs)
	return args, refs, nil
}

// checkRequiredInputs verifies every input the capability's schema marks
// required has a binding.
func checkRequiredInputs(stepID string, capability core.Capability, args map[string]Binding) error {
	for _, name := range capability.InputSchema.Required() {
		if _, ok := args[name]; !ok {
			return errors.New(errors.CodePlanningFailed,
				fmt.Sprintf("step %q is missing required input %q", stepID, name), nil).
				WithContext("capability", capability.Name)
		}
	}
	return nil
}

// validateLiteralArgs checks fully literal argument sets against the input
// schema at compile time. Steps with reference bindings are validated at
// execution, once upstream outputs exist.
func validateLiteralArgs(stepID string, capability core.Capability, args map[string]Binding) error {
	literals := make(map[string]any, len(args))
	for name, b := range args {
		if b.IsRef() {
			return nil
		}
		literals[name] = b.Literal
	}
	if err := capability.InputSchema.Validate(literals); err != nil {
		return errors.New(errors.CodePlanningFailed,
			fmt.Sprintf("step %q input rejected by schema", stepID), err).
			WithContext("capability", capability.Name)
	}
	return nil
}

// mergeDeps unions data references and ordering-only dependencies into a
// deduplicated, sorted list.
func mergeDeps(refs, after []string) []string {
	seen := make(map[string]bool, len(refs)+len(after))
	deps := make([]string, 0, len(refs)+len(after))
	for _, lists := range [][]string{refs, after} {
		for _, id := range lists {
			if !seen[id] {
				seen[id] = true
				deps = append(deps, id)
			}
		}
	}
	sort.Strings(deps)
	return deps
}

// topoOrder sorts steps topologically. Among ready steps the earliest
// proposal position wins, so the order is deterministic for a given
// proposal. Any remainder means a cycle.
func topoOrder(steps []*Step) ([]*Step, error) {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		indegree[s.ID] = len(s.Deps)
		for _, dep := range s.Deps {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	ordered := make([]*Step, 0, len(steps))
	emitted := make(map[string]bool, len(steps))
	for len(ordered) < len(steps) {
		var next *Step
		for _, s := range steps {
			if !emitted[s.ID] && indegree[s.ID] == 0 {
				next = s
				break
			}
		}
		if next == nil {
			var remaining []string
			for _, s := range steps {
				if !emitted[s.ID] {
					remaining = append(remaining, s.ID)
				}
			}
			sort.Strings(remaining)
			return nil, errors.New(errors.CodePlanCycle, "plan contains a dependency cycle", nil).
				WithContext("steps", strings.Join(remaining, ", "))
		}
		emitted[next.ID] = true
		ordered = append(ordered, next)
		for _, id := range dependents[next.ID] {
			indegree[id]--
		}
	}
	return ordered, nil
}
