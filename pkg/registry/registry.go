// Package registry maintains the versioned skill table shared by planner
// and executor. Mutations are serialized and atomic; readers work against
// immutable snapshots published through an atomic pointer, so taking a
// snapshot never blocks and never observes a half-applied mutation.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
	"github.com/tekhne-dev/tekhne/pkg/manifest"
)

var tracer = otel.Tracer("tekhne/registry")

// historyCap bounds the per-name descriptor history.
const historyCap = 32

// Registry is the live skill table.
type Registry struct {
	logger  *slog.Logger
	emitter core.EventEmitter

	mu      sync.Mutex
	table   map[string]*core.Skill
	history map[string][]*core.Skill
	version uint64

	snapshot atomic.Pointer[Snapshot]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithEmitter sets the event emitter for registry mutations.
func WithEmitter(emitter core.EventEmitter) Option {
	return func(r *Registry) { r.emitter = emitter }
}

// New creates an empty registry with an initial snapshot at version 0.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:  slog.Default(),
		emitter: core.NoopEventEmitter{},
		table:   make(map[string]*core.Skill),
		history: make(map[string][]*core.Skill),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.snapshot.Store(newSnapshot(0, r.table))
	return r
}

// Register validates and admits a new skill. On any validation error the
// registry is unchanged and no snapshot is published. The skill enters in
// state Registered and is promoted to Active in the same mutation when its
// whole dependency closure is already active.
func (r *Registry) Register(ctx context.Context, skill *core.Skill) error {
	ctx, span := tracer.Start(ctx, "registry.register")
	defer span.End()

	if skill == nil {
		return errors.New(errors.CodeInvalidInput, "nil skill", nil)
	}
	span.SetAttributes(attribute.String("tekhne.skill.name", skill.Name))

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validateAdmission(skill, ""); err != nil {
		r.logger.Warn("registry.skill.rejected",
			"skill", skill.Name,
			"error", err,
		)
		span.RecordError(err)
		return err
	}

	entry := admit(skill)
	r.table[entry.Name] = entry
	r.emit(ctx, core.EventSkillRegistered, map[string]any{
		"skill":   entry.Name,
		"version": entry.Version,
	})
	r.logger.Info("registry.skill.registered",
		"skill", entry.Name,
		"version", entry.Version,
		"capabilities", len(entry.Capabilities),
	)

	r.promoteLocked(ctx)
	r.publishLocked(ctx, span)
	return nil
}

// Unregister removes a skill. Without force, the call is refused with
// DependentsExist when live skills depend on the target. With force, the
// transitive dependent closure is disabled in the same mutation.
func (r *Registry) Unregister(ctx context.Context, name string, force bool) error {
	ctx, span := tracer.Start(ctx, "registry.unregister",
		trace.WithAttributes(
			attribute.String("tekhne.skill.name", name),
			attribute.Bool("tekhne.registry.force", force),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.table[name]
	if !ok {
		return errors.New(errors.CodeNotFound, fmt.Sprintf("skill %q is not registered", name), nil)
	}

	dependents := r.dependentsLocked(name)
	if len(dependents) > 0 && !force {
		err := errors.New(errors.CodeDependentsExist,
			fmt.Sprintf("skill %q has dependents: %s", name, strings.Join(dependents, ", ")), nil).
			WithContext("dependents", dependents)
		span.RecordError(err)
		return err
	}

	if force {
		for _, dep := range r.dependentClosureLocked(name) {
			r.disableLocked(ctx, dep, "dependency unregistered")
		}
	}

	delete(r.table, name)
	r.pushHistoryLocked(withState(target, core.SkillStateDisabled))
	r.emit(ctx, core.EventSkillUnregistered, map[string]any{
		"skill": name,
		"force": force,
	})
	r.logger.Info("registry.skill.unregistered",
		"skill", name,
		"force", force,
		"disabled_dependents", len(dependents),
	)

	r.publishLocked(ctx, span)
	return nil
}

// Reload atomically replaces a skill's descriptor. The replaced descriptor
// is retained in the per-name history. A reload that fails validation
// leaves the current descriptor fully in force.
func (r *Registry) Reload(ctx context.Context, name string, skill *core.Skill) error {
	ctx, span := tracer.Start(ctx, "registry.reload",
		trace.WithAttributes(attribute.String("tekhne.skill.name", name)))
	defer span.End()

	if skill == nil {
		return errors.New(errors.CodeInvalidInput, "nil skill", nil)
	}
	if skill.Name != name {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("descriptor name %q does not match reload target %q", skill.Name, name), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.table[name]
	if !ok {
		return errors.New(errors.CodeNotFound, fmt.Sprintf("skill %q is not registered", name), nil)
	}

	if err := r.validateAdmission(skill, name); err != nil {
		r.pushHistoryLocked(withState(skill, core.SkillStateFailed))
		r.logger.Warn("registry.skill.reload_rejected",
			"skill", name,
			"error", err,
		)
		span.RecordError(err)
		return err
	}

	if manifest.CompareVersions(skill.Version, old.Version) < 0 {
		r.logger.Warn("registry.skill.version_downgrade",
			"skill", name,
			"from", old.Version,
			"to", skill.Version,
		)
	}

	entry := admit(skill)
	r.table[name] = entry
	r.pushHistoryLocked(old)
	r.emit(ctx, core.EventSkillReloaded, map[string]any{
		"skill":        name,
		"from_version": old.Version,
		"to_version":   entry.Version,
	})
	r.logger.Info("registry.skill.reloaded",
		"skill", name,
		"from", old.Version,
		"to", entry.Version,
	)

	r.promoteLocked(ctx)
	r.publishLocked(ctx, span)
	return nil
}

// Snapshot returns the current published snapshot. It never blocks, even
// while a mutation is in flight.
func (r *Registry) Snapshot() core.Snapshot {
	return r.snapshot.Load()
}

// History returns retained prior descriptor versions for a name, newest
// first. The slice is a copy.
func (r *Registry) History(name string) []*core.Skill {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.history[name]
	out := make([]*core.Skill, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

// HealthChecker reports registry health: unhealthy when empty, degraded
// when any live skill is stuck outside Active.
func (r *Registry) HealthChecker() core.HealthChecker {
	return core.NewFunctionHealthChecker(func(ctx context.Context) core.HealthResult {
		snap := r.snapshot.Load()
		skills := snap.Skills()
		if len(skills) == 0 {
			return core.HealthResult{
				Status:  core.HealthUnhealthy,
				Message: "no skills registered",
			}
		}
		inactive := 0
		for _, s := range skills {
			if s.State != core.SkillStateActive {
				inactive++
			}
		}
		if inactive > 0 {
			return core.HealthResult{
				Status:  core.HealthDegraded,
				Message: fmt.Sprintf("%d of %d skills not active", inactive, len(skills)),
			}
		}
		return core.HealthResult{
			Status:  core.HealthHealthy,
			Message: fmt.Sprintf("%d skills active", len(skills)),
		}
	})
}

// validateAdmission runs the full admission checks. exclude names a table
// entry ignored by the uniqueness checks, used when reloading.
func (r *Registry) validateAdmission(skill *core.Skill, exclude string) error {
	if err := manifest.ValidateDescriptor(skill); err != nil {
		return err
	}

	if _, exists := r.table[skill.Name]; exists && skill.Name != exclude {
		return errors.New(errors.CodeCapabilityConflict,
			fmt.Sprintf("skill %q is already registered", skill.Name), nil)
	}

	for _, cap := range skill.Capabilities {
		for otherName, other := range r.table {
			if otherName == exclude || other.State == core.SkillStateDisabled {
				continue
			}
			if _, ok := other.Capability(cap.Name); ok {
				return errors.New(errors.CodeCapabilityConflict,
					fmt.Sprintf("capability %q already provided by skill %q", cap.Name, otherName), nil).
					WithContext("capability", cap.Name).
					WithContext("holder", otherName)
			}
		}
	}

	var missing []string
	for _, dep := range skill.Dependencies {
		other, ok := r.table[dep]
		if !ok || other.State == core.SkillStateDisabled {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.New(errors.CodeDependencyUnresolved,
			fmt.Sprintf("skill %q requires missing dependencies: %s", skill.Name, strings.Join(missing, ", ")), nil).
			WithContext("missing", missing)
	}
	return nil
}

// promoteLocked activates Registered skills whose dependency closures are
// fully active, repeating until a fixpoint. Promotion replaces table
// entries instead of mutating them so snapshots stay immutable.
func (r *Registry) promoteLocked(ctx context.Context) {
	for {
		promoted := false
		for name, skill := range r.table {
			if skill.State != core.SkillStateRegistered {
				continue
			}
			if !r.depsActiveLocked(skill) {
				continue
			}
			r.table[name] = withState(skill, core.SkillStateActive)
			promoted = true
			r.emit(ctx, core.EventSkillActivated, map[string]any{
				"skill":   name,
				"version": skill.Version,
			})
			r.logger.Info("registry.skill.activated", "skill", name, "version", skill.Version)
		}
		if !promoted {
			return
		}
	}
}

func (r *Registry) depsActiveLocked(skill *core.Skill) bool {
	for _, dep := range skill.Dependencies {
		other, ok := r.table[dep]
		if !ok || other.State != core.SkillStateActive {
			return false
		}
	}
	return true
}

// dependentsLocked lists live skills that directly depend on name.
func (r *Registry) dependentsLocked(name string) []string {
	var out []string
	for otherName, other := range r.table {
		if other.State == core.SkillStateDisabled {
			continue
		}
		for _, dep := range other.Dependencies {
			if dep == name {
				out = append(out, otherName)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// dependentClosureLocked lists the transitive live dependents of name.
func (r *Registry) dependentClosureLocked(name string) []string {
	var closure []string
	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range r.dependentsLocked(current) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			closure = append(closure, dep)
			queue = append(queue, dep)
		}
	}
	sort.Strings(closure)
	return closure
}

func (r *Registry) disableLocked(ctx context.Context, name, reason string) {
	skill, ok := r.table[name]
	if !ok || skill.State == core.SkillStateDisabled {
		return
	}
	r.table[name] = withState(skill, core.SkillStateDisabled)
	r.emit(ctx, core.EventSkillDisabled, map[string]any{
		"skill":  name,
		"reason": reason,
	})
	r.logger.Warn("registry.skill.disabled", "skill", name, "reason", reason)
}

// publishLocked bumps the version and swaps in a fresh snapshot. Called
// only after a mutation has fully applied.
func (r *Registry) publishLocked(ctx context.Context, span trace.Span) {
	r.version++
	snap := newSnapshot(r.version, r.table)
	r.snapshot.Store(snap)
	span.SetAttributes(attribute.Int64("tekhne.registry.version", int64(r.version)))
	recordMutation(ctx, len(snap.skillList), len(snap.capList))
}

func (r *Registry) pushHistoryLocked(skill *core.Skill) {
	entries := append(r.history[skill.Name], skill)
	if len(entries) > historyCap {
		entries = entries[len(entries)-historyCap:]
	}
	r.history[skill.Name] = entries
}

func (r *Registry) emit(ctx context.Context, eventType core.EventType, payload map[string]any) {
	r.emitter.Emit(ctx, core.NewEvent(ctx, eventType, "registry", payload))
}

// admit builds the table entry for a validated descriptor: a deep clone in
// state Registered with owner-stamped capabilities.
func admit(skill *core.Skill) *core.Skill {
	entry := skill.Clone()
	entry.State = core.SkillStateRegistered
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = time.Now().UTC()
	}
	for i := range entry.Capabilities {
		entry.Capabilities[i].Skill = entry.Name
	}
	return entry
}

// withState clones a skill with a new state, leaving the original (and any
// snapshot holding it) untouched.
func withState(skill *core.Skill, state core.SkillState) *core.Skill {
	cp := skill.Clone()
	cp.State = state
	return cp
}
