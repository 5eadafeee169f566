// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/registry"
)

// ScriptedHandler is a capability handler that returns pre-scripted
// results in order. Useful for testing executor and agent behavior
// without real side effects.
type ScriptedHandler struct {
	mu           sync.Mutex
	results      []scriptedResult
	calls        []HandlerCall
	currentIndex int
	defaultOut   any
	hasDefault   bool
	onInvoke     func(ctx context.Context, args map[string]any) (any, error)
}

type scriptedResult struct {
	output any
	err    error
}

// HandlerCall records one invocation of a scripted handler.
type HandlerCall struct {
	Args map[string]any
	At   time.Time
}

// NewScriptedHandler creates a handler with no scripted results.
// Invoking it before adding results returns an error unless a default
// output is set.
func NewScriptedHandler() *ScriptedHandler {
	return &ScriptedHandler{
		results: make([]scriptedResult, 0),
		calls:   make([]HandlerCall, 0),
	}
}

// AddOutput queues a successful result.
func (h *ScriptedHandler) AddOutput(output any) *ScriptedHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, scriptedResult{output: output})
	return h
}

// AddError queues a failing result.
func (h *ScriptedHandler) AddError(err error) *ScriptedHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, scriptedResult{err: err})
	return h
}

// WithDefault sets the output returned once scripted results run out.
func (h *ScriptedHandler) WithDefault(output any) *ScriptedHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaultOut = output
	h.hasDefault = true
	return h
}

// WithInvokeFunc overrides invocation entirely with a custom function.
// Calls are still recorded.
func (h *ScriptedHandler) WithInvokeFunc(fn func(ctx context.Context, args map[string]any) (any, error)) *ScriptedHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onInvoke = fn
	return h
}

// Invoke implements core.Handler.
func (h *ScriptedHandler) Invoke(ctx context.Context, args map[string]any) (any, error) {
	h.mu.Lock()

	// Record a copy so later mutation of the caller's map does not
	// change what the test observed.
	h.calls = append(h.calls, HandlerCall{
		Args: maps.Clone(args),
		At:   time.Now(),
	})

	if h.onInvoke != nil {
		fn := h.onInvoke
		h.mu.Unlock()
		return fn(ctx, args)
	}

	defer h.mu.Unlock()

	if h.currentIndex >= len(h.results) {
		if h.hasDefault {
			return h.defaultOut, nil
		}
		return nil, fmt.Errorf("no more scripted results (call %d)", len(h.calls))
	}

	res := h.results[h.currentIndex]
	h.currentIndex++
	return res.output, res.err
}

// Calls returns all recorded invocations.
func (h *ScriptedHandler) Calls() []HandlerCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]HandlerCall, len(h.calls))
	copy(result, h.calls)
	return result
}

// LastCall returns the most recent invocation, or nil if none.
func (h *ScriptedHandler) LastCall() *HandlerCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.calls) == 0 {
		return nil
	}
	call := h.calls[len(h.calls)-1]
	return &call
}

// CallCount returns the number of invocations.
func (h *ScriptedHandler) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// Reset clears recorded calls and rewinds the script.
func (h *ScriptedHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = h.calls[:0]
	h.currentIndex = 0
}

// SkillBuilder assembles skill fixtures for registry tests.
type SkillBuilder struct {
	skill   core.Skill
	schemas map[string]string
}

// NewSkill creates a builder for a skill with the given name. The
// version defaults to "1.0.0".
func NewSkill(name string) *SkillBuilder {
	return &SkillBuilder{
		skill: core.Skill{
			Name:    name,
			Version: "1.0.0",
		},
		schemas: make(map[string]string),
	}
}

// WithVersion sets the skill version.
func (b *SkillBuilder) WithVersion(version string) *SkillBuilder {
	b.skill.Version = version
	return b
}

// WithDescription sets the skill description.
func (b *SkillBuilder) WithDescription(desc string) *SkillBuilder {
	b.skill.Description = desc
	return b
}

// WithDependency declares a dependency on another skill.
func (b *SkillBuilder) WithDependency(name string) *SkillBuilder {
	b.skill.Dependencies = append(b.skill.Dependencies, name)
	return b
}

// WithMetadata adds a metadata entry.
func (b *SkillBuilder) WithMetadata(key, value string) *SkillBuilder {
	if b.skill.Metadata == nil {
		b.skill.Metadata = make(map[string]string)
	}
	b.skill.Metadata[key] = value
	return b
}

// WithCapability adds a capability backed by the given handler and no
// input schema.
func (b *SkillBuilder) WithCapability(name string, handler core.Handler) *SkillBuilder {
	b.skill.Capabilities = append(b.skill.Capabilities, core.Capability{
		Name:    name,
		Handler: handler,
	})
	return b
}

// WithCapabilitySchema adds a capability whose input schema is compiled
// from the given JSON document at Build time.
func (b *SkillBuilder) WithCapabilitySchema(name string, handler core.Handler, schema string) *SkillBuilder {
	b.skill.Capabilities = append(b.skill.Capabilities, core.Capability{
		Name:    name,
		Handler: handler,
	})
	b.schemas[name] = schema
	return b
}

// Build compiles any pending schemas and returns the skill.
func (b *SkillBuilder) Build() (*core.Skill, error) {
	for i := range b.skill.Capabilities {
		raw, ok := b.schemas[b.skill.Capabilities[i].Name]
		if !ok {
			continue
		}
		compiled, err := core.CompileSchema([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("capability %q schema: %w", b.skill.Capabilities[i].Name, err)
		}
		b.skill.Capabilities[i].InputSchema = compiled
	}
	return b.skill.Clone(), nil
}

// MustBuild builds the skill and fails the test on error.
func (b *SkillBuilder) MustBuild(t *testing.T) *core.Skill {
	t.Helper()
	skill, err := b.Build()
	if err != nil {
		t.Fatalf("building skill %q: %v", b.skill.Name, err)
	}
	return skill
}

// NewRegistry creates a registry with the given skills registered. It
// fails the test if any registration is rejected.
func NewRegistry(t *testing.T, skills ...*core.Skill) *registry.Registry {
	t.Helper()
	reg := registry.New()
	ctx := context.Background()
	for _, skill := range skills {
		if err := reg.Register(ctx, skill); err != nil {
			t.Fatalf("registering skill %q: %v", skill.Name, err)
		}
	}
	return reg
}
