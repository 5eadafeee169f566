// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the built-in capability handlers reachable
// from manifests through builtin: references. The set is deliberately
// small: echo for wiring checks, http-fetch for pulling web content,
// and template for text rendering.
package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
	"github.com/tekhne-dev/tekhne/pkg/manifest"
)

// Registry maps builtin handler names to implementations. Custom
// handlers may be added next to the builtin set before manifests load.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]core.Handler
}

// NewRegistry creates a registry preloaded with the builtin set.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]core.Handler)}
	r.handlers["echo"] = core.HandlerFunc(echo)
	r.handlers["http-fetch"] = NewFetchHandler(FetchConfig{})
	r.handlers["template"] = core.HandlerFunc(renderTemplate)
	return r
}

// Register adds or replaces a named handler.
func (r *Registry) Register(name string, h core.Handler) error {
	if name == "" || h == nil {
		return errors.New(errors.CodeInvalidInput, "handler name and implementation are required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	return nil
}

// Names lists registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolver resolves builtin:<name> references against the registry.
func (r *Registry) Resolver() manifest.HandlerResolver {
	return manifest.ResolverFunc(func(ref string) (core.Handler, error) {
		scheme, name, err := manifest.SplitRef(ref)
		if err != nil {
			return nil, err
		}
		if scheme != "builtin" {
			return nil, fmt.Errorf("handler reference %q is not a builtin reference", ref)
		}
		r.mu.RLock()
		h, ok := r.handlers[name]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown builtin handler %q", name)
		}
		return h, nil
	})
}

// echo returns a copy of its arguments, so recorded outputs stay stable
// if the caller mutates the map afterwards.
func echo(ctx context.Context, args map[string]any) (any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out, nil
}
