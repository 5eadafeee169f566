package manifest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

// HandlerResolver turns a manifest handler reference into an invocable
// handler. References take the form "<scheme>:<rest>", e.g.
// "builtin:echo" or "mcp:search/web-search".
type HandlerResolver interface {
	Resolve(ref string) (core.Handler, error)
}

// ResolverFunc adapts a function to HandlerResolver.
type ResolverFunc func(ref string) (core.Handler, error)

// Resolve implements HandlerResolver.
func (f ResolverFunc) Resolve(ref string) (core.Handler, error) {
	return f(ref)
}

// SplitRef splits a handler reference into scheme and remainder.
func SplitRef(ref string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(ref, ":")
	if !ok || scheme == "" || rest == "" {
		return "", "", fmt.Errorf("handler reference %q must take the form scheme:name", ref)
	}
	return scheme, rest, nil
}

// ResolverMux routes handler references to scheme-specific resolvers.
type ResolverMux struct {
	mu        sync.RWMutex
	resolvers map[string]HandlerResolver
}

// NewResolverMux creates an empty resolver mux.
func NewResolverMux() *ResolverMux {
	return &ResolverMux{resolvers: make(map[string]HandlerResolver)}
}

// Register installs a resolver for a scheme, replacing any previous one.
func (m *ResolverMux) Register(scheme string, r HandlerResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers[scheme] = r
}

// Resolve implements HandlerResolver.
func (m *ResolverMux) Resolve(ref string) (core.Handler, error) {
	scheme, _, err := SplitRef(ref)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	r, ok := m.resolvers[scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown handler scheme %q", scheme)
	}
	return r.Resolve(ref)
}
