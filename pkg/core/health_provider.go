// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultHealthCheckProvider implements HealthCheckProvider over a named
// checker table.
type DefaultHealthCheckProvider struct {
	checkers map[string]HealthChecker
	mu       sync.RWMutex
}

// NewDefaultHealthCheckProvider returns an empty provider.
func NewDefaultHealthCheckProvider() *DefaultHealthCheckProvider {
	return &DefaultHealthCheckProvider{
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds or replaces the checker for a component.
func (p *DefaultHealthCheckProvider) RegisterChecker(name string, checker HealthChecker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkers[name] = checker
}

// Check probes one component. The result carries the component name even
// when the checker leaves it blank.
func (p *DefaultHealthCheckProvider) Check(ctx context.Context, name string) (HealthResult, error) {
	p.mu.RLock()
	checker, exists := p.checkers[name]
	p.mu.RUnlock()

	if !exists {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}

	result := checker.Check(ctx)
	result.Component = name
	return result, nil
}

// CheckAll probes every component in name order and reports the worst
// status seen. Probes run without holding the table lock, so a slow
// checker does not block registration.
func (p *DefaultHealthCheckProvider) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	checkers := p.snapshotCheckers()

	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]HealthResult, 0, len(names))
	overall := HealthHealthy
	for _, name := range names {
		result := checkers[name].Check(ctx)
		result.Component = name
		results = append(results, result)

		switch result.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
	}
	return results, overall
}

func (p *DefaultHealthCheckProvider) snapshotCheckers() map[string]HealthChecker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	checkers := make(map[string]HealthChecker, len(p.checkers))
	for name, checker := range p.checkers {
		checkers[name] = checker
	}
	return checkers
}

// FunctionHealthChecker adapts a plain function to HealthChecker, the way
// most components expose their probe.
type FunctionHealthChecker struct {
	fn func(ctx context.Context) HealthResult
}

// NewFunctionHealthChecker wraps fn as a HealthChecker.
func NewFunctionHealthChecker(fn func(ctx context.Context) HealthResult) *FunctionHealthChecker {
	return &FunctionHealthChecker{fn: fn}
}

// Check invokes fn, stamping LastCheck when fn left it zero.
func (f *FunctionHealthChecker) Check(ctx context.Context) HealthResult {
	result := f.fn(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result
}
