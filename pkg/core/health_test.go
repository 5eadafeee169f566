// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"testing"
	"time"
)

func staticChecker(status HealthStatus, message string) HealthChecker {
	return NewFunctionHealthChecker(func(ctx context.Context) HealthResult {
		return HealthResult{Status: status, Message: message}
	})
}

func TestHealthStatusConstants(t *testing.T) {
	tests := []struct {
		status HealthStatus
		name   string
	}{
		{HealthHealthy, "HEALTHY"},
		{HealthDegraded, "DEGRADED"},
		{HealthUnhealthy, "UNHEALTHY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.status) != tt.name {
				t.Errorf("expected %q, got %q", tt.name, string(tt.status))
			}
		})
	}
}

func TestFunctionHealthChecker(t *testing.T) {
	callCount := 0
	checker := NewFunctionHealthChecker(func(ctx context.Context) HealthResult {
		callCount++
		return HealthResult{
			Status:  HealthHealthy,
			Message: "ok",
		}
	})

	result := checker.Check(context.Background())
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if result.Status != HealthHealthy {
		t.Errorf("expected Healthy")
	}
	if result.LastCheck.IsZero() {
		t.Errorf("expected LastCheck to be set by wrapper")
	}
}

func TestDefaultHealthCheckProvider(t *testing.T) {
	provider := NewDefaultHealthCheckProvider()

	provider.RegisterChecker("registry", staticChecker(HealthHealthy, "ok"))
	provider.RegisterChecker("watcher", staticChecker(HealthDegraded, "slow"))
	provider.RegisterChecker("planner", staticChecker(HealthUnhealthy, "down"))

	results, overallStatus := provider.CheckAll(context.Background())

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// One unhealthy component drags the aggregate down.
	if overallStatus != HealthUnhealthy {
		t.Errorf("expected Unhealthy overall, got %v", overallStatus)
	}
	// Results come back in component-name order.
	wantOrder := []string{"planner", "registry", "watcher"}
	for i, want := range wantOrder {
		if results[i].Component != want {
			t.Errorf("result %d component = %q, want %q", i, results[i].Component, want)
		}
	}
}

func TestDefaultHealthCheckProviderDegraded(t *testing.T) {
	provider := NewDefaultHealthCheckProvider()

	provider.RegisterChecker("registry", staticChecker(HealthHealthy, "ok"))
	provider.RegisterChecker("watcher", staticChecker(HealthDegraded, "slow"))

	results, overallStatus := provider.CheckAll(context.Background())

	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}

	// Overall status should be Degraded if no Unhealthy but some Degraded
	if overallStatus != HealthDegraded {
		t.Errorf("expected Degraded overall, got %v", overallStatus)
	}
}

func TestDefaultHealthCheckProviderHealthy(t *testing.T) {
	provider := NewDefaultHealthCheckProvider()

	provider.RegisterChecker("registry", staticChecker(HealthHealthy, "ok"))
	provider.RegisterChecker("watcher", staticChecker(HealthHealthy, "ok"))

	results, overallStatus := provider.CheckAll(context.Background())

	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}

	// Overall status should be Healthy if all are Healthy
	if overallStatus != HealthHealthy {
		t.Errorf("expected Healthy overall, got %v", overallStatus)
	}
}

func TestCheckSpecific(t *testing.T) {
	provider := NewDefaultHealthCheckProvider()
	provider.RegisterChecker("registry", staticChecker(HealthHealthy, "ok"))

	result, err := provider.Check(context.Background(), "registry")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result.Status != HealthHealthy {
		t.Errorf("expected Healthy")
	}
	if result.Component != "registry" {
		t.Errorf("expected component to be stamped, got %q", result.Component)
	}
}

func TestCheckSpecificNotFound(t *testing.T) {
	provider := NewDefaultHealthCheckProvider()

	_, err := provider.Check(context.Background(), "nonexistent")
	if err == nil {
		t.Errorf("expected error for nonexistent checker")
	}
}

func TestCheckWithContext(t *testing.T) {
	provider := NewDefaultHealthCheckProvider()

	// Checker that respects context timeout
	checker := NewFunctionHealthChecker(func(ctx context.Context) HealthResult {
		select {
		case <-ctx.Done():
			return HealthResult{
				Status:  HealthUnhealthy,
				Message: "context timeout",
			}
		case <-time.After(100 * time.Millisecond):
			return HealthResult{
				Status:  HealthHealthy,
				Message: "ok",
			}
		}
	})

	provider.RegisterChecker("slow_planner", checker)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, _ := provider.Check(ctx, "slow_planner")
	if result.Status != HealthUnhealthy {
		t.Errorf("expected Unhealthy due to timeout")
	}
}
