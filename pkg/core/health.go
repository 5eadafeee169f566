// SPDX-License-Identifier: Apache-2.0
// Package core provides the shared data model for Tekhne: capabilities,
// skills, goals, snapshots, planner contracts, events, and health checks.
package core

import (
	"context"
	"time"
)

// HealthStatus is the coarse health state a component reports. Aggregation
// takes the worst status across components.
type HealthStatus string

const (
	// HealthHealthy means the component is fully operational.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded means the component serves at reduced capacity, such
	// as a registry with inactive skills or a directory with some
	// connections down.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy means the component cannot serve.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult is one component's answer to a health probe.
type HealthResult struct {
	Status    HealthStatus
	Component string
	Message   string
	LastCheck time.Time
	Error     error
}

// HealthChecker probes one component. Check honors ctx cancellation and
// deadlines; a slow probe must not wedge the sweep.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HealthCheckProvider fans a probe out across registered components.
type HealthCheckProvider interface {
	// RegisterChecker adds a named component. Registering the same name
	// again replaces the previous checker.
	RegisterChecker(name string, checker HealthChecker)

	// CheckAll probes every component and reports the per-component
	// results plus the worst status seen.
	CheckAll(ctx context.Context) ([]HealthResult, HealthStatus)

	// Check probes a single component by name.
	Check(ctx context.Context, name string) (HealthResult, error)
}
