package registry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	mutationCounter metric.Int64Counter
	skillGauge      metric.Int64Gauge
	capabilityGauge metric.Int64Gauge
)

func initMetrics() {
	meter := otel.Meter("tekhne/registry")

	mutationCounter, _ = meter.Int64Counter(
		"tekhne.registry.mutations",
		metric.WithDescription("Successful registry mutations"),
	)
	skillGauge, _ = meter.Int64Gauge(
		"tekhne.registry.skills",
		metric.WithDescription("Skills in the current snapshot"),
	)
	capabilityGauge, _ = meter.Int64Gauge(
		"tekhne.registry.capabilities",
		metric.WithDescription("Capabilities resolvable from the current snapshot"),
	)
}

func recordMutation(ctx context.Context, skills, capabilities int) {
	metricsOnce.Do(initMetrics)
	if mutationCounter != nil {
		mutationCounter.Add(ctx, 1)
	}
	if skillGauge != nil {
		skillGauge.Record(ctx, int64(skills))
	}
	if capabilityGauge != nil {
		capabilityGauge.Record(ctx, int64(capabilities))
	}
}
