package runtime

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	submitCounter  metric.Int64Counter
	rejectCounter  metric.Int64Counter
	activeRuns     metric.Int64UpDownCounter
	sweepCounter   metric.Int64Counter
	sweepLatencyMs metric.Float64Histogram
)

func initMetrics() {
	meter := otel.Meter("tekhne/runtime")

	submitCounter, _ = meter.Int64Counter(
		"tekhne.runtime.runs.submitted",
		metric.WithDescription("Goals admitted for execution"),
	)
	rejectCounter, _ = meter.Int64Counter(
		"tekhne.runtime.runs.rejected",
		metric.WithDescription("Submissions that gave up before admission"),
	)
	activeRuns, _ = meter.Int64UpDownCounter(
		"tekhne.runtime.runs.active",
		metric.WithDescription("Runs currently executing"),
	)
	sweepCounter, _ = meter.Int64Counter(
		"tekhne.runtime.health.sweeps",
		metric.WithDescription("Completed health sweeps by overall status"),
	)
	sweepLatencyMs, _ = meter.Float64Histogram(
		"tekhne.runtime.health.sweep_latency_ms",
		metric.WithDescription("Health sweep duration in milliseconds"),
	)
}

func recordSubmitted(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	if submitCounter != nil {
		submitCounter.Add(ctx, 1)
	}
	if activeRuns != nil {
		activeRuns.Add(ctx, 1)
	}
}

func recordSettled(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	if activeRuns != nil {
		activeRuns.Add(ctx, -1)
	}
}

func recordRejected(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	if rejectCounter != nil {
		rejectCounter.Add(ctx, 1)
	}
}

func recordSweep(ctx context.Context, overall string, elapsed time.Duration) {
	metricsOnce.Do(initMetrics)
	if sweepCounter != nil {
		sweepCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tekhne.health.overall", overall),
		))
	}
	if sweepLatencyMs != nil {
		sweepLatencyMs.Record(ctx, float64(elapsed.Milliseconds()))
	}
}
