package agent

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce   sync.Once
	runCounter    metric.Int64Counter
	replanCounter metric.Int64Counter
	runDuration   metric.Float64Histogram
)

func initMetrics() {
	meter := otel.Meter("tekhne/agent")

	runCounter, _ = meter.Int64Counter(
		"tekhne.agent.runs",
		metric.WithDescription("Finished agent runs by terminal state"),
	)
	replanCounter, _ = meter.Int64Counter(
		"tekhne.agent.replans",
		metric.WithDescription("Replanning iterations"),
	)
	runDuration, _ = meter.Float64Histogram(
		"tekhne.agent.run_duration_ms",
		metric.WithDescription("End-to-end run duration in milliseconds"),
	)
}

func recordRun(ctx context.Context, state RunState, elapsed time.Duration) {
	metricsOnce.Do(initMetrics)
	if runCounter != nil {
		runCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tekhne.run.state", string(state)),
		))
	}
	if runDuration != nil {
		runDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
			attribute.String("tekhne.run.state", string(state)),
		))
	}
}

func recordReplan(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	if replanCounter != nil {
		replanCounter.Add(ctx, 1)
	}
}
