package toolchain

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	compileCounter metric.Int64Counter
	stepCounter    metric.Int64Counter
	retryCounter   metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("tekhne/toolchain")

	compileCounter, _ = meter.Int64Counter(
		"tekhne.toolchain.compiles",
		metric.WithDescription("Plan compilation attempts"),
	)
	stepCounter, _ = meter.Int64Counter(
		"tekhne.toolchain.steps",
		metric.WithDescription("Terminal step outcomes"),
	)
	retryCounter, _ = meter.Int64Counter(
		"tekhne.toolchain.step_retries",
		metric.WithDescription("Step retry attempts"),
	)
}

func recordCompile(ctx context.Context, ok bool) {
	metricsOnce.Do(initMetrics)
	if compileCounter != nil {
		compileCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("tekhne.compile.ok", ok),
		))
	}
}

func recordStep(ctx context.Context, capability string, status StepStatus) {
	metricsOnce.Do(initMetrics)
	if stepCounter != nil {
		stepCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tekhne.capability", capability),
			attribute.String("tekhne.step.status", string(status)),
		))
	}
}

func recordRetry(ctx context.Context, capability string) {
	metricsOnce.Do(initMetrics)
	if retryCounter != nil {
		retryCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tekhne.capability", capability),
		))
	}
}
