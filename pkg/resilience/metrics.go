// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"sync"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce       sync.Once
	breakerStateGauge metric.Int64Gauge
)

func initMetrics() {
	meter := otel.Meter("tekhne/resilience")

	breakerStateGauge, _ = meter.Int64Gauge(
		"tekhne.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per capability (0=open, 1=half-open, 2=closed)"),
	)
}

func recordBreakerState(capability string, state gobreaker.State) {
	metricsOnce.Do(initMetrics)
	if breakerStateGauge == nil {
		return
	}
	breakerStateGauge.Record(context.Background(), breakerGaugeValue(state),
		metric.WithAttributes(
			attribute.String("tekhne.capability", capability),
		))
}

// breakerGaugeValue orders states so alerting can treat lower as worse.
func breakerGaugeValue(state gobreaker.State) int64 {
	switch state {
	case gobreaker.StateOpen:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
