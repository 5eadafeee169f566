// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tekhne-dev/tekhne/pkg/errors"
)

// ErrorMetrics tracks error rates, recoveries, and component health for
// production monitoring. A nil *ErrorMetrics is a valid no-op receiver, so
// callers can wire it conditionally.
type ErrorMetrics struct {
	errorCounter      metric.Int64Counter
	recoveryCounter   metric.Int64Counter
	errorRateGauge    metric.Float64Gauge
	healthStatusGauge metric.Int64Gauge
}

// NewErrorMetrics registers the error-observability instruments on the
// global meter provider.
func NewErrorMetrics(ctx context.Context) (*ErrorMetrics, error) {
	meter := otel.Meter("tekhne/errors")

	errorCounter, err := meter.Int64Counter(
		"tekhne.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}
	recoveryCounter, err := meter.Int64Counter(
		"tekhne.errors.recovered",
		metric.WithDescription("Successful error recoveries by code"),
	)
	if err != nil {
		return nil, err
	}
	errorRateGauge, err := meter.Float64Gauge(
		"tekhne.errors.rate",
		metric.WithDescription("Error rate per minute by component"),
	)
	if err != nil {
		return nil, err
	}
	healthStatusGauge, err := meter.Int64Gauge(
		"tekhne.health.status",
		metric.WithDescription("Component health status (0=unhealthy, 1=degraded, 2=healthy)"),
	)
	if err != nil {
		return nil, err
	}

	return &ErrorMetrics{
		errorCounter:      errorCounter,
		recoveryCounter:   recoveryCounter,
		errorRateGauge:    errorRateGauge,
		healthStatusGauge: healthStatusGauge,
	}, nil
}

// RecordErrorMetric counts one error against its code and component.
// Errors outside the taxonomy count under code UNKNOWN.
func (em *ErrorMetrics) RecordErrorMetric(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}

	code, recoverable := "UNKNOWN", "unknown"
	if te, ok := err.(*errors.TekhneError); ok {
		code = string(te.Code)
		recoverable = te.RecoverableString()
	}
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", code),
			attribute.String("component", component),
			attribute.String("recoverable", recoverable),
		),
	)
}

// RecordRecovery counts one handled error: a retry that succeeded, a
// replan that met the criterion, and so on.
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, errorCode errors.ErrorCode) {
	if em == nil {
		return
	}
	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(errorCode)),
		),
	)
}

// RecordErrorRate publishes a component's errors-per-minute rate.
func (em *ErrorMetrics) RecordErrorRate(ctx context.Context, component string, ratePerMinute float64) {
	if em == nil {
		return
	}
	em.errorRateGauge.Record(ctx, ratePerMinute,
		metric.WithAttributes(
			attribute.String("component", component),
		),
	)
}

// RecordHealthStatus publishes a component's health gauge value
// (0=unhealthy, 1=degraded, 2=healthy).
func (em *ErrorMetrics) RecordHealthStatus(ctx context.Context, component string, status int64) {
	if em == nil {
		return
	}
	em.healthStatusGauge.Record(ctx, status,
		metric.WithAttributes(
			attribute.String("component", component),
		),
	)
}
