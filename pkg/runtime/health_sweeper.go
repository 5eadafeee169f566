package runtime

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

// startHealthSweeper launches the background sweep loop. Caller holds
// the runtime lock.
func (r *Runtime) startHealthSweeper() {
	if r.sweepInterval <= 0 {
		r.logger.Info("runtime.health.sweeper.disabled",
			slog.Duration("interval", r.sweepInterval),
		)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.sweepCancel = cancel
	r.sweepDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		r.logger.Info("runtime.health.sweeper.start",
			slog.Duration("interval", r.sweepInterval),
			slog.Duration("timeout", r.sweepTimeout),
		)
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("runtime.health.sweeper.stop")
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

func (r *Runtime) stopHealthSweeper() {
	if r.sweepCancel == nil {
		return
	}
	r.sweepCancel()
	<-r.sweepDone
	r.sweepCancel = nil
	r.sweepDone = nil
}

func (r *Runtime) sweep(ctx context.Context) {
	start := time.Now()
	sweepCtx, cancel := context.WithTimeout(ctx, r.sweepTimeout)
	defer cancel()

	sweepCtx, span := tracer.Start(sweepCtx, "runtime.health.sweep")
	defer span.End()
	traceID, spanID := traceIDs(span)

	results, overall := r.health.CheckAll(sweepCtx)
	elapsed := time.Since(start)

	for _, res := range results {
		r.metrics.RecordHealthStatus(sweepCtx, res.Component, healthGaugeValue(res.Status))
		if res.Status == core.HealthHealthy {
			continue
		}
		attrs := []any{
			slog.String("component", res.Component),
			slog.String("status", string(res.Status)),
			slog.String("message", res.Message),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
		}
		if res.Error != nil {
			attrs = append(attrs, slog.String("error", res.Error.Error()))
		}
		r.logger.Warn("runtime.health.component", attrs...)
	}

	span.SetAttributes(
		attribute.String("tekhne.health.overall", string(overall)),
		attribute.Int("tekhne.health.components", len(results)),
	)
	recordSweep(sweepCtx, string(overall), elapsed)

	r.logger.Info("runtime.health.sweep.complete",
		slog.String("overall", string(overall)),
		slog.Int("components", len(results)),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
}

// healthGaugeValue maps a status onto the 0..2 gauge scale.
func healthGaugeValue(status core.HealthStatus) int64 {
	switch status {
	case core.HealthHealthy:
		return 2
	case core.HealthDegraded:
		return 1
	default:
		return 0
	}
}
