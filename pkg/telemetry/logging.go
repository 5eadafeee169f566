// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

// processLevel backs the handler ConfigureSlog installs, so SetLogLevel
// can adjust verbosity while the process runs.
var processLevel slog.LevelVar

// ConfigureSlog sets the global slog logger with trace- and run-aware
// attributes. The level can be changed later with SetLogLevel.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	processLevel.Set(ParseLogLevel(level))
	logger := slog.New(newContextHandler(output, &processLevel, format))
	slog.SetDefault(logger)
	return logger
}

// SetLogLevel adjusts the level of the logger ConfigureSlog installed.
func SetLogLevel(level string) {
	processLevel.Set(ParseLogLevel(level))
}

// NewSlogHandler builds a fixed-level handler that enriches records with
// trace_id, span_id, run_id, and step_id pulled from the context.
func NewSlogHandler(output io.Writer, level, format string) slog.Handler {
	return newContextHandler(output, ParseLogLevel(level), format)
}

func newContextHandler(output io.Writer, level slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return &contextHandler{next: base}
}

// contextHandler decorates records with correlation ids carried by the
// context: the active span's trace/span ids plus the run and step ids
// the runtime threads through execution.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	traceID, spanID := spanIDsFromContext(ctx)
	if traceID != "" && !recordHasAttr(record, "trace_id") {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	if spanID != "" && !recordHasAttr(record, "span_id") {
		record.AddAttrs(slog.String("span_id", spanID))
	}
	if runID, ok := core.RunID(ctx); ok && !recordHasAttr(record, "run_id") {
		record.AddAttrs(slog.String("run_id", runID))
	}
	if stepID, ok := core.StepID(ctx); ok && !recordHasAttr(record, "step_id") {
		record.AddAttrs(slog.String("step_id", stepID))
	}
	return h.next.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

// ParseLogLevel maps a config string to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func spanIDsFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return "", ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

func recordHasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
