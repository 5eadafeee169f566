// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

func TestHandlerInjectsRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(&buf, "info", "json"))

	ctx := core.WithRunID(context.Background(), "run-abc123")
	logger.InfoContext(ctx, "step done", slog.String("step", "s1"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["run_id"] != "run-abc123" {
		t.Errorf("expected run_id injected, got %v", record["run_id"])
	}
	if record["step"] != "s1" {
		t.Errorf("expected original attrs preserved, got %v", record["step"])
	}
}

func TestHandlerInjectsStepID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(&buf, "info", "json"))

	ctx := core.WithRunID(context.Background(), "run-7")
	ctx = core.WithStepID(ctx, "fetch")
	logger.InfoContext(ctx, "handler log line")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["run_id"] != "run-7" {
		t.Errorf("expected run_id injected, got %v", record["run_id"])
	}
	if record["step_id"] != "fetch" {
		t.Errorf("expected step_id injected, got %v", record["step_id"])
	}
}

func TestHandlerWithoutContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(&buf, "debug", "text"))

	logger.Info("plain message")

	line := buf.String()
	if strings.Contains(line, "run_id") || strings.Contains(line, "trace_id") {
		t.Errorf("expected no correlation ids without context, got %q", line)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLogLevel(input); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
