package telemetry

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// smokeConfigFromEnv mirrors how the config package maps TEKHNE_TELEMETRY_*
// variables, without importing it.
func smokeConfigFromEnv(t *testing.T) Config {
	t.Helper()

	endpoint := os.Getenv("TEKHNE_TELEMETRY_OTLP_ENDPOINT")
	if endpoint == "" {
		t.Skip("set TEKHNE_TELEMETRY_OTLP_ENDPOINT for OTLP smoke test")
	}

	cfg := Config{
		Exporter:     "otlp",
		OTLPEndpoint: endpoint,
		OTLPInsecure: os.Getenv("TEKHNE_TELEMETRY_OTLP_INSECURE") == "true",
	}
	if raw := os.Getenv("TEKHNE_TELEMETRY_OTLP_TIMEOUT_SECONDS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.OTLPTimeoutSeconds = parsed
		}
	}
	// TEKHNE_OTLP_SMOKE_HEADERS="k1=v1,k2=v2"
	if raw := os.Getenv("TEKHNE_OTLP_SMOKE_HEADERS"); raw != "" {
		cfg.OTLPHeaders = make(map[string]string)
		for _, pair := range strings.Split(raw, ",") {
			if key, value, ok := strings.Cut(pair, "="); ok {
				cfg.OTLPHeaders[key] = value
			}
		}
	}
	return cfg
}

func TestOTLPSmoke(t *testing.T) {
	if os.Getenv("TEKHNE_OTLP_SMOKE_TEST") != "1" {
		t.Skip("set TEKHNE_OTLP_SMOKE_TEST=1 to run")
	}
	cfg := smokeConfigFromEnv(t)

	shutdown, err := InitWithConfig("telemetry-smoke-test", "v0.1.0", cfg)
	if err != nil {
		t.Fatalf("failed to init telemetry: %v", err)
	}

	tracer := otel.Tracer("tekhne/telemetry-smoke")
	ctx, span := tracer.Start(context.Background(), "smoke.span")
	span.SetAttributes(attribute.String("smoke.test", "otlp"))
	span.End()

	meter := otel.Meter("tekhne/telemetry-smoke")
	counter, err := meter.Int64Counter("tekhne.telemetry.smoke.counter")
	if err == nil {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("smoke.test", "otlp")))
	}

	// Give the batcher a moment before flushing on shutdown.
	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("telemetry shutdown failed: %v", err)
	}
}
