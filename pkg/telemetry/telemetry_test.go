package telemetry

import (
	"context"
	"testing"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Shutdown function should not be nil")
	}

	// Ensure shutdown works
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitNoneExporter(t *testing.T) {
	shutdown, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("InitWithConfig failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitUnknownExporter(t *testing.T) {
	if _, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected an error for an unknown exporter")
	}
}

func TestInitOTLPRequiresEndpoint(t *testing.T) {
	if _, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected an error when the otlp endpoint is missing")
	}
}
