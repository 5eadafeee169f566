package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithCLIProfile(t *testing.T) {
	tmpDir := t.TempDir()

	baseConfig := `
planner:
  kind: "static"
`
	basePath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(basePath, []byte(baseConfig), 0644); err != nil {
		t.Fatalf("failed to write base config: %v", err)
	}

	devConfig := `
planner:
  kind: "http"
`
	devPath := filepath.Join(tmpDir, "config.dev.yaml")
	if err := os.WriteFile(devPath, []byte(devConfig), 0644); err != nil {
		t.Fatalf("failed to write dev config: %v", err)
	}

	tests := []struct {
		name     string
		args     []string
		wantKind string
	}{
		{
			name:     "profile flag",
			args:     []string{"--config", basePath, "--profile", "dev"},
			wantKind: "http",
		},
		{
			name:     "env flag alias",
			args:     []string{"--config", basePath, "--env", "dev"},
			wantKind: "http",
		},
		{
			name:     "profile with equals",
			args:     []string{"--config=" + basePath, "--profile=dev"},
			wantKind: "http",
		},
		{
			name:     "env with equals",
			args:     []string{"--config=" + basePath, "--env=dev"},
			wantKind: "http",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithCLI(tc.args)
			if err != nil {
				t.Fatalf("LoadWithCLI failed: %v", err)
			}

			if cfg.Planner.Kind != tc.wantKind {
				t.Errorf("planner kind: got %s, want %s", cfg.Planner.Kind, tc.wantKind)
			}
		})
	}
}

func TestLoadWithCLIOverrides(t *testing.T) {
	cfg, err := LoadWithCLI([]string{
		"--set", "telemetry.exporter=otlp",
		"--set", "telemetry.otlp_endpoint=http://localhost:4317",
		"--set", "telemetry.otlp_timeout_seconds=12",
		"--set", "telemetry.otlp_headers.x-api-key=secret-token",
		"--set", "telemetry.otlp_headers.x-org-id=org-123",
		"--set", "executor.concurrency=16",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}

	if cfg.Telemetry.Exporter != "otlp" {
		t.Errorf("expected exporter otlp, got %s", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.OTLPEndpoint != "http://localhost:4317" {
		t.Errorf("expected endpoint override, got %s", cfg.Telemetry.OTLPEndpoint)
	}
	if cfg.Telemetry.OTLPTimeoutSeconds != 12 {
		t.Errorf("expected timeout override 12, got %d", cfg.Telemetry.OTLPTimeoutSeconds)
	}
	if cfg.Executor.Concurrency != 16 {
		t.Errorf("expected concurrency override 16, got %d", cfg.Executor.Concurrency)
	}

	headers := cfg.Telemetry.OTLPHeaders
	if headers["x-api-key"] != "secret-token" {
		t.Errorf("expected x-api-key=secret-token, got %s", headers["x-api-key"])
	}
	if headers["x-org-id"] != "org-123" {
		t.Errorf("expected x-org-id=org-123, got %s", headers["x-org-id"])
	}
}

func TestExporterHeadersBasicAuth(t *testing.T) {
	cfg, err := LoadWithCLI([]string{
		"--set", "telemetry.otlp_user=admin",
		"--set", "telemetry.otlp_token=password123",
		"--set", "telemetry.otlp_headers.x-org-id=org-123",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}

	headers := cfg.Telemetry.ExporterHeaders()
	// admin:password123 base64-encoded
	if headers["Authorization"] != "Basic YWRtaW46cGFzc3dvcmQxMjM=" {
		t.Errorf("unexpected Authorization header: %s", headers["Authorization"])
	}
	if headers["x-org-id"] != "org-123" {
		t.Errorf("expected explicit headers preserved, got %s", headers["x-org-id"])
	}

	var empty TelemetryConfig
	if got := empty.ExporterHeaders(); got != nil {
		t.Errorf("expected nil headers for empty config, got %v", got)
	}
}

func TestLoadWithCLIIgnoresUnknownArgs(t *testing.T) {
	cfg, err := LoadWithCLI([]string{"run", "--goal", "do things", "--set", "agent.max_replans=5"})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Agent.MaxReplans != 5 {
		t.Errorf("expected max replans 5, got %d", cfg.Agent.MaxReplans)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	if _, _, _, err := parseCLIOverrides([]string{"--config"}); err == nil {
		t.Fatalf("expected error for missing --config value")
	}
	if _, _, _, err := parseCLIOverrides([]string{"--set"}); err == nil {
		t.Fatalf("expected error for missing --set value")
	}
	if _, _, _, err := parseCLIOverrides([]string{"--set", "invalid"}); err == nil {
		t.Fatalf("expected error for invalid --set value")
	}
}
