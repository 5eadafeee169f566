// Package config loads runtime configuration from defaults, a YAML file,
// optional profile overlays, environment variables (TEKHNE_ prefix), and
// explicit --set overrides, in that order.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Skills    SkillsConfig    `koanf:"skills"`
	Planner   PlannerConfig   `koanf:"planner"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Agent     AgentConfig     `koanf:"agent"`
	Runtime   RuntimeConfig   `koanf:"runtime"`
	Audit     AuditConfig     `koanf:"audit"`
	Schedule  ScheduleConfig  `koanf:"schedule"`
	MCP       MCPConfig       `koanf:"mcp"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type SkillsConfig struct {
	Dir        string `koanf:"dir"`
	Watch      bool   `koanf:"watch"`
	DebounceMs int    `koanf:"debounce_ms"`
}

type PlannerConfig struct {
	Kind           string `koanf:"kind"` // static, http
	Path           string `koanf:"path"` // proposal file for the static planner
	Endpoint       string `koanf:"endpoint"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// Timeout returns the planner request timeout.
func (p PlannerConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type ExecutorConfig struct {
	Concurrency        int `koanf:"concurrency"`
	StepTimeoutSeconds int `koanf:"step_timeout_seconds"`
	MaxRetries         int `koanf:"max_retries"`
	BreakerMaxFailures int `koanf:"breaker_max_failures"`
}

// StepTimeout returns the per-step execution time limit.
func (e ExecutorConfig) StepTimeout() time.Duration {
	return time.Duration(e.StepTimeoutSeconds) * time.Second
}

type AgentConfig struct {
	ID         string `koanf:"id"`
	MaxReplans int    `koanf:"max_replans"`
}

type RuntimeConfig struct {
	MaxConcurrentRuns int `koanf:"max_concurrent_runs"`
}

type AuditConfig struct {
	Store string `koanf:"store"` // memory, sqlite, none
	Path  string `koanf:"path"`  // sqlite database file
}

type ScheduleConfig struct {
	Entries []ScheduleEntry `koanf:"entries"`
}

type ScheduleEntry struct {
	Cron string `koanf:"cron"`
	Goal string `koanf:"goal"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig describes one external MCP server whose tools are
// imported as a skill.
type MCPServerConfig struct {
	Transport       string            `koanf:"transport"` // stdio, http
	Command         string            `koanf:"command"`
	Args            []string          `koanf:"args"`
	Env             map[string]string `koanf:"env"`
	URL             string            `koanf:"url"`
	Skill           string            `koanf:"skill"`   // imported skill name, defaults to the server name
	Version         string            `koanf:"version"` // imported skill version
	TimeoutSeconds  int               `koanf:"timeout_seconds"`
	RetryCount      int               `koanf:"retry_count"`
	RetryBackoffMs  int               `koanf:"retry_backoff_ms"`
	CacheTTLSeconds int               `koanf:"cache_ttl_seconds"`
}

// Timeout returns the per-call MCP client timeout.
func (m MCPServerConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

type TelemetryConfig struct {
	Exporter           string            `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
	OTLPUser           string            `koanf:"otlp_user"`
	OTLPToken          string            `koanf:"otlp_token"`
}

// ExporterHeaders merges explicit OTLP headers with basic-auth credentials.
func (t TelemetryConfig) ExporterHeaders() map[string]string {
	if len(t.OTLPHeaders) == 0 && t.OTLPUser == "" {
		return nil
	}
	headers := make(map[string]string, len(t.OTLPHeaders)+1)
	for k, v := range t.OTLPHeaders {
		headers[k] = v
	}
	if t.OTLPUser != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(t.OTLPUser + ":" + t.OTLPToken))
		headers["Authorization"] = "Basic " + creds
	}
	return headers
}

// Load reads configuration from the given file (optional) plus environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile overlays a profile-specific file (config.<profile>.yaml
// next to the base file) on top of the base configuration.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI extracts --config, --profile (alias --env), and repeated
// --set key=value arguments and loads accordingly. Unrecognized arguments
// are ignored so the slice can be a raw command line.
func LoadWithCLI(args []string) (*Config, error) {
	path, profile, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(path, profile, sets)
}

func parseCLIOverrides(args []string) (path, profile string, sets []string, err error) {
	for i := 0; i < len(args); i++ {
		name, inline, hasInline := strings.Cut(args[i], "=")
		take := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			if i+1 < len(args) {
				i++
				return args[i], nil
			}
			return "", fmt.Errorf("missing value for %s", name)
		}
		switch name {
		case "--config":
			if path, err = take(); err != nil {
				return "", "", nil, err
			}
		case "--profile", "--env":
			if profile, err = take(); err != nil {
				return "", "", nil, err
			}
		case "--set":
			v, err := take()
			if err != nil {
				return "", "", nil, err
			}
			if !strings.Contains(v, "=") {
				return "", "", nil, fmt.Errorf("--set expects key=value, got %q", v)
			}
			sets = append(sets, v)
		}
	}
	return path, profile, sets, nil
}

func load(path, profile string, sets []string) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	// 1. Base file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Profile overlay, if the sibling file exists
	if profilePath := profileConfigPath(path, profile); profilePath != "" {
		if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 3. ENV (TEKHNE_LOG_LEVEL -> log.level); only the first underscore
	// separates section from key, so snake_case keys survive.
	if err := k.Load(env.Provider("TEKHNE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TEKHNE_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	// 4. Explicit overrides
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("skills.dir", "./skills")
	k.Set("skills.watch", false)
	k.Set("skills.debounce_ms", 300)

	k.Set("planner.kind", "static")
	k.Set("planner.timeout_seconds", 120)

	k.Set("executor.concurrency", 4)
	k.Set("executor.step_timeout_seconds", 30)
	k.Set("executor.max_retries", 3)
	k.Set("executor.breaker_max_failures", 5)

	k.Set("agent.id", "tekhne")
	k.Set("agent.max_replans", 2)

	k.Set("runtime.max_concurrent_runs", 8)

	k.Set("audit.store", "memory")
	k.Set("audit.path", "tekhne_audit.db")

	k.Set("telemetry.exporter", "stdout")
}

// profileConfigPath returns the sibling profile file (base config.yaml +
// profile dev -> config.dev.yaml) when it exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	candidate := filepath.Join(dir, name+"."+profile+ext)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}
