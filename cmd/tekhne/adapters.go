// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/agent"
	"github.com/tekhne-dev/tekhne/pkg/config"
	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/handlers"
	"github.com/tekhne-dev/tekhne/pkg/manifest"
	tekhnemcp "github.com/tekhne-dev/tekhne/pkg/mcp"
	"github.com/tekhne-dev/tekhne/pkg/planner"
	"github.com/tekhne-dev/tekhne/pkg/registry"
	"github.com/tekhne-dev/tekhne/pkg/resilience"
	"github.com/tekhne-dev/tekhne/pkg/runtime"
	"github.com/tekhne-dev/tekhne/pkg/schedule"
	"github.com/tekhne-dev/tekhne/pkg/telemetry"
	"github.com/tekhne-dev/tekhne/pkg/toolchain"
	"github.com/tekhne-dev/tekhne/pkg/watcher"
)

// skillPlane is the registry-side wiring shared by the subcommands: the
// skill registry, the MCP server directory, and the handler resolver.
type skillPlane struct {
	registry  *registry.Registry
	directory *tekhnemcp.Directory
	resolver  *manifest.ResolverMux
	watcher   *watcher.Watcher
}

func buildSkillPlane(ctx context.Context, cfg *config.Config, logger *slog.Logger, skillsDir string, watch bool) (*skillPlane, error) {
	reg := registry.New(registry.WithLogger(logger))

	directory := tekhnemcp.NewDirectory(tekhnemcp.WithLogger(logger))
	for name, sc := range cfg.MCP.Servers {
		serverCfg, err := serverConfig(name, sc)
		if err != nil {
			_ = directory.Close()
			return nil, err
		}
		if err := directory.Register(serverCfg); err != nil {
			_ = directory.Close()
			return nil, err
		}
	}

	mux := manifest.NewResolverMux()
	mux.Register("builtin", handlers.NewRegistry().Resolver())
	mux.Register("mcp", directory.Resolver())

	plane := &skillPlane{registry: reg, directory: directory, resolver: mux}

	// A missing skills root is not fatal; MCP imports can still populate
	// the registry.
	haveSkillsDir := false
	if skillsDir != "" {
		if info, err := os.Stat(skillsDir); err == nil && info.IsDir() {
			haveSkillsDir = true
		}
	}

	switch {
	case !haveSkillsDir:
		logger.Info("skills.dir.absent", "dir", skillsDir)
	case watch:
		w, err := watcher.New(skillsDir, reg,
			watcher.WithResolver(mux),
			watcher.WithDebounce(time.Duration(cfg.Skills.DebounceMs)*time.Millisecond),
			watcher.WithLogger(logger),
		)
		if err != nil {
			plane.Close()
			return nil, err
		}
		if err := w.Start(ctx); err != nil {
			plane.Close()
			return nil, err
		}
		plane.watcher = w
	default:
		skills, err := manifest.LoadDir(skillsDir, manifest.WithResolver(mux))
		if err != nil {
			plane.Close()
			return nil, err
		}
		for _, skill := range skills {
			if err := reg.Register(ctx, skill); err != nil {
				plane.Close()
				return nil, fmt.Errorf("register skill %q: %w", skill.Name, err)
			}
		}
	}

	// Import configured MCP servers as skills. A server that is down at
	// startup is skipped; its refs still resolve once it comes back.
	for name, sc := range cfg.MCP.Servers {
		skillName := sc.Skill
		if skillName == "" {
			skillName = name
		}
		skillVersion := sc.Version
		if skillVersion == "" {
			skillVersion = "1.0.0"
		}
		skill, err := directory.ImportSkill(ctx, name, skillName, skillVersion)
		if err != nil {
			logger.Warn("mcp.import.failed", "server", name, "error", err)
			continue
		}
		if err := reg.Register(ctx, skill); err != nil {
			logger.Warn("mcp.import.rejected", "skill", skillName, "error", err)
		}
	}

	return plane, nil
}

func (p *skillPlane) Close() {
	if p.watcher != nil {
		p.watcher.Stop()
	}
	if p.directory != nil {
		_ = p.directory.Close()
	}
}

// agentPlane is the run-side wiring: planner, executor, agent, runtime,
// and optionally the cron scheduler.
type agentPlane struct {
	agent     *agent.Agent
	runtime   *runtime.Runtime
	scheduler *schedule.Scheduler
	auditDB   *sql.DB
}

func buildAgentPlane(cfg *config.Config, logger *slog.Logger, plane *skillPlane, planPath string) (*agentPlane, error) {
	plannerImpl, err := plannerFromConfig(cfg.Planner, planPath)
	if err != nil {
		return nil, err
	}

	out := &agentPlane{}
	fail := func(err error) (*agentPlane, error) {
		out.Close()
		return nil, err
	}

	execOpts := []toolchain.ExecutorOption{
		toolchain.WithConcurrency(cfg.Executor.Concurrency),
		toolchain.WithStepTimeout(cfg.Executor.StepTimeout()),
		toolchain.WithExecutorLogger(logger),
	}
	retryCfg := resilience.DefaultRetryConfig()
	if cfg.Executor.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.Executor.MaxRetries
	}
	execOpts = append(execOpts, toolchain.WithRetryConfig(retryCfg))
	if cfg.Executor.BreakerMaxFailures > 0 {
		group := resilience.NewBreakerGroup(resilience.BreakerConfig{
			MaxFailures: uint32(cfg.Executor.BreakerMaxFailures),
		}, logger)
		execOpts = append(execOpts, toolchain.WithBreakerGroup(group))
	}

	store, db, err := auditStoreFromConfig(cfg.Audit)
	if err != nil {
		return nil, err
	}
	out.auditDB = db
	if store != nil {
		execOpts = append(execOpts, toolchain.WithAuditStore(store))
	}

	executor := toolchain.NewExecutor(execOpts...)

	ag, err := agent.New(cfg.Agent.ID,
		agent.WithRegistry(plane.registry),
		agent.WithPlanner(plannerImpl),
		agent.WithExecutor(executor),
		agent.WithMaxReplans(cfg.Agent.MaxReplans),
		agent.WithLogger(logger),
	)
	if err != nil {
		return fail(err)
	}
	out.agent = ag

	rt, err := runtime.New(ag,
		runtime.WithMaxConcurrentRuns(cfg.Runtime.MaxConcurrentRuns),
		runtime.WithLogger(logger),
	)
	if err != nil {
		return fail(err)
	}
	rt.RegisterHealth("registry", plane.registry.HealthChecker())
	rt.RegisterHealth("mcp", plane.directory.HealthChecker())
	out.runtime = rt

	if len(cfg.Schedule.Entries) > 0 {
		scheduler, err := schedule.New(rt, schedule.WithLogger(logger))
		if err != nil {
			return fail(err)
		}
		for _, entry := range cfg.Schedule.Entries {
			if err := scheduler.Add(entry.Cron, core.NewGoal(entry.Goal)); err != nil {
				return fail(fmt.Errorf("schedule entry %q: %w", entry.Cron, err))
			}
		}
		out.scheduler = scheduler
	}

	return out, nil
}

func (p *agentPlane) Close() {
	if p.auditDB != nil {
		_ = p.auditDB.Close()
	}
}

// plannerFromConfig builds the configured planner. An explicit plan file
// wins over the configured kind.
func plannerFromConfig(cfg config.PlannerConfig, planPath string) (core.Planner, error) {
	if planPath != "" {
		return planner.LoadStatic(planPath)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "static":
		if cfg.Path == "" {
			return nil, fmt.Errorf("static planner needs a proposal file (planner.path or --plan)")
		}
		return planner.LoadStatic(cfg.Path)
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http planner needs planner.endpoint")
		}
		client := &http.Client{Timeout: cfg.Timeout()}
		return planner.NewHTTPPlanner(cfg.Endpoint, planner.WithHTTPClient(client)), nil
	default:
		return nil, fmt.Errorf("unknown planner kind %q", cfg.Kind)
	}
}

func auditStoreFromConfig(cfg config.AuditConfig) (toolchain.AuditStore, *sql.DB, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", "memory":
		return toolchain.NewMemoryAuditStore(), nil, nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, nil, fmt.Errorf("sqlite audit store needs audit.path")
		}
		db, err := sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit database: %w", err)
		}
		store, err := toolchain.NewSQLiteAuditStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db, nil
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit store %q", cfg.Store)
	}
}

func serverConfig(name string, sc config.MCPServerConfig) (tekhnemcp.ServerConfig, error) {
	out := tekhnemcp.ServerConfig{
		Name:          name,
		Command:       sc.Command,
		Args:          sc.Args,
		Env:           sc.Env,
		URL:           sc.URL,
		ClientOptions: clientOptions(sc),
	}
	switch strings.ToLower(strings.TrimSpace(sc.Transport)) {
	case "", "stdio":
		out.Type = tekhnemcp.ServerTypeStdio
	case "http":
		out.Type = tekhnemcp.ServerTypeHTTP
	default:
		return out, fmt.Errorf("mcp server %q has unsupported transport %q", name, sc.Transport)
	}
	return out, nil
}

func clientOptions(sc config.MCPServerConfig) []tekhnemcp.ClientOption {
	var opts []tekhnemcp.ClientOption
	if sc.TimeoutSeconds > 0 {
		opts = append(opts, tekhnemcp.WithTimeout(sc.Timeout()))
	}
	if sc.RetryCount > 0 || sc.RetryBackoffMs > 0 {
		opts = append(opts, tekhnemcp.WithRetry(sc.RetryCount, time.Duration(sc.RetryBackoffMs)*time.Millisecond))
	}
	if sc.CacheTTLSeconds > 0 {
		opts = append(opts, tekhnemcp.WithToolCacheTTL(time.Duration(sc.CacheTTLSeconds)*time.Second))
	}
	return opts
}

// setupTelemetry configures slog and the OpenTelemetry exporters. Logs
// go to stderr so stdout stays free for command output.
func setupTelemetry(cfg *config.Config, forceNone bool) (*slog.Logger, telemetry.ShutdownFunc, error) {
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	exporter := cfg.Telemetry.Exporter
	if forceNone || exporter == "" {
		exporter = "none"
	}
	shutdown, err := telemetry.InitWithConfig("tekhne", version, telemetry.Config{
		Exporter:           exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
		OTLPHeaders:        cfg.Telemetry.ExporterHeaders(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	return logger, shutdown, nil
}
