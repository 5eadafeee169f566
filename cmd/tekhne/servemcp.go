// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/config"
	tekhnemcp "github.com/tekhne-dev/tekhne/pkg/mcp"
	"github.com/tekhne-dev/tekhne/pkg/telemetry"
)

// runServeMCP exports the registered capabilities as an MCP stdio server.
// Stdout carries the protocol stream, so logs and telemetry stay off it.
func runServeMCP(ctx context.Context, gf globalFlags, args []string) {
	fs := flag.NewFlagSet("serve-mcp", flag.ExitOnError)
	serverName := fs.String("name", "tekhne", "implementation name advertised to MCP clients")
	skillsDir := fs.String("skills", "", "skill manifest root (overrides skills.dir)")
	watch := fs.Bool("watch", false, "watch the skill root so reloaded handlers stay live")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	ensureNoArgs(fs.Args())

	cfg, err := config.LoadWithCLI(gf.ConfigArgs)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}
	forceNone := strings.EqualFold(cfg.Telemetry.Exporter, "stdout")
	logger, shutdown, err := setupTelemetry(cfg, forceNone)
	if err != nil {
		fatal(err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutCtx)
	}()

	// A long-running server follows config file edits. Only the log
	// level applies live; structural changes need a restart.
	cfgWatcher, err := config.NewWatcher(gf.ConfigArgs, config.WithWatchLogger(logger))
	if err != nil {
		fatal(fmt.Errorf("watch config: %w", err))
	}
	cfgWatcher.OnReload(func(next *config.Config) {
		telemetry.SetLogLevel(next.Log.Level)
	})
	cfgWatcher.Start(ctx)
	defer cfgWatcher.Stop()

	dir := cfg.Skills.Dir
	if *skillsDir != "" {
		dir = *skillsDir
	}
	plane, err := buildSkillPlane(ctx, cfg, logger, dir, cfg.Skills.Watch || *watch)
	if err != nil {
		fatal(fmt.Errorf("wire skills: %w", err))
	}
	defer plane.Close()

	// Scheduled goals keep running while the server is up.
	if len(cfg.Schedule.Entries) > 0 {
		agents, err := buildAgentPlane(cfg, logger, plane, "")
		if err != nil {
			fatal(fmt.Errorf("wire agent: %w", err))
		}
		defer agents.Close()
		if err := agents.runtime.Start(ctx); err != nil {
			fatal(fmt.Errorf("start runtime: %w", err))
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = agents.runtime.Stop(stopCtx)
		}()
		agents.scheduler.Start(ctx)
		defer agents.scheduler.Stop()
	}

	server, err := tekhnemcp.NewServer(*serverName, version, plane.registry, tekhnemcp.WithServerLogger(logger))
	if err != nil {
		fatal(err)
	}
	logger.Info("mcp.serve.start", "name", *serverName)
	if err := server.ServeStdio(); err != nil {
		fatal(fmt.Errorf("serve mcp: %w", err))
	}
}
