// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/config"
	tekhnemcp "github.com/tekhne-dev/tekhne/pkg/mcp"
	"github.com/tekhne-dev/tekhne/pkg/planner"
	"github.com/tekhne-dev/tekhne/pkg/schedule"
)

type validateResult struct {
	Config   checkResult   `json:"config"`
	Planner  checkResult   `json:"planner"`
	Skills   []checkResult `json:"skills"`
	MCP      []checkResult `json:"mcp"`
	Audit    checkResult   `json:"audit"`
	Schedule []checkResult `json:"schedule"`
	Overall  string        `json:"overall"`
}

type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warn", "error", "skip"
	Message string `json:"message,omitempty"`
}

func runValidate(ctx context.Context, gf globalFlags, args []string) {
	ensureNoArgs(args)

	result := validateResult{
		Skills:   []checkResult{},
		MCP:      []checkResult{},
		Schedule: []checkResult{},
	}
	hasError := false
	hasWarn := false
	track := func(r checkResult) checkResult {
		switch r.Status {
		case "error":
			hasError = true
		case "warn":
			hasWarn = true
		}
		return r
	}

	cfg, err := config.LoadWithCLI(gf.ConfigArgs)
	if err != nil {
		result.Config = track(checkResult{
			Name:    "config",
			Status:  "error",
			Message: fmt.Sprintf("failed to load: %v", err),
		})
	} else {
		result.Config = checkResult{Name: "config", Status: "ok"}
	}

	if cfg != nil {
		result.Planner = track(validatePlanner(cfg.Planner))
		for _, r := range validateSkillManifests(cfg.Skills.Dir) {
			result.Skills = append(result.Skills, track(r))
		}
		for _, r := range validateMCPServers(ctx, cfg.MCP) {
			result.MCP = append(result.MCP, track(r))
		}
		result.Audit = track(validateAudit(cfg.Audit))
		for _, r := range validateSchedule(cfg.Schedule) {
			result.Schedule = append(result.Schedule, track(r))
		}
	} else {
		skip := func(name string) checkResult {
			return checkResult{Name: name, Status: "skip", Message: "config not loaded"}
		}
		result.Planner = skip("planner")
		result.Audit = skip("audit")
	}

	if hasError {
		result.Overall = "error"
	} else if hasWarn {
		result.Overall = "warn"
	} else {
		result.Overall = "ok"
	}

	if gf.JSON {
		printJSON(result)
	} else {
		printValidateResult(result)
	}
	if hasError {
		os.Exit(1)
	}
}

func validatePlanner(cfg config.PlannerConfig) checkResult {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "static":
		if cfg.Path == "" {
			return checkResult{
				Name:    "planner",
				Status:  "warn",
				Message: "static planner without planner.path (runs need --plan)",
			}
		}
		if _, err := planner.LoadStatic(cfg.Path); err != nil {
			return checkResult{
				Name:    "planner",
				Status:  "error",
				Message: fmt.Sprintf("proposal file %s: %v", cfg.Path, err),
			}
		}
		return checkResult{
			Name:    "planner",
			Status:  "ok",
			Message: fmt.Sprintf("static: %s", cfg.Path),
		}
	case "http":
		if cfg.Endpoint == "" {
			return checkResult{
				Name:    "planner",
				Status:  "error",
				Message: "http planner without planner.endpoint",
			}
		}
		parsed, err := url.Parse(cfg.Endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return checkResult{
				Name:    "planner",
				Status:  "error",
				Message: fmt.Sprintf("bad planner.endpoint %q", cfg.Endpoint),
			}
		}
		// Planning endpoints have no side-effect-free probe; accept the URL.
		return checkResult{
			Name:    "planner",
			Status:  "ok",
			Message: fmt.Sprintf("http: %s", cfg.Endpoint),
		}
	default:
		return checkResult{
			Name:    "planner",
			Status:  "error",
			Message: fmt.Sprintf("unknown planner kind %q", cfg.Kind),
		}
	}
}

func validateSkillManifests(dir string) []checkResult {
	if dir == "" {
		return nil
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return []checkResult{{
			Name:    "skills",
			Status:  "warn",
			Message: fmt.Sprintf("skill root %s not found", dir),
		}}
	}

	rows, err := scanSkills(dir)
	if err != nil {
		return []checkResult{{
			Name:    "skills",
			Status:  "error",
			Message: fmt.Sprintf("failed to scan %s: %v", dir, err),
		}}
	}
	if len(rows) == 0 {
		return []checkResult{{
			Name:    "skills",
			Status:  "ok",
			Message: fmt.Sprintf("no skills found in %s", dir),
		}}
	}

	results := make([]checkResult, 0, len(rows))
	for _, row := range rows {
		if row.Error != "" {
			results = append(results, checkResult{
				Name:    fmt.Sprintf("skill:%s", row.Name),
				Status:  "error",
				Message: truncateString(row.Error, 70),
			})
			continue
		}
		results = append(results, checkResult{
			Name:    fmt.Sprintf("skill:%s", row.Name),
			Status:  "ok",
			Message: fmt.Sprintf("%s, %d capabilities", row.Version, len(row.Capabilities)),
		})
	}
	return results
}

func validateMCPServers(ctx context.Context, cfg config.MCPConfig) []checkResult {
	results := make([]checkResult, 0, len(cfg.Servers))
	for name, server := range cfg.Servers {
		results = append(results, validateMCPServer(ctx, name, server))
	}
	return results
}

func validateMCPServer(ctx context.Context, name string, server config.MCPServerConfig) checkResult {
	checkName := fmt.Sprintf("mcp:%s", name)
	switch strings.ToLower(strings.TrimSpace(server.Transport)) {
	case "", "stdio":
		command := strings.TrimSpace(server.Command)
		if command == "" {
			return checkResult{
				Name:    checkName,
				Status:  "error",
				Message: "missing command for stdio transport",
			}
		}
		// Spawning the process here is expensive; check the binary only.
		if _, err := exec.LookPath(command); err != nil {
			return checkResult{
				Name:    checkName,
				Status:  "warn",
				Message: fmt.Sprintf("command %q not found in PATH", command),
			}
		}
		return checkResult{
			Name:    checkName,
			Status:  "ok",
			Message: fmt.Sprintf("stdio: %s", command),
		}

	case "http":
		if server.URL == "" {
			return checkResult{
				Name:    checkName,
				Status:  "error",
				Message: "missing url for http transport",
			}
		}
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := tekhnemcp.NewClientWithStreamableHTTP(checkCtx, server.URL, clientOptions(server)...)
		if err != nil {
			return checkResult{
				Name:    checkName,
				Status:  "error",
				Message: fmt.Sprintf("failed to connect: %v", err),
			}
		}
		defer client.Close()
		tools, err := client.ListTools(checkCtx)
		if err != nil {
			return checkResult{
				Name:    checkName,
				Status:  "error",
				Message: fmt.Sprintf("failed to list tools: %v", err),
			}
		}
		return checkResult{
			Name:    checkName,
			Status:  "ok",
			Message: fmt.Sprintf("http: %d tools available", len(tools)),
		}

	default:
		return checkResult{
			Name:    checkName,
			Status:  "error",
			Message: fmt.Sprintf("unsupported transport %q", server.Transport),
		}
	}
}

func validateAudit(cfg config.AuditConfig) checkResult {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", "memory":
		return checkResult{Name: "audit", Status: "ok", Message: "memory store"}
	case "none":
		return checkResult{Name: "audit", Status: "ok", Message: "disabled"}
	case "sqlite":
		if cfg.Path == "" {
			return checkResult{
				Name:    "audit",
				Status:  "error",
				Message: "sqlite store without audit.path",
			}
		}
		return checkResult{
			Name:    "audit",
			Status:  "ok",
			Message: fmt.Sprintf("sqlite: %s", cfg.Path),
		}
	default:
		return checkResult{
			Name:    "audit",
			Status:  "error",
			Message: fmt.Sprintf("unknown audit store %q", cfg.Store),
		}
	}
}

func validateSchedule(cfg config.ScheduleConfig) []checkResult {
	results := make([]checkResult, 0, len(cfg.Entries))
	for i, entry := range cfg.Entries {
		name := fmt.Sprintf("schedule:%d", i)
		if strings.TrimSpace(entry.Goal) == "" {
			results = append(results, checkResult{
				Name:    name,
				Status:  "error",
				Message: "entry without a goal",
			})
			continue
		}
		if _, err := schedule.ParseExpr(entry.Cron); err != nil {
			results = append(results, checkResult{
				Name:    name,
				Status:  "error",
				Message: fmt.Sprintf("bad cron %q: %v", entry.Cron, err),
			})
			continue
		}
		results = append(results, checkResult{
			Name:    name,
			Status:  "ok",
			Message: fmt.Sprintf("%s -> %s", entry.Cron, truncateString(entry.Goal, 40)),
		})
	}
	return results
}

func printValidateResult(result validateResult) {
	statusIcon := map[string]string{
		"ok":    "✓",
		"warn":  "⚠",
		"error": "✗",
		"skip":  "○",
	}

	fmt.Println("Tekhne Configuration Validation")
	fmt.Println("===============================")
	fmt.Println()

	printCheck(statusIcon, result.Config)
	printCheck(statusIcon, result.Planner)

	if len(result.Skills) > 0 {
		for _, r := range result.Skills {
			printCheck(statusIcon, r)
		}
	}

	if len(result.MCP) > 0 {
		for _, r := range result.MCP {
			printCheck(statusIcon, r)
		}
	} else {
		fmt.Printf("%s mcp: no servers configured\n", statusIcon["ok"])
	}

	printCheck(statusIcon, result.Audit)

	for _, r := range result.Schedule {
		printCheck(statusIcon, r)
	}

	fmt.Println()
	switch result.Overall {
	case "ok":
		fmt.Println("✓ All checks passed")
	case "warn":
		fmt.Println("⚠ Validation completed with warnings")
	case "error":
		fmt.Println("✗ Validation failed")
	}
}

func printCheck(icons map[string]string, r checkResult) {
	icon := icons[r.Status]
	if r.Message != "" {
		fmt.Printf("%s %s: %s\n", icon, r.Name, r.Message)
	} else {
		fmt.Printf("%s %s\n", icon, r.Name)
	}
}
