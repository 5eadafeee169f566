// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/agent"
	"github.com/tekhne-dev/tekhne/pkg/config"
	"github.com/tekhne-dev/tekhne/pkg/core"
)

// runRun submits one goal to a freshly wired runtime and waits for the
// terminal result.
func runRun(ctx context.Context, gf globalFlags, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	goalFlag := fs.String("goal", "", "goal text (defaults to the positional arguments)")
	var params multiFlag
	fs.Var(&params, "param", "goal parameter as key=value (repeatable)")
	skillsDir := fs.String("skills", "", "skill manifest root (overrides skills.dir)")
	planPath := fs.String("plan", "", "proposal file for a static plan (overrides planner config)")
	watch := fs.Bool("watch", false, "watch the skill root for manifest changes during the run")
	noTelemetry := fs.Bool("no-telemetry", false, "disable span export")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}

	goalText := strings.TrimSpace(*goalFlag)
	if goalText == "" {
		goalText = strings.TrimSpace(strings.Join(fs.Args(), " "))
	}
	if goalText == "" {
		fatal(fmt.Errorf("run: no goal given (use -goal or positional arguments)"))
	}
	goal := core.NewGoal(goalText)
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			fatal(fmt.Errorf("run: bad -param %q (want key=value)", p))
		}
		goal = goal.WithParam(key, value)
	}

	cfg, err := config.LoadWithCLI(gf.ConfigArgs)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}
	logger, shutdown, err := setupTelemetry(cfg, *noTelemetry)
	if err != nil {
		fatal(err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutCtx); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
		}
	}()

	dir := cfg.Skills.Dir
	if *skillsDir != "" {
		dir = *skillsDir
	}
	plane, err := buildSkillPlane(ctx, cfg, logger, dir, cfg.Skills.Watch || *watch)
	if err != nil {
		fatal(fmt.Errorf("wire skills: %w", err))
	}
	defer plane.Close()

	agents, err := buildAgentPlane(cfg, logger, plane, *planPath)
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
		if err := agents.runtime.Stop(stopCtx); err != nil {
			fmt.Fprintf(os.Stderr, "runtime stop: %v\n", err)
		}
	}()
	if agents.scheduler != nil {
		agents.scheduler.Start(ctx)
		defer agents.scheduler.Stop()
	}

	runCtx, cancel := context.WithTimeout(ctx, gf.Timeout)
	defer cancel()

	runID, err := agents.runtime.Submit(runCtx, goal)
	if err != nil {
		fatal(fmt.Errorf("submit: %w", err))
	}
	logger.Info("run.submitted", "run_id", runID, "goal", goalText)

	result, err := agents.runtime.Wait(runCtx, runID)
	if err != nil && result == nil {
		fatal(fmt.Errorf("wait: %w", err))
	}

	printRunResult(result, gf.JSON)
	if result.State != agent.StateCompleted {
		os.Exit(1)
	}
}

type runReport struct {
	RunID    string       `json:"run_id"`
	Agent    string       `json:"agent"`
	State    string       `json:"state"`
	Replans  int          `json:"replans"`
	Duration string       `json:"duration"`
	Error    string       `json:"error,omitempty"`
	Steps    []stepReport `json:"steps,omitempty"`
}

type stepReport struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Duration string `json:"duration"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

func printRunResult(result *agent.RunResult, asJSON bool) {
	report := runReport{
		RunID:    result.RunID,
		Agent:    result.AgentID,
		State:    string(result.State),
		Replans:  result.Replans,
		Duration: result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond).String(),
	}
	if result.Err != nil {
		report.Error = result.Err.Error()
	}
	if final := result.Final(); final != nil {
		for _, outcome := range final.Outcomes() {
			step := stepReport{
				ID:       outcome.StepID,
				Status:   string(outcome.Status),
				Attempts: outcome.Attempts,
				Duration: outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Millisecond).String(),
				Output:   formatOutput(outcome.Output),
			}
			if outcome.Err != nil {
				step.Error = outcome.Err.Error()
			}
			report.Steps = append(report.Steps, step)
		}
	}

	if asJSON {
		printJSON(report)
		return
	}

	fmt.Printf("run %s: %s (%s, %d replans)\n", report.RunID, report.State, report.Duration, report.Replans)
	if report.Error != "" {
		fmt.Printf("error: %s\n", report.Error)
	}
	if len(report.Steps) == 0 {
		return
	}
	fmt.Println()
	w := newTabWriter()
	writeRow(w, "STEP", "STATUS", "ATTEMPTS", "DURATION", "OUTPUT")
	for _, step := range report.Steps {
		cell := step.Output
		if step.Error != "" {
			cell = step.Error
		}
		writeRow(w, step.ID, step.Status, fmt.Sprintf("%d", step.Attempts), step.Duration, truncateString(cell, 60))
	}
	w.Flush()
}

func formatOutput(v any) string {
	switch out := v.(type) {
	case nil:
		return ""
	case string:
		return out
	default:
		if data, err := json.Marshal(out); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", out)
	}
}
