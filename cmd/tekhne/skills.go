// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tekhne-dev/tekhne/pkg/config"
	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/manifest"
)

// runSkills scans the skill root and lists every manifest it finds,
// including the ones that fail to parse.
func runSkills(_ context.Context, gf globalFlags, args []string) {
	fs := flag.NewFlagSet("skills", flag.ExitOnError)
	skillsDir := fs.String("skills", "", "skill manifest root (overrides skills.dir)")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	ensureNoArgs(fs.Args())

	cfg, err := config.LoadWithCLI(gf.ConfigArgs)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}
	dir := cfg.Skills.Dir
	if *skillsDir != "" {
		dir = *skillsDir
	}

	rows, err := scanSkills(dir)
	if err != nil {
		fatal(fmt.Errorf("scan skills: %w", err))
	}

	if gf.JSON {
		printJSON(rows)
		return
	}
	if len(rows) == 0 {
		fmt.Printf("no skills under %s\n", dir)
		return
	}
	w := newTabWriter()
	writeRow(w, "NAME", "VERSION", "CAPABILITIES", "DESCRIPTION")
	for _, row := range rows {
		if row.Error != "" {
			writeRow(w, row.Name, "-", "-", "error: "+truncateString(row.Error, 70))
			continue
		}
		writeRow(w, row.Name, row.Version, strings.Join(row.Capabilities, ", "), truncateString(row.Description, 60))
	}
	w.Flush()
}

type skillRow struct {
	Name         string   `json:"name"`
	Version      string   `json:"version,omitempty"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// scanSkills loads each manifest independently so one malformed skill
// shows as an error row instead of aborting the listing.
func scanSkills(root string) ([]skillRow, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var rows []skillRow
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), manifest.FileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		skill, err := manifest.LoadFile(path)
		if err != nil {
			rows = append(rows, skillRow{Name: entry.Name(), Error: err.Error()})
			continue
		}
		rows = append(rows, skillRowFrom(skill))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows, nil
}

func skillRowFrom(skill *core.Skill) skillRow {
	row := skillRow{
		Name:        skill.Name,
		Version:     skill.Version,
		Description: skill.Description,
	}
	for _, cap := range skill.Capabilities {
		row.Capabilities = append(row.Capabilities, cap.Name)
	}
	sort.Strings(row.Capabilities)
	return row
}
