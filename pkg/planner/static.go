// Package planner provides Planner implementations: static proposals
// loaded from files, scripted sequences for tests, an HTTP planner that
// delegates to an external service, and a fallback chain.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

// proposalDoc is the on-disk form of a proposal.
type proposalDoc struct {
	Steps []core.ProposedStep `json:"steps" yaml:"steps"`
}

// StaticPlanner always proposes the same steps, whatever the goal. It
// backs declarative pipelines defined in files and the simplest tests.
type StaticPlanner struct {
	steps []core.ProposedStep
}

// NewStaticPlanner builds a planner around a fixed proposal.
func NewStaticPlanner(steps ...core.ProposedStep) *StaticPlanner {
	return &StaticPlanner{steps: steps}
}

// Propose implements core.Planner.
func (p *StaticPlanner) Propose(_ context.Context, _ core.Goal, _ core.Snapshot) ([]core.ProposedStep, error) {
	out := make([]core.ProposedStep, len(p.steps))
	copy(out, p.steps)
	return out, nil
}

// ParseJSON loads a proposal from JSON.
func ParseJSON(data []byte) ([]core.ProposedStep, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON payload")
	}
	var doc proposalDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse json proposal: %w", err)
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("proposal has no steps")
	}
	return doc.Steps, nil
}

// ParseYAML loads a proposal from YAML.
func ParseYAML(data []byte) ([]core.ProposedStep, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty YAML payload")
	}
	var doc proposalDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml proposal: %w", err)
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("proposal has no steps")
	}
	return doc.Steps, nil
}

// LoadProposal loads a proposal from a YAML or JSON file. Unknown
// extensions are sniffed.
func LoadProposal(path string) ([]core.ProposedStep, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("proposal path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return parseProposalAuto(data)
	}
}

// LoadStatic builds a StaticPlanner from a proposal file.
func LoadStatic(path string) (*StaticPlanner, error) {
	steps, err := LoadProposal(path)
	if err != nil {
		return nil, err
	}
	return NewStaticPlanner(steps...), nil
}

func parseProposalAuto(data []byte) ([]core.ProposedStep, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if steps, err := ParseJSON(data); err == nil {
			return steps, nil
		}
	}
	if steps, err := ParseYAML(data); err == nil {
		return steps, nil
	}
	if steps, err := ParseJSON(data); err == nil {
		return steps, nil
	}
	return nil, fmt.Errorf("unsupported proposal format")
}
