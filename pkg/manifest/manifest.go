// Package manifest parses SKILL.md skill manifests: a YAML frontmatter
// block describing the skill and its capabilities, followed by a markdown
// body with usage instructions. Parsing and validation failures are
// reported as CodeManifestInvalid; a skill that fails here never reaches
// the registry.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
)

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// FileName is the manifest file expected in each skill directory.
const FileName = "SKILL.md"

type loader struct {
	resolver HandlerResolver
}

// Option configures manifest loading.
type Option func(*loader)

// WithResolver resolves capability handler references at load time. Without
// a resolver, handler references are validated for shape only and the
// loaded capabilities carry no handler.
func WithResolver(r HandlerResolver) Option {
	return func(l *loader) { l.resolver = r }
}

// LoadDir scans a directory for skill subdirectories containing SKILL.md.
// Subdirectories without a manifest are ignored; a malformed manifest
// aborts the scan.
func LoadDir(root string, opts ...Option) ([]*core.Skill, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.New(errors.CodeManifestInvalid, "read skills root", err).
			WithContext("root", root)
	}
	var out []*core.Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), FileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		skill, err := LoadFile(path, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, skill)
	}
	return out, nil
}

// LoadFile parses a single SKILL.md file. The skill name must match the
// containing directory name.
func LoadFile(path string, opts ...Option) (*core.Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeManifestInvalid, "read manifest", err).
			WithContext("path", path)
	}
	skill, err := Parse(data, opts...)
	if err != nil {
		if te := errors.AsTekhneError(err); te != nil {
			return nil, te.WithContext("path", path)
		}
		return nil, err
	}
	dirName := filepath.Base(filepath.Dir(path))
	if dirName != skill.Name {
		return nil, errors.New(errors.CodeManifestInvalid,
			fmt.Sprintf("name %q must match directory name %q", skill.Name, dirName), nil).
			WithContext("path", path)
	}
	skill.Source = path
	return skill, nil
}

// Parse parses manifest content. The returned skill has State Registered
// and no Source; LoadFile stamps the path.
func Parse(data []byte, opts ...Option) (*core.Skill, error) {
	var l loader
	for _, opt := range opts {
		opt(&l)
	}

	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, errors.New(errors.CodeManifestInvalid, err.Error(), nil)
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return nil, errors.New(errors.CodeManifestInvalid, "parse frontmatter", err)
	}

	skill := &core.Skill{
		Name:         strings.TrimSpace(parsed.Name),
		Version:      canonicalVersion(parsed.Version),
		Description:  strings.TrimSpace(parsed.Description),
		Body:         strings.TrimSpace(body),
		Dependencies: dedupe(parsed.Dependencies),
		Metadata:     parsed.Metadata,
		State:        core.SkillStateRegistered,
		RegisteredAt: time.Now().UTC(),
	}

	for _, spec := range parsed.Capabilities {
		cap, err := buildCapability(spec, &l)
		if err != nil {
			return nil, err
		}
		skill.Capabilities = append(skill.Capabilities, cap)
	}

	if err := ValidateDescriptor(skill); err != nil {
		return nil, err
	}
	return skill, nil
}

type frontmatter struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Description  string            `yaml:"description"`
	Dependencies []string          `yaml:"dependencies"`
	Metadata     map[string]string `yaml:"metadata"`
	Capabilities []capabilitySpec  `yaml:"capabilities"`
}

type capabilitySpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Handler     string         `yaml:"handler"`
	Input       map[string]any `yaml:"input"`
	Output      map[string]any `yaml:"output"`
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", fmt.Errorf("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", fmt.Errorf("invalid frontmatter")
	}
	fm := strings.TrimSpace(parts[1])
	body := strings.TrimSpace(parts[2])
	return fm, body, nil
}

func buildCapability(spec capabilitySpec, l *loader) (core.Capability, error) {
	name := strings.TrimSpace(spec.Name)
	cap := core.Capability{
		Name:        name,
		Description: strings.TrimSpace(spec.Description),
	}

	var err error
	if cap.InputSchema, err = compileSchema(spec.Input); err != nil {
		return core.Capability{}, errors.New(errors.CodeManifestInvalid, "input schema", err).
			WithContext("capability", name)
	}
	if cap.OutputSchema, err = compileSchema(spec.Output); err != nil {
		return core.Capability{}, errors.New(errors.CodeManifestInvalid, "output schema", err).
			WithContext("capability", name)
	}

	ref := strings.TrimSpace(spec.Handler)
	if ref != "" {
		if _, _, err := SplitRef(ref); err != nil {
			return core.Capability{}, errors.New(errors.CodeManifestInvalid, err.Error(), nil).
				WithContext("capability", name)
		}
		if l.resolver != nil {
			handler, err := l.resolver.Resolve(ref)
			if err != nil {
				return core.Capability{}, errors.New(errors.CodeManifestInvalid, "resolve handler", err).
					WithContext("capability", name).
					WithContext("handler", ref)
			}
			cap.Handler = handler
		}
	}
	return cap, nil
}

func compileSchema(doc map[string]any) (*core.Schema, error) {
	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return core.CompileSchema(raw)
}

// ValidateDescriptor checks the structural invariants every skill must
// satisfy before registration, whether it came from a manifest or was
// built programmatically.
func ValidateDescriptor(skill *core.Skill) error {
	invalid := func(msg string) error {
		return errors.New(errors.CodeManifestInvalid, msg, nil).
			WithContext("skill", skill.Name)
	}

	if skill.Name == "" {
		return invalid("name is required")
	}
	if utf8.RuneCountInString(skill.Name) > maxNameLen {
		return invalid(fmt.Sprintf("name exceeds %d characters", maxNameLen))
	}
	if !namePattern.MatchString(skill.Name) {
		return invalid(fmt.Sprintf("name must match %s", namePattern.String()))
	}
	if skill.Version == "" {
		return invalid("version is required")
	}
	if !semver.IsValid(canonicalVersion(skill.Version)) {
		return invalid(fmt.Sprintf("version %q is not valid semver", skill.Version))
	}
	if skill.Description == "" {
		return invalid("description is required")
	}
	if utf8.RuneCountInString(skill.Description) > maxDescriptionLen {
		return invalid(fmt.Sprintf("description exceeds %d characters", maxDescriptionLen))
	}
	if len(skill.Capabilities) == 0 {
		return invalid("at least one capability is required")
	}

	seen := make(map[string]bool, len(skill.Capabilities))
	for _, cap := range skill.Capabilities {
		if cap.Name == "" {
			return invalid("capability name is required")
		}
		if !namePattern.MatchString(cap.Name) {
			return invalid(fmt.Sprintf("capability name %q must match %s", cap.Name, namePattern.String()))
		}
		if seen[cap.Name] {
			return invalid(fmt.Sprintf("duplicate capability %q", cap.Name))
		}
		seen[cap.Name] = true
	}

	for _, dep := range skill.Dependencies {
		if !namePattern.MatchString(dep) {
			return invalid(fmt.Sprintf("dependency %q must match %s", dep, namePattern.String()))
		}
		if dep == skill.Name {
			return invalid("skill cannot depend on itself")
		}
	}
	return nil
}

// canonicalVersion normalizes a manifest version to the canonical semver
// form with a leading v. Invalid input is returned as-is so validation
// reports it.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if semver.IsValid(v) {
		return semver.Canonical(v)
	}
	return v
}

// CompareVersions compares two canonical skill versions, returning
// -1, 0, or +1 like semver.Compare.
func CompareVersions(a, b string) int {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b))
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
