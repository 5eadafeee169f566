package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
)

const webManifest = `---
name: web
version: 1.2.0
description: Fetch and post over HTTP.
dependencies:
  - net
metadata:
  author: ops
capabilities:
  - name: fetch
    description: Fetch a URL and return its body.
    handler: builtin:http-fetch
    input:
      type: object
      properties:
        url:
          type: string
      required: [url]
    output:
      type: object
      properties:
        body:
          type: string
---

Use fetch for read-only HTTP access.
`

func writeManifest(t *testing.T, root, name, content string) string {
	t.Helper()
	skillDir := filepath.Join(root, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(skillDir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "web", webManifest)

	skill, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if skill.Name != "web" {
		t.Fatalf("unexpected name: %s", skill.Name)
	}
	if skill.Version != "v1.2.0" {
		t.Fatalf("expected canonical version v1.2.0, got %s", skill.Version)
	}
	if skill.State != core.SkillStateRegistered {
		t.Fatalf("expected Registered state, got %s", skill.State)
	}
	if skill.Source != path {
		t.Fatalf("expected source %q, got %q", path, skill.Source)
	}
	if len(skill.Capabilities) != 1 {
		t.Fatalf("expected 1 capability, got %d", len(skill.Capabilities))
	}

	cap := skill.Capabilities[0]
	if cap.Name != "fetch" {
		t.Fatalf("unexpected capability name: %s", cap.Name)
	}
	if err := cap.InputSchema.Validate(map[string]any{"url": "https://example.com"}); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
	if err := cap.InputSchema.Validate(map[string]any{}); err == nil {
		t.Errorf("expected missing url to fail input schema")
	}
	if !strings.Contains(skill.Body, "read-only HTTP access") {
		t.Errorf("expected body to be carried, got %q", skill.Body)
	}
}

func TestLoadFileDirMismatch(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "not-web", webManifest)

	_, err := LoadFile(path)
	if err == nil {
		t.Fatalf("expected directory mismatch error")
	}
	if !errors.IsCode(err, errors.CodeManifestInvalid) {
		t.Fatalf("expected CodeManifestInvalid, got %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "web", webManifest)
	// A directory without a manifest is skipped.
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	skills, err := LoadDir(root)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(skills))
	}
}

func TestLoadDirPropagatesFailure(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "broken", "not a manifest at all")

	_, err := LoadDir(root)
	if err == nil {
		t.Fatalf("expected malformed manifest to abort the scan")
	}
	if !errors.IsCode(err, errors.CodeManifestInvalid) {
		t.Fatalf("expected CodeManifestInvalid, got %v", err)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantIn   string
	}{
		{
			name:     "missing frontmatter",
			manifest: "just markdown",
			wantIn:   "missing frontmatter",
		},
		{
			name: "missing name",
			manifest: `---
version: 1.0.0
description: d
capabilities: [{name: a, handler: "builtin:echo"}]
---
`,
			wantIn: "name is required",
		},
		{
			name: "bad name",
			manifest: `---
name: Bad_Name
version: 1.0.0
description: d
capabilities: [{name: a, handler: "builtin:echo"}]
---
`,
			wantIn: "must match",
		},
		{
			name: "missing version",
			manifest: `---
name: web
description: d
capabilities: [{name: a, handler: "builtin:echo"}]
---
`,
			wantIn: "version is required",
		},
		{
			name: "bad version",
			manifest: `---
name: web
version: not-a-version
description: d
capabilities: [{name: a, handler: "builtin:echo"}]
---
`,
			wantIn: "not valid semver",
		},
		{
			name: "no capabilities",
			manifest: `---
name: web
version: 1.0.0
description: d
---
`,
			wantIn: "at least one capability",
		},
		{
			name: "duplicate capability",
			manifest: `---
name: web
version: 1.0.0
description: d
capabilities:
  - {name: a, handler: "builtin:echo"}
  - {name: a, handler: "builtin:echo"}
---
`,
			wantIn: "duplicate capability",
		},
		{
			name: "self dependency",
			manifest: `---
name: web
version: 1.0.0
description: d
dependencies: [web]
capabilities: [{name: a, handler: "builtin:echo"}]
---
`,
			wantIn: "depend on itself",
		},
		{
			name: "bad handler ref",
			manifest: `---
name: web
version: 1.0.0
description: d
capabilities: [{name: a, handler: "no-scheme"}]
---
`,
			wantIn: "scheme:name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.manifest))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.IsCode(err, errors.CodeManifestInvalid) {
				t.Fatalf("expected CodeManifestInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("expected %q in error, got %q", tt.wantIn, err.Error())
			}
		})
	}
}

func TestParseBadInputSchema(t *testing.T) {
	content := `---
name: web
version: 1.0.0
description: d
capabilities:
  - name: fetch
    handler: "builtin:echo"
    input:
      type: 42
---
`
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatalf("expected schema compilation failure")
	}
	if !errors.IsCode(err, errors.CodeManifestInvalid) {
		t.Fatalf("expected CodeManifestInvalid, got %v", err)
	}
}

func TestParseWithResolver(t *testing.T) {
	mux := NewResolverMux()
	mux.Register("builtin", ResolverFunc(func(ref string) (core.Handler, error) {
		return core.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
			return "resolved:" + ref, nil
		}), nil
	}))

	skill, err := Parse([]byte(webManifest), WithResolver(mux))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := skill.Capabilities[0].Handler.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "resolved:builtin:http-fetch" {
		t.Errorf("unexpected handler output %v", out)
	}
}

func TestParseUnknownScheme(t *testing.T) {
	mux := NewResolverMux()

	_, err := Parse([]byte(webManifest), WithResolver(mux))
	if err == nil {
		t.Fatalf("expected unknown scheme failure")
	}
	if !errors.IsCode(err, errors.CodeManifestInvalid) {
		t.Fatalf("expected CodeManifestInvalid, got %v", err)
	}
}

func TestCompareVersions(t *testing.T) {
	if CompareVersions("1.0.0", "1.2.0") >= 0 {
		t.Errorf("expected 1.0.0 < 1.2.0")
	}
	if CompareVersions("v2.0.0", "1.9.9") <= 0 {
		t.Errorf("expected v2.0.0 > 1.9.9")
	}
	if CompareVersions("1.0.0", "v1.0.0") != 0 {
		t.Errorf("expected prefix-insensitive equality")
	}
}
