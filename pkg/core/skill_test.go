package core

import (
	"context"
	"testing"
)

func TestSkillCapabilityLookup(t *testing.T) {
	skill := &Skill{
		Name: "web",
		Capabilities: []Capability{
			{Name: "fetch"},
			{Name: "post"},
		},
	}

	cap, ok := skill.Capability("fetch")
	if !ok {
		t.Fatalf("expected fetch to be found")
	}
	if cap.Name != "fetch" {
		t.Errorf("expected fetch, got %q", cap.Name)
	}

	if _, ok := skill.Capability("delete"); ok {
		t.Errorf("expected delete to be absent")
	}
}

func TestSkillClone(t *testing.T) {
	orig := &Skill{
		Name:         "web",
		Version:      "v1.0.0",
		Capabilities: []Capability{{Name: "fetch"}},
		Dependencies: []string{"net"},
		Metadata:     map[string]string{"author": "ops"},
	}

	clone := orig.Clone()
	clone.Capabilities[0].Name = "mutated"
	clone.Dependencies[0] = "mutated"
	clone.Metadata["author"] = "mutated"

	if orig.Capabilities[0].Name != "fetch" {
		t.Errorf("clone mutation leaked into original capabilities")
	}
	if orig.Dependencies[0] != "net" {
		t.Errorf("clone mutation leaked into original dependencies")
	}
	if orig.Metadata["author"] != "ops" {
		t.Errorf("clone mutation leaked into original metadata")
	}
}

func TestGoalWithParam(t *testing.T) {
	g := NewGoal("summarize the page")
	g2 := g.WithParam("url", "https://example.com")

	if g.Params != nil {
		t.Errorf("expected original goal params untouched")
	}
	if g2.Params["url"] != "https://example.com" {
		t.Errorf("expected param on derived goal")
	}
	if g2.Text != g.Text {
		t.Errorf("expected text preserved")
	}
}

func TestSchemaValidate(t *testing.T) {
	schema, err := CompileSchema([]byte(`{
		"type": "object",
		"properties": {
			"url": {"type": "string"}
		},
		"required": ["url"]
	}`))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if err := schema.Validate(map[string]any{"url": "https://example.com"}); err != nil {
		t.Errorf("expected valid instance, got %v", err)
	}
	if err := schema.Validate(map[string]any{}); err == nil {
		t.Errorf("expected missing required field to fail")
	}

	req := schema.Required()
	if len(req) != 1 || req[0] != "url" {
		t.Errorf("expected required [url], got %v", req)
	}
}

func TestSchemaNilAcceptsAnything(t *testing.T) {
	var schema *Schema
	if err := schema.Validate(map[string]any{"anything": true}); err != nil {
		t.Errorf("nil schema must accept all instances, got %v", err)
	}
	if schema.Required() != nil {
		t.Errorf("nil schema has no required fields")
	}
}

func TestCompileSchemaInvalid(t *testing.T) {
	if _, err := CompileSchema([]byte(`{"type": `)); err == nil {
		t.Errorf("expected malformed schema to fail compilation")
	}
}

func TestEnsureRunID(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("expected generated run id")
	}
	ctx2, id2 := EnsureRunID(ctx)
	if id2 != id {
		t.Errorf("expected stable run id, got %q then %q", id, id2)
	}
	if ctx2 != ctx {
		t.Errorf("expected context reuse when id present")
	}
}

func TestStepIDRoundTrip(t *testing.T) {
	if _, ok := StepID(context.Background()); ok {
		t.Fatalf("expected no step id on a bare context")
	}
	ctx := WithStepID(context.Background(), "fetch")
	id, ok := StepID(ctx)
	if !ok || id != "fetch" {
		t.Errorf("expected step id %q, got %q (ok=%v)", "fetch", id, ok)
	}
}

func TestNewEventCarriesRunID(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-test")
	ev := NewEvent(ctx, EventStepCompleted, "executor", map[string]any{"step": "fetch"})

	if ev.RunID != "run-test" {
		t.Errorf("expected run id from context, got %q", ev.RunID)
	}
	if ev.Type != EventStepCompleted {
		t.Errorf("unexpected type %q", ev.Type)
	}
	if ev.Timestamp.IsZero() {
		t.Errorf("expected timestamp")
	}
}

func TestHandlerFunc(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
		return args["x"], nil
	})
	out, err := h.Invoke(context.Background(), map[string]any{"x": 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 42 {
		t.Errorf("expected 42, got %v", out)
	}
}
