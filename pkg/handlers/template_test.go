package handlers

import (
	"context"
	"testing"

	"github.com/tekhne-dev/tekhne/pkg/errors"
)

func TestTemplateHandlerRenders(t *testing.T) {
	out, err := renderTemplate(context.Background(), map[string]any{
		"template": "Hello {{.name}}{{if .shout}}!{{end}}",
		"data":     map[string]any{"name": "tekhne", "shout": true},
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	if out != "Hello tekhne!" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTemplateHandlerFuncs(t *testing.T) {
	out, err := renderTemplate(context.Background(), map[string]any{
		"template": "{{upper .word}} {{lower .word}} {{trim .padded}}",
		"data":     map[string]any{"word": "Go", "padded": "  x  "},
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	if out != "GO go x" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTemplateHandlerWithoutData(t *testing.T) {
	out, err := renderTemplate(context.Background(), map[string]any{
		"template": "static text",
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	if out != "static text" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTemplateHandlerRequiresTemplate(t *testing.T) {
	cases := []map[string]any{
		{},
		{"template": ""},
		{"template": 7},
	}
	for _, args := range cases {
		if _, err := renderTemplate(context.Background(), args); !errors.IsCode(err, errors.CodeInvalidInput) {
			t.Errorf("args %v: expected INVALID_INPUT, got %v", args, err)
		}
	}
}

func TestTemplateHandlerParseError(t *testing.T) {
	_, err := renderTemplate(context.Background(), map[string]any{"template": "{{.unclosed"})
	if !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestTemplateHandlerExecutionError(t *testing.T) {
	_, err := renderTemplate(context.Background(), map[string]any{
		"template": "{{.a.b}}",
		"data":     map[string]any{"a": "not a struct"},
	})
	if !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
