package handlers

import (
	"context"
	"testing"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
	"github.com/tekhne-dev/tekhne/pkg/manifest"
)

func TestEchoReturnsArguments(t *testing.T) {
	out, err := echo(context.Background(), map[string]any{"text": "hi", "n": 2})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	got, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %T", out)
	}
	if got["text"] != "hi" || got["n"] != 2 {
		t.Fatalf("unexpected output %v", got)
	}

	// Mutating the output must not reach back into the arguments.
	args := map[string]any{"k": "v"}
	out, _ = echo(context.Background(), args)
	out.(map[string]any)["k"] = "changed"
	if args["k"] != "v" {
		t.Fatal("echo output aliases its arguments")
	}
}

func TestRegistryResolver(t *testing.T) {
	r := NewRegistry()
	resolver := r.Resolver()

	h, err := resolver.Resolve("builtin:echo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if h == nil {
		t.Fatal("expected handler")
	}

	bad := []string{
		"builtin:nope",
		"mcp:server/tool",
		"builtin:",
		"echo",
	}
	for _, ref := range bad {
		if _, err := resolver.Resolve(ref); err == nil {
			t.Errorf("Resolve(%q) expected error", ref)
		}
	}
}

func TestRegistryRegisterCustomHandler(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("", nil); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}

	reverse := core.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
		s, _ := args["text"].(string)
		runes := []rune(s)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	})
	if err := r.Register("reverse", reverse); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h, err := r.Resolver().Resolve("builtin:reverse")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	out, err := h.Invoke(context.Background(), map[string]any{"text": "live"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "evil" {
		t.Fatalf("expected evil, got %v", out)
	}
}

func TestRegistryNames(t *testing.T) {
	names := NewRegistry().Names()
	want := []string{"echo", "http-fetch", "template"}
	if len(names) != len(want) {
		t.Fatalf("unexpected names %v", names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestRegistryResolvesThroughMux(t *testing.T) {
	mux := manifest.NewResolverMux()
	mux.Register("builtin", NewRegistry().Resolver())

	h, err := mux.Resolve("builtin:echo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	out, err := h.Invoke(context.Background(), map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.(map[string]any)["ok"] != true {
		t.Fatalf("unexpected output %v", out)
	}
}
