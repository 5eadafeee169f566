package core

import "context"

// Handler executes a single capability invocation. Implementations signal
// transient failures by returning a *errors.TekhneError marked recoverable;
// any other error is treated as terminal for the step.
type Handler interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Capability is one invocable operation contributed by a skill. Capability
// names are unique across all live skills in a registry.
type Capability struct {
	Name         string
	Description  string
	InputSchema  *Schema
	OutputSchema *Schema
	Handler      Handler

	// Skill is the owning skill's name, stamped by the registry.
	Skill string
}
