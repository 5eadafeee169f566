package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// Context keys for values the runtime threads through to handlers. The key
// types stay private; callers go through the accessor functions.
type (
	runIDKey  struct{}
	stepIDKey struct{}
)

// WithRunID returns a context carrying the given run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID reports the run id carried by ctx, if any.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// EnsureRunID returns ctx unchanged when it already carries a run id and
// otherwise derives a fresh one. The id is returned either way so callers
// can log it without a second lookup.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := newRunID()
	return WithRunID(ctx, id), id
}

// WithStepID returns a context carrying the id of the step under
// execution. The executor sets it before invoking a handler so log lines
// and audit records written inside the handler attach to the right step.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey{}, id)
}

// StepID reports the step id carried by ctx, if any.
func StepID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(stepIDKey{}).(string)
	return id, ok
}

func newRunID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "run-unknown"
	}
	return "run-" + hex.EncodeToString(buf)
}
