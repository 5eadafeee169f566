// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation.
	// Zero means no boundary.
	Duration time.Duration
}

// WithTimeout executes fn with a timeout boundary. fn receives a context
// whose deadline reflects the boundary so it can stop cooperatively; if it
// does not, the caller moves on and the goroutine is abandoned.
// Returns errors.CodeStepTimeout if the deadline is exceeded.
func WithTimeout(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) error) error {
	_, err := WithTimeoutResult(ctx, config, func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// WithTimeoutResult executes fn with a timeout boundary, returning both result and error.
func WithTimeoutResult(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if config.Duration == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	type result struct {
		value interface{}
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.CodeStepTimeout, "operation exceeded timeout", ctx.Err()).
				WithContext("timeout", config.Duration.String()).
				WithRecoverable(true)
		}
		return nil, errors.New(errors.CodeCancelled, "operation canceled", ctx.Err())
	case res := <-done:
		return res.value, res.err
	}
}
