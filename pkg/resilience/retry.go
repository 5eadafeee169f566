// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry, timeout, and circuit breaker patterns
// for Tekhne step execution.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff. The zero
// value retries nothing useful; start from DefaultRetryConfig.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, first try included.
	MaxAttempts int

	// InitialDelay seeds the backoff curve.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// Multiplier scales the delay between attempts (default 2.0).
	Multiplier float64

	// Jitter spreads delays by up to the given fraction in either
	// direction; 0.1 means plus or minus 10%.
	Jitter float64

	// IsRecoverable classifies errors worth retrying. When nil, only
	// errors the taxonomy marks recoverable are retried; unclassified
	// errors are terminal.
	IsRecoverable func(error) bool

	// OnRetry, if set, runs before each retry with the 1-based number of
	// the attempt about to start and the error that caused it.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry policy used across the runtime.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a copy with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a copy with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a copy with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithIsRecoverable returns a copy with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithOnRetry returns a copy with OnRetry set.
func (rc RetryConfig) WithOnRetry(fn func(attempt int, err error)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// DoWithResult runs fn until it succeeds, fails terminally, or the
// attempts run out. The last result and error are returned.
func (rc RetryConfig) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = isRecoverableDefault
	}

	var lastResult any
	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		if attempt > 1 {
			if rc.OnRetry != nil {
				rc.OnRetry(attempt, lastErr)
			}
			select {
			case <-ctx.Done():
				return lastResult, errors.New(errors.CodeCancelled, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt-1).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-time.After(calculateBackoff(attempt-1, rc)):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastResult, lastErr = result, err

		if !recoverable(err) {
			return result, err
		}
		// A cancelled run never retries, whatever the classifier says.
		if ctx.Err() != nil {
			return result, lastErr
		}
	}
	return lastResult, lastErr
}

// Do runs fn under the same policy as DoWithResult for callers without a
// result value.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	_, err := rc.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// calculateBackoff derives the delay before the given retry, growing
// exponentially from InitialDelay, capped at MaxDelay, then jittered.
func calculateBackoff(retry int, rc RetryConfig) time.Duration {
	multiplier := rc.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(multiplier, float64(retry)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		factor := 1 + rc.Jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * factor)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// isRecoverableDefault retries only errors explicitly marked recoverable.
func isRecoverableDefault(err error) bool {
	return errors.IsRecoverable(err)
}
