// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	terrors "github.com/tekhne-dev/tekhne/pkg/errors"
)

func transientErr(msg string) error {
	return terrors.New(terrors.CodeStepFailed, msg, nil).WithRecoverable(true)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig()
	err := config.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return transientErr("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithMaxAttempts(2)
	err := config.Do(context.Background(), func() error {
		attempts++
		return transientErr("always fails")
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryTerminalByDefault(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig()
	err := config.Do(context.Background(), func() error {
		attempts++
		return errors.New("unclassified error")
	})

	if err == nil {
		t.Errorf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected unclassified errors to be terminal, got %d attempts", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithIsRecoverable(func(err error) bool {
		return false // Never recoverable
	})
	err := config.Do(context.Background(), func() error {
		attempts++
		return transientErr("classified transient but overridden")
	})

	if err == nil {
		t.Errorf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(100 * time.Millisecond).WithMaxDelay(100 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := config.Do(ctx, func() error {
		attempts++
		return transientErr("transient error")
	})

	if err == nil {
		t.Errorf("expected context error")
	}
	if attempts < 1 {
		t.Errorf("expected at least 1 attempt, got %d", attempts)
	}
	if attempts > 2 {
		t.Errorf("expected no retries after cancel, got %d attempts", attempts)
	}
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig()
	result, err := config.DoWithResult(context.Background(), func() (interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, transientErr("transient")
		}
		return "success", nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryOnRetryHook(t *testing.T) {
	var notified []int
	config := DefaultRetryConfig().
		WithMaxAttempts(3).
		WithInitialDelay(time.Millisecond).
		WithOnRetry(func(attempt int, err error) {
			if err == nil {
				t.Errorf("expected the triggering error in the hook")
			}
			notified = append(notified, attempt)
		})

	_ = config.Do(context.Background(), func() error {
		return transientErr("always fails")
	})

	if len(notified) != 2 {
		t.Fatalf("expected 2 retry notifications, got %d", len(notified))
	}
	if notified[0] != 2 || notified[1] != 3 {
		t.Errorf("expected attempts [2 3], got %v", notified)
	}
}

func TestCalculateBackoffCapped(t *testing.T) {
	config := RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2.0,
	}

	d := calculateBackoff(10, config)
	if d > 300*time.Millisecond {
		t.Errorf("expected backoff capped at MaxDelay, got %v", d)
	}
}
