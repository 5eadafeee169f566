// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"testing"
	"time"

	terrors "github.com/tekhne-dev/tekhne/pkg/errors"
)

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name        string
		duration    time.Duration
		sleepTime   time.Duration
		expectError bool
	}{
		{"fast operation", 1 * time.Second, 10 * time.Millisecond, false},
		{"slow operation", 50 * time.Millisecond, 200 * time.Millisecond, true},
		{"no boundary", 0, 100 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := TimeoutConfig{Duration: tt.duration}
			err := WithTimeout(context.Background(), config, func(ctx context.Context) error {
				time.Sleep(tt.sleepTime)
				return nil
			})

			if tt.expectError {
				if err == nil {
					t.Errorf("expected timeout error")
				}
				if !terrors.IsCode(err, terrors.CodeStepTimeout) {
					t.Errorf("expected CodeStepTimeout, got %v", terrors.CodeOf(err))
				}
				if !terrors.IsRecoverable(err) {
					t.Errorf("expected timeouts to classify as recoverable")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestWithTimeoutResult(t *testing.T) {
	config := TimeoutConfig{Duration: 1 * time.Second}

	value, err := WithTimeoutResult(context.Background(), config, func(ctx context.Context) (interface{}, error) {
		return "success", nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if value != "success" {
		t.Errorf("expected 'success', got %v", value)
	}
}

func TestWithTimeoutResultTimeout(t *testing.T) {
	config := TimeoutConfig{Duration: 50 * time.Millisecond}

	value, err := WithTimeoutResult(context.Background(), config, func(ctx context.Context) (interface{}, error) {
		time.Sleep(200 * time.Millisecond)
		return "success", nil
	})

	if err == nil {
		t.Errorf("expected timeout error")
	}
	if value != nil {
		t.Errorf("expected nil value on timeout")
	}
}

func TestWithTimeoutFnSeesDeadline(t *testing.T) {
	config := TimeoutConfig{Duration: 30 * time.Millisecond}

	stopped := make(chan struct{})
	_, err := WithTimeoutResult(context.Background(), config, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		close(stopped)
		return nil, ctx.Err()
	})

	if err == nil {
		t.Fatalf("expected timeout error")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("fn never observed the deadline")
	}
}

func TestWithTimeoutParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithTimeout(ctx, TimeoutConfig{Duration: time.Second}, func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	if !terrors.IsCode(err, terrors.CodeCancelled) {
		t.Errorf("expected CodeCancelled for parent cancellation, got %v", err)
	}
}
