// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	te := New(CodeStepFailed, "step execution failed", cause)

	if te.Code != CodeStepFailed {
		t.Errorf("expected CodeStepFailed, got %v", te.Code)
	}
	if te.Message != "step execution failed" {
		t.Errorf("expected message 'step execution failed', got %q", te.Message)
	}
	if te.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(te, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	te := New(CodeStepFailed, "step failed", nil)
	te.WithContext("step", "fetch").
		WithContext("args", map[string]interface{}{"url": "https://example.com"})

	if te.Context["step"] != "fetch" {
		t.Errorf("expected context step to be 'fetch'")
	}
	if te.Context["args"] == nil {
		t.Errorf("expected context args to be set")
	}
}

func TestWithAttribute(t *testing.T) {
	te := New(CodeStepFailed, "step failed", nil)
	te.WithAttribute("capability", "fetch").
		WithAttribute("attempt", "3")

	if te.Attributes["capability"] != "fetch" {
		t.Errorf("expected attribute capability")
	}
	if te.Attributes["attempt"] != "3" {
		t.Errorf("expected attribute attempt")
	}
}

func TestWithRecoverable(t *testing.T) {
	te := New(CodeStepFailed, "network error", nil)
	if te.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}

	te.WithRecoverable(true)
	if !te.Recoverable {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		te       *TekhneError
		expected string
	}{
		{
			name:     "with cause",
			te:       New(CodeStepTimeout, "step timed out", errors.New("deadline exceeded")),
			expected: "[STEP_TIMEOUT] step timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			te:       New(CodeNotFound, "skill not found", nil),
			expected: "[NOT_FOUND] skill not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.te.Error()
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAsTekhneError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "already TekhneError",
			err:      New(CodeCapabilityConflict, "conflict", nil),
			expected: CodeCapabilityConflict,
		},
		{
			name:     "wrapped TekhneError",
			err:      fmt.Errorf("register: %w", New(CodeDependencyUnresolved, "missing dep", nil)),
			expected: CodeDependencyUnresolved,
		},
		{
			name:     "generic error",
			err:      errors.New("generic error"),
			expected: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := AsTekhneError(tt.err)
			if tt.expected == "" {
				if te != nil {
					t.Errorf("expected nil for nil error")
				}
			} else {
				if te == nil {
					t.Errorf("expected non-nil TekhneError")
				} else if te.Code != tt.expected {
					t.Errorf("expected %v, got %v", tt.expected, te.Code)
				}
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(CodePlanCycle, "cycle", nil)); got != CodePlanCycle {
		t.Errorf("expected CodePlanCycle, got %v", got)
	}
	wrapped := fmt.Errorf("compile: %w", New(CodeCapabilityNotFound, "no such capability", nil))
	if got := CodeOf(wrapped); got != CodeCapabilityNotFound {
		t.Errorf("expected CodeCapabilityNotFound through wrapping, got %v", got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Errorf("expected CodeInternal for plain error, got %v", got)
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeManifestInvalid, "bad frontmatter", nil))
	if !IsCode(err, CodeManifestInvalid) {
		t.Errorf("expected IsCode to match through wrapping")
	}
	if IsCode(err, CodePlanCycle) {
		t.Errorf("expected IsCode to reject a different code")
	}
	if IsCode(nil, CodeManifestInvalid) {
		t.Errorf("expected IsCode to reject nil")
	}
}

func TestIsRecoverable(t *testing.T) {
	transient := New(CodeStepFailed, "rate limited upstream", nil).WithRecoverable(true)
	if !IsRecoverable(fmt.Errorf("invoke: %w", transient)) {
		t.Errorf("expected recoverable through wrapping")
	}
	if IsRecoverable(New(CodeStepFailed, "bad input", nil)) {
		t.Errorf("expected terminal by default")
	}
	if IsRecoverable(errors.New("plain")) {
		t.Errorf("expected plain errors to be terminal")
	}
}

func TestMarshalJSON(t *testing.T) {
	te := New(CodeStepFailed, "step failed", errors.New("network error"))
	te.WithContext("step", "fetch").
		WithAttribute("attempt", "1").
		WithRecoverable(true)

	data, err := json.Marshal(te)
	if err != nil {
		t.Fatalf("unexpected error marshaling: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}

	if result["code"] != "STEP_FAILED" {
		t.Errorf("expected code 'STEP_FAILED', got %v", result["code"])
	}
	if result["recoverable"] != true {
		t.Errorf("expected recoverable true")
	}
}
