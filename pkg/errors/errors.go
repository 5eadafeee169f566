// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Tekhne.
package errors

import (
	stderrors "errors"
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Tekhne errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeManifestInvalid indicates a skill manifest failed parsing or validation.
	CodeManifestInvalid ErrorCode = "MANIFEST_INVALID"

	// CodeCapabilityConflict indicates a capability name is already claimed
	// by another live skill.
	CodeCapabilityConflict ErrorCode = "CAPABILITY_CONFLICT"

	// CodeDependencyUnresolved indicates a skill declares a dependency that
	// is not present in the registry.
	CodeDependencyUnresolved ErrorCode = "DEPENDENCY_UNRESOLVED"

	// CodeDependentsExist indicates an unregister was refused because other
	// skills depend on the target.
	CodeDependentsExist ErrorCode = "DEPENDENTS_EXIST"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeCapabilityNotFound indicates a plan references a capability absent
	// from the snapshot it was compiled against.
	CodeCapabilityNotFound ErrorCode = "CAPABILITY_NOT_FOUND"

	// CodePlanCycle indicates a proposed plan contains a dependency cycle.
	CodePlanCycle ErrorCode = "PLAN_CYCLE"

	// CodePlanningFailed indicates the planner collaborator failed or
	// produced a proposal that cannot be compiled.
	CodePlanningFailed ErrorCode = "PLANNING_FAILED"

	// CodeStepTimeout indicates a step exceeded its execution time limit.
	CodeStepTimeout ErrorCode = "STEP_TIMEOUT"

	// CodeStepFailed indicates a step handler failed terminally or exhausted
	// its retry budget.
	CodeStepFailed ErrorCode = "STEP_FAILED"

	// CodeStepSkipped indicates a step was not executed because an upstream
	// dependency failed.
	CodeStepSkipped ErrorCode = "STEP_SKIPPED"

	// CodeCancelled indicates the run was cancelled before the operation
	// could complete.
	CodeCancelled ErrorCode = "CANCELLED"
)

// TekhneError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type TekhneError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *TekhneError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *TekhneError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *TekhneError) MarshalJSON() ([]byte, error) {
	type Alias TekhneError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new TekhneError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *TekhneError {
	return &TekhneError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *TekhneError) WithContext(key string, value interface{}) *TekhneError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *TekhneError) WithAttribute(key, value string) *TekhneError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *TekhneError) WithRecoverable(recoverable bool) *TekhneError {
	e.Recoverable = recoverable
	return e
}

// AsTekhneError attempts to convert an error to a TekhneError.
// Returns the error as TekhneError if it is one, or wraps it otherwise.
func AsTekhneError(err error) *TekhneError {
	if err == nil {
		return nil
	}
	var te *TekhneError
	if stderrors.As(err, &te) {
		return te
	}
	// Wrap unknown error as internal
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the ErrorCode carried anywhere in err's chain, or
// CodeInternal when the chain holds no TekhneError.
func CodeOf(err error) ErrorCode {
	var te *TekhneError
	if stderrors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// IsCode reports whether err's chain carries a TekhneError with the code.
func IsCode(err error, code ErrorCode) bool {
	var te *TekhneError
	return stderrors.As(err, &te) && te.Code == code
}

// IsRecoverable reports whether err's chain carries a TekhneError marked
// recoverable. Errors outside the taxonomy are treated as terminal.
func IsRecoverable(err error) bool {
	var te *TekhneError
	return stderrors.As(err, &te) && te.Recoverable
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *TekhneError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
