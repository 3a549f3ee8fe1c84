// Package correrr provides the structured error taxonomy shared across the
// orchestration core (spec.md §7). CoreError preserves error chains and
// supports errors.Is/As while carrying a stable Code the HTTP layer can map
// to a status without leaking internals.
package correrr

import (
	"errors"
	"fmt"
)

// Code is a stable, user-facing error classifier.
type Code string

// Error codes used across the core.
const (
	CodeInvalidArtifact    Code = "invalid_artifact"
	CodeNotFound           Code = "not_found"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeHalted             Code = "halted"
	CodeAlreadyTerminal    Code = "already_terminal"
	CodePolicyViolation    Code = "policy_violation"
	CodeQueueFull          Code = "queue_full"
	CodeOrphaned           Code = "orphaned"
	CodeHITLTimeout        Code = "hitl_timeout"
	CodeMissingInput       Code = "missing_input"
	CodeValidation         Code = "validation"
	CodeInternal           Code = "internal"
)

// transientCodes classifies which codes the Scheduler/Workflow Engine should
// retry rather than escalate immediately.
var transientCodes = map[Code]bool{
	CodeStorageUnavailable: true,
	CodeQueueFull:          true,
	CodeOrphaned:           true,
}

// CoreError is the structured error type returned by every component.
type CoreError struct {
	Code    Code
	Message string
	Cause   error
}

// New constructs a CoreError with the given code and message.
func New(code Code, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// Newf formats a CoreError message.
func Newf(code Code, format string, args ...any) *CoreError {
	return &CoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an existing error, preserving it as Cause.
func Wrap(code Code, cause error) *CoreError {
	if cause == nil {
		return nil
	}
	var ce *CoreError
	if errors.As(cause, &ce) {
		return &CoreError{Code: code, Message: ce.Message, Cause: ce}
	}
	return &CoreError{Code: code, Message: cause.Error(), Cause: cause}
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// Unwrap returns the wrapped cause, supporting errors.Is/As.
func (e *CoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether the Scheduler should retry this error with
// backoff rather than treat it as terminal on first occurrence.
func (e *CoreError) IsTransient() bool {
	if e == nil {
		return false
	}
	return transientCodes[e.Code]
}

// CodeOf extracts the Code from err, defaulting to CodeInternal when err is
// not (or does not wrap) a *CoreError.
func CodeOf(err error) Code {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// IsTransient reports whether err should be retried by the Scheduler.
func IsTransient(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.IsTransient()
	}
	return false
}
