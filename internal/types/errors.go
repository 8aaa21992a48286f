package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies every failure the planning core can surface.
// The set is closed; transport adapters map codes onto status codes.
type ErrorCode string

const (
	// ValidationFailed means the caller supplied inconsistent parameters or a
	// malformed upload. Never retried automatically.
	ValidationFailed ErrorCode = "VALIDATION_FAILED"

	// NotFound means the workflow or agent identifier is unknown.
	NotFound ErrorCode = "NOT_FOUND"

	// NotReady means the requested artifact has not been produced yet.
	// Transient; callers may poll or wait on the event stream.
	NotReady ErrorCode = "NOT_READY"

	// NotApplicable means the artifact can never exist for this workflow's
	// parameters (no markdown checkpoint week). Permanent, unlike NotReady.
	NotApplicable ErrorCode = "NOT_APPLICABLE"

	// AgentFailed means an agent's computation failed; the containing
	// workflow is permanently failed.
	AgentFailed ErrorCode = "AGENT_FAILED"

	// AgentTimeout is the timeout specialization of AgentFailed.
	AgentTimeout ErrorCode = "AGENT_TIMEOUT"
)

// PlanError is a structured error carrying a taxonomy code, a message and an
// optional cause. It supports errors.Is matching by code.
type PlanError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error formats as "[CODE] message" with the cause appended when present.
func (e *PlanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *PlanError) Unwrap() error {
	return e.Cause
}

// Is matches against another PlanError by code.
func (e *PlanError) Is(target error) bool {
	var pe *PlanError
	if errors.As(target, &pe) {
		return e.Code == pe.Code
	}
	return false
}

// NewError creates a PlanError with the given code and message.
func NewError(code ErrorCode, message string) *PlanError {
	return &PlanError{Code: code, Message: message}
}

// NewErrorf creates a PlanError with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *PlanError {
	return &PlanError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a PlanError wrapping an existing cause.
func WrapError(code ErrorCode, message string, cause error) *PlanError {
	return &PlanError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the taxonomy code from err, or "" if err carries none.
func CodeOf(err error) ErrorCode {
	var pe *PlanError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsNotFound reports whether err is a NotFound taxonomy error.
func IsNotFound(err error) bool {
	return CodeOf(err) == NotFound
}

// IsNotReady reports whether err is a NotReady taxonomy error.
func IsNotReady(err error) bool {
	return CodeOf(err) == NotReady
}

// IsNotApplicable reports whether err is a NotApplicable taxonomy error.
func IsNotApplicable(err error) bool {
	return CodeOf(err) == NotApplicable
}
