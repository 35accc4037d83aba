package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected during session execution.
//
// Runtime errors include:
//   - Unknown handle: mutation references a retracted or never-issued handle
//   - Consequence failed: a rule's consequence raised an error while firing
//   - Security context: the privileged-execution scope could not be obtained
//   - Session closed: mutation attempted after Close
//
// RuntimeError includes structured fields for diagnostics and recovery.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Session identifies the affected session token.
	Session string

	// Rule identifies the rule (for consequence/security errors).
	Rule string

	// Handle identifies the fact handle (for unknown-handle errors).
	Handle int64

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownHandle indicates a stale or never-issued fact handle.
	ErrCodeUnknownHandle RuntimeErrorCode = "UNKNOWN_HANDLE"

	// ErrCodeConsequenceFailed indicates a consequence raised during firing.
	ErrCodeConsequenceFailed RuntimeErrorCode = "CONSEQUENCE_FAILED"

	// ErrCodeSecurityContext indicates the privileged scope was unavailable.
	ErrCodeSecurityContext RuntimeErrorCode = "SECURITY_CONTEXT"

	// ErrCodeSessionClosed indicates a mutation on a closed session.
	ErrCodeSessionClosed RuntimeErrorCode = "SESSION_CLOSED"

	// ErrCodeUnknownConsequence indicates a rule names an unregistered
	// consequence.
	ErrCodeUnknownConsequence RuntimeErrorCode = "UNKNOWN_CONSEQUENCE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.Rule != "":
		return fmt.Sprintf("%s: %s (session=%s, rule=%s)", e.Code, e.Message, e.Session, e.Rule)
	case e.Handle != 0:
		return fmt.Sprintf("%s: %s (session=%s, handle=%d)", e.Code, e.Message, e.Session, e.Handle)
	default:
		return fmt.Sprintf("%s: %s (session=%s)", e.Code, e.Message, e.Session)
	}
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsUnknownHandle returns true if the error is an unknown-handle error.
// Uses errors.As to handle wrapped errors.
func IsUnknownHandle(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnknownHandle
	}
	return false
}

// IsConsequenceFailed returns true if the error is a consequence
// execution error. Security-context failures surface under their own
// code but are raised through the same path; this predicate matches
// both because callers treat them identically.
func IsConsequenceFailed(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeConsequenceFailed || re.Code == ErrCodeSecurityContext
	}
	return false
}

// IsSessionClosed returns true if the error is a closed-session error.
func IsSessionClosed(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeSessionClosed
	}
	return false
}

// IsBudgetExceeded returns true if the error is a firing budget error.
// Uses errors.As to handle wrapped errors.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// NewUnknownHandleError creates a RuntimeError for a stale handle.
func NewUnknownHandleError(session string, handle int64) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownHandle,
		Message: "fact handle is retracted or was never issued",
		Session: session,
		Handle:  handle,
	}
}

// NewConsequenceError creates a RuntimeError for a failed consequence.
func NewConsequenceError(session, rule string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeConsequenceFailed,
		Message: cause.Error(),
		Session: session,
		Rule:    rule,
		Err:     cause,
	}
}

// NewSecurityContextError creates a RuntimeError for a privileged-scope
// failure.
func NewSecurityContextError(session, rule string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeSecurityContext,
		Message: cause.Error(),
		Session: session,
		Rule:    rule,
		Err:     cause,
	}
}

// NewSessionClosedError creates a RuntimeError for a closed session.
func NewSessionClosedError(session string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeSessionClosed,
		Message: "session is closed",
		Session: session,
	}
}
