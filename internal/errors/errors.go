// Package errors provides centralized error definitions and error handling utilities
// for quill. It defines the orchestration engine's error taxonomy, error
// constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// The taxonomy has four classes:
//   - ValidationError: input rejected before any collaborator call
//   - CollaboratorError: a single call to an external collaborator failed
//   - JobFailureError: the remote job itself reported failure (terminal)
//   - SequenceViolationError: a transition was requested from a state that
//     does not allow it
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewValidationError("at least 3 agents are required").
//		WithField("agent_ids").WithValue(2)
//
//	err := errors.NewCollaboratorError("apply pass failed", cause).
//		WithCollaborator("applyPass").WithPass(4)
//
//	err := errors.NewSequenceViolationError("selectCandidate", "idle")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrSequenceViolation) { ... }
//
//	var collabErr *errors.CollaboratorError
//	if errors.As(err, &collabErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
//	if errors.IsUserFacing(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Workflow-related sentinel errors
var (
	// ErrSequenceViolation indicates a transition that is not valid from the current state.
	ErrSequenceViolation = New("sequence violation")
	// ErrArtifactBusy indicates the artifact is already owned by another pipeline run.
	ErrArtifactBusy = New("artifact is already being processed")
	// ErrClosed indicates the component has been torn down.
	ErrClosed = New("workflow closed")
)

// Job-related sentinel errors
var (
	// ErrJobFailed indicates the remote job reported a terminal failure.
	ErrJobFailed = New("job failed")
	// ErrPollErrorThreshold indicates the poller gave up after too many consecutive fetch errors.
	ErrPollErrorThreshold = New("poll error threshold exceeded")
)

// General sentinel errors
var (
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// QuillError is the base interface for all quill errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type QuillError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// Message returns the message without context or cause.
func (e *baseError) Message() string {
	return e.message
}

// formatWithContext renders "<prefix> [k=v, ...]: message: cause".
func formatWithContext(prefix string, parts []string, message string, cause error) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Validation Errors
// -----------------------------------------------------------------------------

// ValidationError represents input rejected before any collaborator call.
//
// Example:
//
//	err := errors.NewValidationError("brief cannot be empty")
//	err = err.WithField("brief").WithValue("")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatWithContext("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Collaborator Errors
// -----------------------------------------------------------------------------

// CollaboratorError represents a failed call to an external collaborator
// (status fetch, candidate listing, pass application, scoring, bundle
// generation).
//
// Example:
//
//	err := errors.NewCollaboratorError("fetch status failed", cause)
//	err = err.WithCollaborator("fetchStatus").WithJobID("job-1").WithStatusCode(503)
type CollaboratorError struct {
	baseError
	Collaborator string
	JobID        string
	Pass         int
	StatusCode   int
}

// NewCollaboratorError creates a new CollaboratorError.
// Collaborator errors are retryable by default; callers downgrade with
// WithRetryable(false) when the remote rejected the request outright.
func NewCollaboratorError(message string, cause error) *CollaboratorError {
	return &CollaboratorError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithCollaborator names the collaborator that failed.
func (e *CollaboratorError) WithCollaborator(name string) *CollaboratorError {
	e.Collaborator = name
	return e
}

// WithJobID adds a job ID to the error context.
func (e *CollaboratorError) WithJobID(id string) *CollaboratorError {
	e.JobID = id
	return e
}

// WithPass adds a pass ordinal to the error context.
func (e *CollaboratorError) WithPass(ordinal int) *CollaboratorError {
	e.Pass = ordinal
	return e
}

// WithStatusCode adds an HTTP status code to the error context.
func (e *CollaboratorError) WithStatusCode(code int) *CollaboratorError {
	e.StatusCode = code
	return e
}

// WithSeverity sets the error severity.
func (e *CollaboratorError) WithSeverity(s Severity) *CollaboratorError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *CollaboratorError) WithRetryable(r bool) *CollaboratorError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *CollaboratorError) Error() string {
	var parts []string
	if e.Collaborator != "" {
		parts = append(parts, fmt.Sprintf("collaborator=%s", e.Collaborator))
	}
	if e.JobID != "" {
		parts = append(parts, fmt.Sprintf("job=%s", e.JobID))
	}
	if e.Pass > 0 {
		parts = append(parts, fmt.Sprintf("pass=%d", e.Pass))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	return formatWithContext("collaborator error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *CollaboratorError) Is(target error) bool {
	if _, ok := target.(*CollaboratorError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Job Failure Errors
// -----------------------------------------------------------------------------

// JobFailureError represents a remote job that reached a terminal failure,
// either because the backend reported it or because the poller exceeded its
// error threshold.
//
// Example:
//
//	err := errors.NewJobFailureError("job-1", "generation backend crashed")
type JobFailureError struct {
	baseError
	JobID  string
	Reason string
}

// NewJobFailureError creates a new JobFailureError.
func NewJobFailureError(jobID, reason string) *JobFailureError {
	return &JobFailureError{
		baseError: baseError{
			message:    reason,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		JobID:  jobID,
		Reason: reason,
	}
}

// WithCause adds a cause to the error.
func (e *JobFailureError) WithCause(cause error) *JobFailureError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *JobFailureError) Error() string {
	var parts []string
	if e.JobID != "" {
		parts = append(parts, fmt.Sprintf("job=%s", e.JobID))
	}
	return formatWithContext("job failed", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *JobFailureError) Is(target error) bool {
	if _, ok := target.(*JobFailureError); ok {
		return true
	}
	if target == ErrJobFailed {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Sequence Violations
// -----------------------------------------------------------------------------

// SequenceViolationError is returned when a caller requests a transition the
// current state does not allow. It is a programming error in the caller and is
// never coerced into a no-op.
//
// Example:
//
//	err := errors.NewSequenceViolationError("confirmWinner", "awaiting_selection")
//	fmt.Println(err) // "sequence violation [op=confirmWinner, state=awaiting_selection]: ..."
type SequenceViolationError struct {
	baseError
	Operation string
	State     string
}

// NewSequenceViolationError creates a new SequenceViolationError.
func NewSequenceViolationError(operation, state string) *SequenceViolationError {
	return &SequenceViolationError{
		baseError: baseError{
			message:    fmt.Sprintf("%s is not valid in state %s", operation, state),
			severity:   SeverityError,
			retryable:  false,
			userFacing: false,
		},
		Operation: operation,
		State:     state,
	}
}

// WithCause adds a cause to the error.
func (e *SequenceViolationError) WithCause(cause error) *SequenceViolationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *SequenceViolationError) Error() string {
	parts := []string{fmt.Sprintf("op=%s", e.Operation), fmt.Sprintf("state=%s", e.State)}
	return formatWithContext("sequence violation", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *SequenceViolationError) Is(target error) bool {
	if _, ok := target.(*SequenceViolationError); ok {
		return true
	}
	if target == ErrSequenceViolation {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    return resubmit()
//	}
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var quillErr QuillError
	if As(err, &quillErr) {
		return quillErr.IsRetryable()
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    displayToUser(err.Error())
//	} else {
//	    displayToUser("An internal error occurred")
//	    log.Error("internal error", "err", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var quillErr QuillError
	if As(err, &quillErr) {
		return quillErr.IsUserFacing()
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement QuillError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var quillErr QuillError
	if As(err, &quillErr) {
		return quillErr.Severity()
	}

	return SeverityError
}

// Reason extracts a short human-readable reason from err, preferring the
// message of a JobFailureError or CollaboratorError over the fully
// decorated Error() string.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var jobErr *JobFailureError
	if As(err, &jobErr) {
		return jobErr.Reason
	}
	var collabErr *CollaboratorError
	if As(err, &collabErr) {
		if collabErr.cause != nil {
			return fmt.Sprintf("%s: %v", collabErr.message, collabErr.cause)
		}
		return collabErr.message
	}
	return err.Error()
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this preserves the QuillError interface.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to submit tournament")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
