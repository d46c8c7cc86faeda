// Package domain defines the core types, ports, and errors of the query engine.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// PolicyViolationError indicates a query that is not a single read-only statement.
type PolicyViolationError struct {
	Keyword string // offending keyword, upper-cased; empty for structural violations
	Reason  string
}

func (e *PolicyViolationError) Error() string {
	if e.Keyword != "" {
		return fmt.Sprintf("policy violation: %s (keyword %s)", e.Reason, e.Keyword)
	}
	return "policy violation: " + e.Reason
}

// InvalidNamespaceInputError indicates an unsafe request id or filename.
type InvalidNamespaceInputError struct {
	Field  string // "request_id" or "filename"
	Value  string
	Reason string
}

func (e *InvalidNamespaceInputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// SubmissionError indicates the query service rejected the query at submit time.
type SubmissionError struct {
	Message string
	Err     error
}

func (e *SubmissionError) Error() string { return withCause(e.Message, e.Err) }

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollingError indicates status checks failed after exhausting the retry budget.
type PollingError struct {
	Handle   ExecutionHandle
	Attempts int
	Err      error
}

func (e *PollingError) Error() string {
	msg := fmt.Sprintf("polling execution %s failed after %d attempt(s)", e.Handle, e.Attempts)
	return withCause(msg, e.Err)
}

func (e *PollingError) Unwrap() error { return e.Err }

// TimeoutError indicates the execution did not reach a terminal state in time.
// The remote execution is left as-is.
type TimeoutError struct {
	Handle    ExecutionHandle
	Waited    time.Duration
	LastState ExecutionState
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution %s still %s after %s", e.Handle, e.LastState, e.Waited)
}

// ExecutionFailedError indicates the service finished the query in the FAILED state.
type ExecutionFailedError struct {
	Handle ExecutionHandle
	Reason string // service-reported reason, verbatim
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("execution %s failed: %s", e.Handle, e.Reason)
}

// ExecutionCancelledError indicates the execution was cancelled externally.
type ExecutionCancelledError struct {
	Handle ExecutionHandle
	Reason string
}

func (e *ExecutionCancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("execution %s was cancelled", e.Handle)
	}
	return fmt.Sprintf("execution %s was cancelled: %s", e.Handle, e.Reason)
}

// PreconditionError indicates a caller contract violation, such as fetching
// an execution that has not succeeded.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return "precondition failed: " + e.Message }

// FetchError indicates the remote result could not be materialized locally.
type FetchError struct {
	Location string
	Message  string
	Err      error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if e.Location != "" {
		msg = fmt.Sprintf("%s (%s)", e.Message, e.Location)
	}
	return withCause("fetch: "+msg, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NotFoundError indicates a remote resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// NotSupportedError indicates the configured service lacks an optional capability.
type NotSupportedError struct {
	Message string
}

func (e *NotSupportedError) Error() string { return e.Message }

// TransientError marks a retryable transport failure. Service adapters wrap
// throttling, 5xx and network errors in it; everything else is permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// ErrPolicyViolation creates a PolicyViolationError.
func ErrPolicyViolation(keyword, format string, args ...interface{}) *PolicyViolationError {
	return &PolicyViolationError{Keyword: keyword, Reason: fmt.Sprintf(format, args...)}
}

// ErrInvalidNamespaceInput creates an InvalidNamespaceInputError.
func ErrInvalidNamespaceInput(field, value, reason string) *InvalidNamespaceInputError {
	return &InvalidNamespaceInputError{Field: field, Value: value, Reason: reason}
}

// ErrPrecondition creates a PreconditionError with a formatted message.
func ErrPrecondition(format string, args ...interface{}) *PreconditionError {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotSupported creates a NotSupportedError with a formatted message.
func ErrNotSupported(format string, args ...interface{}) *NotSupportedError {
	return &NotSupportedError{Message: fmt.Sprintf(format, args...)}
}

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Error kinds reported to callers.
const (
	KindPolicyViolation       = "policy_violation"
	KindInvalidNamespaceInput = "invalid_namespace_input"
	KindSubmission            = "submission_error"
	KindPolling               = "polling_error"
	KindTimeout               = "timeout"
	KindExecutionFailed       = "execution_failed"
	KindExecutionCancelled    = "execution_cancelled"
	KindPrecondition          = "precondition_error"
	KindFetch                 = "fetch_error"
	KindNotFound              = "not_found"
	KindNotSupported          = "not_supported"
	KindInternal              = "internal"
)

// Kind returns the stable kind name of err.
func Kind(err error) string {
	var (
		policy    *PolicyViolationError
		namespace *InvalidNamespaceInputError
		submit    *SubmissionError
		polling   *PollingError
		timeout   *TimeoutError
		failed    *ExecutionFailedError
		cancelled *ExecutionCancelledError
		precond   *PreconditionError
		fetch     *FetchError
		notFound  *NotFoundError
		notSupp   *NotSupportedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &policy):
		return KindPolicyViolation
	case errors.As(err, &namespace):
		return KindInvalidNamespaceInput
	case errors.As(err, &submit):
		return KindSubmission
	case errors.As(err, &polling):
		return KindPolling
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.As(err, &failed):
		return KindExecutionFailed
	case errors.As(err, &cancelled):
		return KindExecutionCancelled
	case errors.As(err, &precond):
		return KindPrecondition
	case errors.As(err, &fetch):
		return KindFetch
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &notSupp):
		return KindNotSupported
	default:
		return KindInternal
	}
}

// Retryable reports whether re-running the same request later may succeed.
// Policy, submission and execution failures need a reformulated query instead.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindTimeout, KindPolling, KindFetch:
		return true
	default:
		return false
	}
}

func withCause(msg string, err error) string {
	if err == nil {
		return msg
	}
	return msg + ": " + err.Error()
}
