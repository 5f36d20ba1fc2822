package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/blitter/internal/blit"
)

// Error represents a failed engine operation.
//
// Error carries structured fields for diagnostics. Callers test the category
// with the IsXxx helpers, which see through wrapping.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ContextID identifies the affected context, if any.
	ContextID blit.ContextID

	// JobID identifies the affected job, if any.
	JobID string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInvalidContext indicates an unknown or released context handle.
	ErrCodeInvalidContext ErrorCode = "INVALID_CONTEXT"

	// ErrCodeInvalidArgument indicates a malformed descriptor, region or range.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeBusy indicates the engine cannot honour the request right now.
	ErrCodeBusy ErrorCode = "BUSY"

	// ErrCodeTimeout indicates a bounded wait elapsed.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeResourceExhausted indicates an admission or quota limit was hit.
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// ErrCodeHardwareFault indicates a device, cache or power collaborator failed.
	ErrCodeHardwareFault ErrorCode = "HARDWARE_FAULT"

	// ErrCodeClosed indicates the engine has been shut down.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ContextID != "" {
		msg += fmt.Sprintf(" (context=%s)", e.ContextID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsInvalidContext returns true if err reports an unknown context.
func IsInvalidContext(err error) bool { return hasCode(err, ErrCodeInvalidContext) }

// IsInvalidArgument returns true if err reports malformed input.
func IsInvalidArgument(err error) bool { return hasCode(err, ErrCodeInvalidArgument) }

// IsBusy returns true if err reports a busy engine.
func IsBusy(err error) bool { return hasCode(err, ErrCodeBusy) }

// IsTimeout returns true if err reports an elapsed wait.
func IsTimeout(err error) bool { return hasCode(err, ErrCodeTimeout) }

// IsResourceExhausted returns true if err reports an exhausted limit.
// Matches both Error with ErrCodeResourceExhausted and QuotaExceededError.
func IsResourceExhausted(err error) bool {
	if hasCode(err, ErrCodeResourceExhausted) {
		return true
	}
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// IsHardwareFault returns true if err reports a collaborator failure.
func IsHardwareFault(err error) bool { return hasCode(err, ErrCodeHardwareFault) }

// IsClosed returns true if err reports a closed engine.
func IsClosed(err error) bool { return hasCode(err, ErrCodeClosed) }

func invalidContext(id blit.ContextID) *Error {
	return &Error{Code: ErrCodeInvalidContext, Message: "unknown context", ContextID: id}
}

func invalidArgument(id blit.ContextID, msg string, cause error) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: msg, ContextID: id, Err: cause}
}

func hardwareFault(id blit.ContextID, jobID, msg string, cause error) *Error {
	return &Error{Code: ErrCodeHardwareFault, Message: msg, ContextID: id, JobID: jobID, Err: cause}
}

func closedError() *Error {
	return &Error{Code: ErrCodeClosed, Message: "engine is closed"}
}
