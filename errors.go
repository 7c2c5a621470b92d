package jobwatch

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by [Handle.Wait] when the handle was cancelled,
// or its context ended, before reaching a terminal state.
var ErrCancelled = errors.New("jobwatch: cancelled")

// contactSupportThreshold is the consecutive-failure count at which callers
// should offer a support contact instead of another retry.
const contactSupportThreshold = 3

// ErrorKind classifies a terminal failure.
type ErrorKind string

const (
	// KindStart means the start request failed. No polling took place.
	KindStart ErrorKind = "start"

	// KindRepeatedFailure means recoverable poll failures hit the retry limit.
	KindRepeatedFailure ErrorKind = "repeated_failure"

	// KindExpired means the server reported the job as gone (410).
	KindExpired ErrorKind = "expired"

	// KindNotFound means the server does not know the job (404).
	KindNotFound ErrorKind = "not_found"

	// KindRateLimited means the server refused the poll (429).
	KindRateLimited ErrorKind = "rate_limited"

	// KindTimeout means the server signalled a request timeout (408).
	KindTimeout ErrorKind = "timeout"

	// KindBudgetExhausted means the poll budget ran out while the job was
	// still processing.
	KindBudgetExhausted ErrorKind = "budget_exhausted"

	// KindFailed means the server reported the job itself as failed.
	KindFailed ErrorKind = "failed"

	// KindResponseTooLarge means a status response exceeded the size limit
	// set by [WithMaxResponseSize]. Polling again would return the same body.
	KindResponseTooLarge ErrorKind = "response_too_large"
)

// Error describes a terminal failure delivered to error callbacks and
// returned from [Handle.Wait].
//
// Use errors.As to inspect it:
//
//	var jerr *jobwatch.Error
//	if errors.As(err, &jerr) && !jerr.RetryOffered() {
//	    // hide the retry button
//	}
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// State is the terminal state reached: [StateError] or [StateTimeout].
	State State

	// Message is a human-readable description.
	Message string

	// StatusCode is the HTTP status that triggered the failure, or zero.
	StatusCode int

	// Failures is the consecutive-failure count at escalation.
	Failures int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// RetryOffered reports whether the caller should offer a fresh attempt.
// Rate-limited failures suppress the retry affordance.
func (e *Error) RetryOffered() bool {
	return e.Kind != KindRateLimited
}

// ContactSupport reports whether repeated failures crossed the threshold
// at which a support contact should be suggested.
func (e *Error) ContactSupport() bool {
	return e.Failures >= contactSupportThreshold
}

func newStartError(statusCode int, err error) *Error {
	msg := "failed to start job"
	if statusCode != 0 {
		msg = fmt.Sprintf("failed to start job (HTTP %d)", statusCode)
	}
	return &Error{
		Kind:       KindStart,
		State:      StateError,
		Message:    msg,
		StatusCode: statusCode,
		Err:        err,
	}
}
