package llmclient

import "errors"

// TransientError marks an error that may succeed on retry. Mirrors the
// teacher's llm/errors.go wrapper pair; Execute wraps its spawn,
// timeout, non-zero-exit and empty-output *Error values in it.
type TransientError struct{ err error }

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error { return &TransientError{err: err} }

// FatalError marks an error that should not be retried.
type FatalError struct{ err error }

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error { return &FatalError{err: err} }

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// Error is the typed error every LLM CLI invocation may return: timeout,
// non-zero exit, empty output, or a max-turns subtype. It always carries
// whatever partial result and session id were known at failure time so
// the caller can resume or diagnose.
type Error struct {
	Message   string
	Partial   string
	SessionID string
}

func (e *Error) Error() string { return e.Message }

// NewError constructs an *Error, the LlmError of spec.md §4.2.
func NewError(message, partial, sessionID string) *Error {
	return &Error{Message: message, Partial: partial, SessionID: sessionID}
}
