// Package errors provides the structured error kinds surfaced by the
// transcription pipeline. Kinds classify failures for callers; the Cause
// chain stays reachable through errors.Is/As.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an AppError.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInitialization: capture device or engine unavailable. Fatal to session start.
	KindInitialization
	// KindInvocation: one chunk's engine call failed or timed out.
	KindInvocation
	// KindQueueOverflow: backpressure drop, reported as an event, never fatal.
	KindQueueOverflow
	// KindValidation: a runtime parameter update was rejected.
	KindValidation
	// KindResourceCleanup: a temporary artifact could not be removed.
	KindResourceCleanup
)

var kindNames = map[Kind]string{
	KindUnknown:         "UNKNOWN",
	KindInitialization:  "INITIALIZATION_FAILURE",
	KindInvocation:      "INVOCATION_FAILURE",
	KindQueueOverflow:   "QUEUE_OVERFLOW",
	KindValidation:      "VALIDATION_FAILURE",
	KindResourceCleanup: "RESOURCE_CLEANUP_FAILURE",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// AppError is the base error type with a kind and metadata.
type AppError struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given kind and message.
func New(kind Kind, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(kind Kind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, kind Kind, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable returns true if the error is potentially retryable.
// Only invocation failures qualify; validation and initialization
// failures will not change on a second attempt.
func IsRetryable(err error) bool {
	return IsKind(err, KindInvocation)
}
