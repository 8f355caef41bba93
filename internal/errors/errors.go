// Package errors provides the error taxonomy used across the indexer.
//
// Every failure surfaced by the storage, ingestion, and HTTP layers is
// tagged with a Kind so callers branch on intent instead of matching
// message strings. Errors wrap their cause and participate in the
// standard errors.Is/As chains.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for control flow and HTTP mapping.
type Kind string

const (
	// KindNotFound signals a missing run, part, queue entry, or source.
	KindNotFound Kind = "not_found"

	// KindValidation signals malformed input: bad scope, bad glob, bad id.
	KindValidation Kind = "validation"

	// KindConflict signals a duplicate registration or an illegal state
	// transition, such as mutating a terminal run.
	KindConflict Kind = "conflict"

	// KindExtractionSkipped signals that no extractor accepted a document.
	// It is a normal outcome, not a failure of the run.
	KindExtractionSkipped Kind = "extraction_skipped"

	// KindTransient signals a retryable failure of an external dependency.
	KindTransient Kind = "transient"

	// KindFatal signals an unrecoverable failure that terminates the run.
	KindFatal Kind = "fatal"
)

// Error is the kind-tagged error type.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches two tagged errors by kind. This enables
// errors.Is(err, &Error{Kind: KindNotFound}) style checks.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind and a context message.
// A nil cause yields nil.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound creates a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Validation creates a KindValidation error.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// Conflict creates a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// ExtractionSkipped creates a KindExtractionSkipped error.
func ExtractionSkipped(format string, args ...any) *Error {
	return New(KindExtractionSkipped, format, args...)
}

// Transient creates a KindTransient error.
func Transient(format string, args ...any) *Error {
	return New(KindTransient, format, args...)
}

// Fatal creates a KindFatal error.
func Fatal(format string, args ...any) *Error {
	return New(KindFatal, format, args...)
}

// KindOf extracts the kind from an error chain. Untagged errors
// classify as KindFatal, the conservative default.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error is worth retrying.
// Only transient errors qualify.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// HTTPStatus maps an error kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return 404
	case KindValidation:
		return 400
	case KindConflict:
		return 409
	case KindExtractionSkipped:
		return 422
	case KindTransient:
		return 503
	default:
		return 500
	}
}
