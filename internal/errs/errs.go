// Package errs defines the closed set of error kinds used across the
// module (SPEC_FULL §7). Every fallible operation returns one of these
// kinds wrapped around an underlying cause, so callers can branch on
// errors.Is against the sentinel Kind values instead of string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a tag identifying why an operation failed.
type Kind string

const (
	// InputInvalid marks a syntactically invalid request (e.g. a malformed
	// identifier). Never retried; surfaced directly to the caller.
	InputInvalid Kind = "input_invalid"
	// ExternalUnavailable marks a transport-level failure talking to an
	// external collaborator (extractor, transcoder, provider, note store).
	ExternalUnavailable Kind = "external_unavailable"
	// ExternalRejected marks a non-retriable rejection from an external
	// collaborator (a 4xx other than 429, or a malformed response).
	ExternalRejected Kind = "external_rejected"
	// ResourceExhausted marks a local resource limit being hit (a full
	// client queue, a failed capture write).
	ResourceExhausted Kind = "resource_exhausted"
	// StateConflict marks an attempted transition that the current state
	// forbids (e.g. enqueueing over a non-terminal job).
	StateConflict Kind = "state_conflict"
	// Internal marks a programmer error or unexpected panic recovered at a
	// goroutine boundary.
	Internal Kind = "internal"
)

// Error wraps an underlying error with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, errs.ErrStateConflict) style checks work against the
// sentinel values below.
func (e *Error) Is(target error) bool {
	var k *Error
	if errors.As(target, &k) {
		return e.Kind == k.Kind
	}
	return false
}

// New constructs an Error for op with the given kind, wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf constructs an Error for op with the given kind from a formatted message.
func Newf(op string, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err, or Internal if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsRetriable reports whether an error of this kind should be retried by the
// job engine (§4.4): external_unavailable is retriable, external_rejected is
// not, everything else is treated as non-retriable by default.
func IsRetriable(err error) bool {
	return KindOf(err) == ExternalUnavailable
}

// Sentinel instances for errors.Is comparisons where no extra context is
// needed.
var (
	ErrStateConflict       = &Error{Kind: StateConflict, Op: "generic"}
	ErrInputInvalid        = &Error{Kind: InputInvalid, Op: "generic"}
	ErrExternalUnavailable = &Error{Kind: ExternalUnavailable, Op: "generic"}
	ErrExternalRejected    = &Error{Kind: ExternalRejected, Op: "generic"}
	ErrResourceExhausted   = &Error{Kind: ResourceExhausted, Op: "generic"}
	ErrInternal            = &Error{Kind: Internal, Op: "generic"}
)
