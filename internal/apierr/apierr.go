// Package apierr defines the error taxonomy shared by every broker
// component and the HTTP layer that maps it to status codes.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP-status mapping and propagation policy.
type Kind string

const (
	// Unauthenticated: missing or invalid credential.
	Unauthenticated Kind = "unauthenticated"
	// Forbidden: valid credential, wrong role or owner.
	Forbidden Kind = "forbidden"
	// NotFound: target row absent or invisible to caller.
	NotFound Kind = "not_found"
	// Conflict: optimistic-concurrency loss (claim race, duplicate name, sequence collision).
	Conflict Kind = "conflict"
	// Validation: malformed input.
	Validation Kind = "validation"
	// Transient: datastore or cluster-API failure that is safe to retry.
	Transient Kind = "transient"
	// Fatal: unrecoverable initialization error; the process must not serve traffic.
	Fatal Kind = "fatal"
)

// Error is the concrete error type every Brokkr component returns for
// anything that should cross a component boundary with taxonomy attached.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a Kind-tagged error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a Kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Transient for untagged
// errors so an unexpected failure degrades to "retry" rather than a hard
// 4xx response.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
