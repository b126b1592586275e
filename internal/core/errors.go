// Package core holds the types and error vocabulary shared by every
// lobby-broker component (catalog, queue, manifest, dispatcher, ...).
package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way spec.md §7 requires: callers switch on
// Kind rather than inspecting error strings, so Cancelled/Gone/Corrupt are
// distinguishable without string matching.
type Kind string

const (
	// KindConfig is a missing or invalid environment/file; fatal at startup.
	KindConfig Kind = "config"
	// KindTransient is a network/database hiccup; retried with backoff.
	KindTransient Kind = "transient"
	// KindNotFound is an unknown job, room, world, or version.
	KindNotFound Kind = "not_found"
	// KindConflict is a duplicate active generation or a stale lease.
	KindConflict Kind = "conflict"
	// KindUnauthorized is a bad or missing bearer token; never consumes state.
	KindUnauthorized Kind = "unauthorized"
	// KindCorrupt is a blob digest mismatch after one retry; fatal for the job.
	KindCorrupt Kind = "corrupt"
	// KindInternal is a bug; surfaces as 5xx plus a structured event.
	KindInternal Kind = "internal"
)

// Error is the sum-typed result spec.md's Design Notes call for in place of
// exception-like propagation. It wraps an underlying cause while exposing a
// stable Kind for callers to branch on.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "queue.reserve"
	Cause   error
	Message string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, core.NewError(kind, "", "", nil)) matches any error of that
// Kind; IsKind is the shorter form of the same check.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewError constructs a classified error.
func NewError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause, Message: message}
}

// KindOf extracts the Kind from err, defaulting to KindInternal for errors
// that were never classified (a bug surfaced through an unwrapped path).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}

// IsKind reports whether err (or anything it wraps) classifies as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
