// ABOUTME: Typed error kinds shared across all core components
// ABOUTME: Classifies sentinel errors from internal/store and friends into a small closed set

package coreerr

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/claude-slack/internal/store"
)

// Kind is a closed classification of why an operation failed, independent
// of which component produced the error. The facade maps every error it
// surfaces to external collaborators through Of, so callers never need to
// know which package's sentinel they're looking at.
type Kind string

const (
	BadRequest    Kind = "bad_request"
	NotFound      Kind = "not_found"
	NotAuthorized Kind = "not_authorized"
	Conflict      Kind = "conflict"
	Invariant     Kind = "invariant"
	Cancelled     Kind = "cancelled"
	Unavailable   Kind = "unavailable"
	Internal      Kind = "internal"
)

// Error wraps a Kind, the entity the operation concerned, a human message,
// and the underlying cause (if any).
type Error struct {
	Kind    Kind
	Entity  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error carrying cause as its Unwrap target.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithEntity returns a copy of e with Entity set, for call sites that learn
// the entity only after construction.
func (e *Error) WithEntity(entity string) *Error {
	clone := *e
	clone.Entity = entity
	return &clone
}

// Is reports whether Of(err) is kind: the kind of the outermost *Error in
// err's chain, or else the classification of the store sentinel it wraps.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// Of classifies any error — a *coreerr.Error or a plain sentinel from
// internal/store — into a Kind. This mirrors the teacher's call sites that
// do errors.Is(err, store.ErrNotFound) directly, just with a kind
// projection added at the boundary so the facade never special-cases a
// component's sentinel by hand.
func Of(err error) Kind {
	if err == nil {
		return ""
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return NotFound
	case errors.Is(err, store.ErrConflict):
		return Conflict
	case errors.Is(err, store.ErrInvariant):
		return Invariant
	case errors.Is(err, store.ErrNotAuthorized):
		return NotAuthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Cancelled
	}

	return Internal
}

// WrapContext classifies ctx.Err() (context.Canceled or
// context.DeadlineExceeded) into the Cancelled kind.
func WrapContext(err error) *Error {
	return Wrap(Cancelled, err, "context ended: %v", err)
}
