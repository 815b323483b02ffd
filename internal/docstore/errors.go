package docstore

import (
	"errors"
	"fmt"
)

// Kind classifies a store failure so callers never inspect error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindUnavailable
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindUnavailable:
		return "unavailable"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is returned by every Store operation. Path is the document the
// failure refers to, which for NotFound may be an ancestor of the target.
type Error struct {
	Kind Kind
	Op   string
	Path Path
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("docstore: %s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("docstore: %s %s: %s", e.Op, e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// PathOf returns the path carried by err, or "".
func PathOf(err error) Path {
	var se *Error
	if errors.As(err, &se) {
		return se.Path
	}
	return ""
}

func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsAlreadyExists(err error) bool { return KindOf(err) == KindAlreadyExists }

func newError(kind Kind, op string, p Path, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: p, Err: err}
}
