// Package ragerr models pipeline failures as a small sum of kinds so callers
// can pattern-match instead of parsing messages.
package ragerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure: policy violations, missing rows, bad input,
// flaky external dependencies, integrity problems, and fatal errors. The
// cmd/ragd handlers do not map kinds to distinct HTTP status codes; they
// answer 400 or 500.
type Kind int

const (
	Fatal Kind = iota
	Policy
	NotFound
	Validation
	TransientExternal
	DataIntegrity
)

func (k Kind) String() string {
	switch k {
	case Policy:
		return "policy"
	case NotFound:
		return "not_found"
	case Validation:
		return "validation"
	case TransientExternal:
		return "transient_external"
	case DataIntegrity:
		return "data_integrity"
	default:
		return "fatal"
	}
}

// Error wraps an underlying error with a Kind and the operation it occurred
// in, e.g. "embed:qdrant_upsert".
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

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Fatal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}
