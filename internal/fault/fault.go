package fault

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Kind classifies an error for callers that need to branch on failure
// category (HTTP status mapping, retryability, stage failure recording).
type Kind string

const (
	// KindValidation marks malformed or missing input to an operation.
	KindValidation Kind = "validation"
	// KindExternal marks a failure of an external capability (extraction,
	// search, delivery). The underlying cause is wrapped.
	KindExternal Kind = "external_capability"
	// KindPrecondition marks an operation attempted out of order, e.g. a
	// send with zero approvals or a stage whose predecessor is incomplete.
	KindPrecondition Kind = "precondition_failed"
	// KindConflict marks a stage re-entry attempted while the stage is
	// already in progress.
	KindConflict Kind = "concurrent_modification"
	// KindNotFound marks a missing entity.
	KindNotFound Kind = "not_found"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a fresh message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: eris.New(msg)}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// Wrap classifies an existing error, preserving its chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: eris.Wrap(err, msg)}
}

// KindOf returns the kind of the first classified error in the chain, or
// the empty string when the error carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
