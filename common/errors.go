// Package common - Error kinds shared by every stage of a classification run.
package common

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Every failure surfaced by the provisioner, the runner or the
// argument resolver matches exactly one of these through errors.Is.
var (
	// ErrArgument reports malformed command line input.
	ErrArgument = errors.New("invalid argument")
	// ErrNotFound reports a model, sample or engine file that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIO reports an engine or cache file that could not be read or written.
	ErrIO = errors.New("i/o failure")
	// ErrDeserialization reports engine bytes the runtime refused to load.
	ErrDeserialization = errors.New("engine deserialization failed")
	// ErrBuild reports a model the runtime refused to parse or compile.
	ErrBuild = errors.New("engine build failed")
	// ErrShape reports a model whose tensors do not fit the classifier contract.
	ErrShape = errors.New("unexpected tensor shape")
	// ErrExecution reports a failed forward pass.
	ErrExecution = errors.New("execution failed")
)

var kinds = []error{
	ErrArgument,
	ErrNotFound,
	ErrIO,
	ErrDeserialization,
	ErrBuild,
	ErrShape,
	ErrExecution,
}

// kindError attaches a kind to a cause while keeping the cause's message.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%v: %v", e.kind, e.cause)
}

func (e *kindError) Unwrap() error { return e.cause }

func (e *kindError) Is(target error) bool { return target == e.kind }

// Cause returns the wrapped error for github.com/pkg/errors.Cause.
func (e *kindError) Cause() error { return e.cause }

// WithKind tags err with kind. An error that already carries a kind keeps it,
// so the first classification along the call chain wins.
//
// Arguments:
//   - kind: One of the Err* kinds declared in this package.
//   - err: The error to classify.
//
// Returns:
//   - error: nil when err is nil, otherwise an error matching kind.
func WithKind(kind error, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	return &kindError{kind: kind, cause: err}
}

// Errorf builds a new error of the given kind.
func Errorf(kind error, format string, args ...interface{}) error {
	return &kindError{kind: kind, cause: errors.Errorf(format, args...)}
}

// Wrapf classifies err with kind and annotates it with a message.
func Wrapf(kind error, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return WithKind(kind, errors.Wrapf(err, format, args...))
}

// KindOf returns the kind carried by err, or nil when err is unclassified.
func KindOf(err error) error {
	for _, kind := range kinds {
		if stderrors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
