package sog

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned, wrapped in an *Error, when the progress callback asks the
// pipeline to stop.
var ErrCancelled = errors.New("export cancelled")

// Kind classifies export failures.
type Kind uint8

const (
	// ValidationError means the input cannot be encoded, e.g., it has no splats.
	ValidationError Kind = iota + 1

	// CodecError means a raster or metadata document could not be encoded.
	CodecError

	// IOError means the output sink could not be opened, written or closed.
	IOError

	// Cancelled means the progress callback returned false.
	Cancelled

	// InternalError wraps unexpected faults, including recovered panics.
	InternalError
)

func (k Kind) String() string {
	switch k {
	case ValidationError:
		return "validation error"
	case CodecError:
		return "codec error"
	case IOError:
		return "I/O error"
	case Cancelled:
		return "cancelled"
	case InternalError:
		return "internal error"
	default:
		return fmt.Sprintf("unknown error kind %d", k)
	}
}

// Error is the error type returned by Write.
type Error struct {
	Kind  Kind
	State State // stage in which the failure occurred
	Err   error
}

func (e *Error) Error() string {
	if e.Kind == Cancelled {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("SOG export failed (%s during %s): %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCancelled returns true if err reports a cancelled export.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// KindOf returns the failure kind of an error returned by Write, or 0 if err is nil or
// not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
