// Package omfile is the public facade: opening a file via a backend,
// navigating its variable tree, and reading or writing typed arrays and
// scalars. Grounded on the teacher's hdf5 package split between a
// read-only File/Dataset facade and the lower-level object/header
// internals, generalized to this container's scalar/array records.
package omfile

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable error taxonomy every operation surfaces.
type ErrorKind int

const (
	// InvalidCompressionType is returned when a variable record names a
	// compression scheme this build does not recognize.
	InvalidCompressionType ErrorKind = iota
	// InvalidDataType is returned when a variable record names a
	// data_type this build does not recognize, or a typed read is
	// attempted against a mismatched data_type.
	InvalidDataType
	// OutOfBoundRead is returned for a sub-cube request beyond the
	// variable's dimensions, or when ChildByName finds no child of that
	// name. A failed backend read, including one past EOF, surfaces as
	// IoError, and a chunk whose decode does not match its LUT slot as
	// DeflatedSizeMismatch.
	OutOfBoundRead
	// NotAnOmFile is returned when both the trailer and the legacy
	// header fail to validate.
	NotAnOmFile
	// DeflatedSizeMismatch is returned when an entropy coder consumes
	// fewer or more bytes than its LUT entry claimed.
	DeflatedSizeMismatch
	// InvalidArgument covers rank mismatches and malformed decoder/
	// encoder init parameters.
	InvalidArgument
	// IoError wraps any error the backend itself returned.
	IoError
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidCompressionType:
		return "InvalidCompressionType"
	case InvalidDataType:
		return "InvalidDataType"
	case OutOfBoundRead:
		return "OutOfBoundRead"
	case NotAnOmFile:
		return "NotAnOmFile"
	case DeflatedSizeMismatch:
		return "DeflatedSizeMismatch"
	case InvalidArgument:
		return "InvalidArgument"
	case IoError:
		return "IoError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the concrete error type every exported operation returns.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("omfile: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("omfile: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapErr(kind ErrorKind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain; ok is false
// when the chain holds no *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
