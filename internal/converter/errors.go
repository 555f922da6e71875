package converter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"frame-converter-go/internal/compressor"
	"frame-converter-go/internal/encoder"
	"frame-converter-go/internal/scanner"
)

// Kind classifies an Error.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindNotFound       Kind = "NotFound"
	KindIO             Kind = "IOError"
	KindEncode         Kind = "EncodeError"
	KindCompression    Kind = "CompressionError"
	KindCancelled      Kind = "Cancelled"
	KindAlreadyRunning Kind = "AlreadyRunning"
	KindInvalidState   Kind = "InvalidState"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrIO             = &Error{Kind: KindIO}
	ErrEncode         = &Error{Kind: KindEncode}
	ErrCompression    = &Error{Kind: KindCompression}
	ErrCancelled      = &Error{Kind: KindCancelled}
	ErrAlreadyRunning = &Error{Kind: KindAlreadyRunning}
	ErrInvalidState   = &Error{Kind: KindInvalidState}
)

// Error is the error type returned by the controller.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func validationErrorf(format string, args ...any) *Error {
	return newError(KindValidation, "validate", fmt.Errorf(format, args...))
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// classify maps an error from the per-format pipeline to a Kind.
func classify(err error) Kind {
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return ""
	case KindOf(err) != "":
		return KindOf(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, encoder.ErrFrameRead), errors.As(err, &pathErr):
		return KindIO
	case errors.Is(err, compressor.ErrRemote), errors.Is(err, compressor.ErrUnsupported):
		return KindCompression
	case errors.Is(err, scanner.ErrNotFound):
		return KindNotFound
	case errors.Is(err, scanner.ErrIO):
		return KindIO
	default:
		return KindEncode
	}
}
