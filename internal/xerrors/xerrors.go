// Package xerrors implements the worker's error-kind taxonomy.
//
// Every component returns an *Error carrying one of the Kind values below
// so the dispatcher can build a terminal error-queue message without
// re-inspecting internal failure details.
package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies which stage of the pipeline produced a failure.
type Kind string

const (
	Download    Kind = "DownloadFailure"
	Decode      Kind = "DecodeFailure"
	OCR         Kind = "OCRFailure"
	Translation Kind = "TranslationFailure" // soft: triggers inpaint-only fallback
	Inpaint     Kind = "InpaintFailure"
	Render      Kind = "RenderFailure"
	Upload      Kind = "UploadFailure"
	Broker      Kind = "BrokerFailure" // retried internally, never surfaced per-request
	Config      Kind = "ConfigFailure" // fatal at startup
)

// Error is the wrapped, kinded error every component surfaces.
type Error struct {
	Kind  Kind
	Stage string
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Stage, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Cause returns the root cause, matching pkg/errors.Cause semantics.
func (e *Error) Cause() error { return errors.Cause(e.cause) }

// New builds a kinded error with no wrapped cause.
func New(kind Kind, stage string) *Error {
	return &Error{Kind: kind, Stage: stage}
}

// Wrap attaches a Kind and stage label to an existing error, preserving
// its stack trace via pkg/errors.
func Wrap(kind Kind, stage string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, cause: errors.WithStack(err)}
}

// Wrapf is Wrap with a formatted stage label.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return Wrap(kind, fmt.Sprintf(format, args...), err)
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it reports ok=false.
func KindOf(err error) (Kind, bool) {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind, true
	}
	return "", false
}

// Message renders the error-queue "error_message" field: "<stage>: <cause>".
func Message(err error) string {
	var xe *Error
	if errors.As(err, &xe) {
		if xe.cause != nil {
			return fmt.Sprintf("%s: %v", xe.Stage, xe.cause)
		}
		return xe.Stage
	}
	return err.Error()
}
