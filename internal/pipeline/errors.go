package pipeline

import (
	"errors"
	"fmt"
)

// Pipeline failure kinds. Every error returned by Extract matches exactly one
// of these with errors.Is.
var (
	// ErrUnsupportedFormat is returned for documents that are neither PDF nor a supported image.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrRasterizationFailed is returned when PDF pages cannot be rendered.
	ErrRasterizationFailed = errors.New("PDF rasterization failed")

	// ErrRecognitionFailed is returned when the OCR engine fails on a page.
	ErrRecognitionFailed = errors.New("text recognition failed")

	// ErrNoTextExtracted is returned when recognition succeeds but yields no text.
	ErrNoTextExtracted = errors.New("no text could be extracted from the document")
)

// PipelineError carries the failure kind, the stage operation and the
// collaborator error that caused it.
type PipelineError struct {
	// Op is the operation that failed (e.g., "Rasterize", "Recognize").
	Op string

	// Kind is one of the sentinel errors above.
	Kind error

	// Cause is the collaborator error, if any.
	Cause error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("pipeline: %s failed: %v", e.Op, e.Kind)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the failure kind.
func (e *PipelineError) Unwrap() error {
	return e.Kind
}

// Is matches the failure kind or anything in the cause chain, so callers can
// still detect context.Canceled and similar.
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Kind, target) || (e.Cause != nil && errors.Is(e.Cause, target))
}

func newPipelineError(op string, kind, cause error, details string) *PipelineError {
	return &PipelineError{Op: op, Kind: kind, Cause: cause, Details: details}
}
