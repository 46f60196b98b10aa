package rasterize

import (
	"errors"
	"fmt"
)

var (
	// ErrRasterizationFailed is returned when pdftoppm cannot render the document.
	ErrRasterizationFailed = errors.New("PDF rasterization failed")

	// ErrInvalidPDF is returned when the data does not carry a PDF header.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")
)

// RasterizeError wraps rasterization failures with the operation and context.
type RasterizeError struct {
	Op      string
	Err     error
	Details string
}

func (e *RasterizeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("rasterize: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("rasterize: %s failed: %v", e.Op, e.Err)
}

func (e *RasterizeError) Unwrap() error {
	return e.Err
}

func (e *RasterizeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newRasterizeError(op string, err error, details string) *RasterizeError {
	return &RasterizeError{Op: op, Err: err, Details: details}
}
