package fields

import (
	"errors"
	"fmt"
)

// Common field extraction errors
var (
	// ErrExtractionFailed is returned when the AI provider call fails.
	ErrExtractionFailed = errors.New("field extraction failed")

	// ErrInvalidResponse is returned when the provider answer holds no usable fields.
	ErrInvalidResponse = errors.New("invalid field extraction response")

	// ErrMissingCredentials is returned when the provider has no API key or project configured.
	ErrMissingCredentials = errors.New("missing AI provider credentials")

	// ErrInvalidCatalog is returned when a field catalog cannot be loaded.
	ErrInvalidCatalog = errors.New("invalid field catalog")
)

// FieldError wraps errors with additional context about the extraction failure.
type FieldError struct {
	// Op is the operation that failed (e.g., "ExtractFields", "LoadCatalog").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("fields: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("fields: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *FieldError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFieldError creates a new FieldError.
func NewFieldError(op string, err error, details string) *FieldError {
	return &FieldError{Op: op, Err: err, Details: details}
}
