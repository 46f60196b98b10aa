package server

import (
	"errors"
	"net/http"

	"certextract/internal/fields"
	"certextract/internal/pipeline"
)

// Request validation errors raised by the handler itself.
var (
	// ErrInvalidRequest is returned for malformed multipart bodies or a missing file part.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrOversizedFile is returned when the upload exceeds the size limit.
	ErrOversizedFile = errors.New("file too large")

	// ErrNotReady is returned when a collaborator failed to initialize at startup.
	ErrNotReady = errors.New("service not ready")
)

// Kind names a failure class in error responses.
type Kind string

const (
	KindInvalidRequest        Kind = "InvalidRequest"
	KindUnsupportedFormat     Kind = "UnsupportedFormat"
	KindOversizedFile         Kind = "OversizedFile"
	KindNoTextExtracted       Kind = "NoTextExtracted"
	KindRasterizationFailed   Kind = "RasterizationFailed"
	KindRecognitionFailed     Kind = "RecognitionFailed"
	KindFieldExtractionFailed Kind = "FieldExtractionFailed"
	KindInternalError         Kind = "InternalError"
)

// Stages reported alongside a failure.
const (
	StageValidation      = "validation"
	StageRasterization   = "rasterization"
	StageOCR             = "ocr"
	StageFieldExtraction = "field_extraction"
	StageInternal        = "internal"
)

type failure struct {
	kind   Kind
	status int
	stage  string
}

// classify maps an error from any stage onto exactly one failure class.
func classify(err error) failure {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return failure{KindInvalidRequest, http.StatusBadRequest, StageValidation}
	case errors.Is(err, pipeline.ErrUnsupportedFormat):
		return failure{KindUnsupportedFormat, http.StatusBadRequest, StageValidation}
	case errors.Is(err, ErrOversizedFile):
		return failure{KindOversizedFile, http.StatusBadRequest, StageValidation}
	case errors.Is(err, pipeline.ErrNoTextExtracted):
		return failure{KindNoTextExtracted, http.StatusBadRequest, StageOCR}
	case errors.Is(err, pipeline.ErrRasterizationFailed):
		return failure{KindRasterizationFailed, http.StatusInternalServerError, StageRasterization}
	case errors.Is(err, pipeline.ErrRecognitionFailed):
		return failure{KindRecognitionFailed, http.StatusInternalServerError, StageOCR}
	case errors.Is(err, fields.ErrExtractionFailed), errors.Is(err, fields.ErrInvalidResponse):
		return failure{KindFieldExtractionFailed, http.StatusInternalServerError, StageFieldExtraction}
	default:
		return failure{KindInternalError, http.StatusInternalServerError, StageInternal}
	}
}
