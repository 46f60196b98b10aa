// Package ocr turns page images into text.
//
// Every engine implements TextRecognizer. An engine is built once at process
// start and shared by all requests; engines that cannot serve concurrent calls
// serialize them internally, so callers may invoke Recognize from many
// goroutines.
//
// Engines:
//   - tesseract: libtesseract through gosseract (see package libtesseract)
//   - tesseract-cli: the tesseract binary, one process per page
//   - vision: Google Cloud Vision DOCUMENT_TEXT_DETECTION
//   - documentai: Google Document AI OCR processor
//
// Cloud engines read GOOGLE_CREDENTIALS (inline JSON) or
// GOOGLE_APPLICATION_CREDENTIALS (file path) and fall back to application
// default credentials.
package ocr

import (
	"context"

	"certextract/pkg/models"
)

// TextRecognizer extracts text from a single image.
type TextRecognizer interface {
	// Recognize returns the text found on the page. An image without text is
	// not an error: the result simply carries an empty Text.
	Recognize(ctx context.Context, page models.PageImage) (*models.RecognizedText, error)

	// Name identifies the engine in logs and health output.
	Name() string

	// Close releases engine resources.
	Close() error
}

// averageConfidence returns the mean region confidence, or zero without regions.
func averageConfidence(regions []models.TextRegion) float32 {
	if len(regions) == 0 {
		return 0
	}
	var sum float32
	for _, r := range regions {
		sum += r.Confidence
	}
	return sum / float32(len(regions))
}
