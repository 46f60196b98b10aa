//go:build !cgo || notesseract

package cmd

import (
	"context"
	"errors"
	"testing"

	"certextract/internal/config"
	"certextract/internal/ocr"
)

func TestBuildRecognizerWithoutLibTesseract(t *testing.T) {
	rec, err := buildRecognizer(context.Background(), &config.Config{OCREngine: config.EngineTesseract})
	if !errors.Is(err, ocr.ErrEngineUnavailable) {
		t.Fatalf("buildRecognizer() error = %v, want ErrEngineUnavailable", err)
	}
	if rec != nil {
		t.Fatalf("buildRecognizer() = %v, want nil", rec)
	}
}
