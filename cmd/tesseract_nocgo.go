//go:build !cgo || notesseract

package cmd

import (
	"certextract/internal/config"
	"certextract/internal/ocr"
)

func newLibTesseract(*config.Config) (ocr.TextRecognizer, error) {
	return nil, ocr.NewOCRError("newLibTesseract", ocr.ErrEngineUnavailable,
		"binary built without libtesseract (cgo disabled or notesseract tag), use OCR_ENGINE=tesseract-cli")
}
