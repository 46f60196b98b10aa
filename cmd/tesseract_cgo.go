//go:build cgo && !notesseract

package cmd

import (
	"certextract/internal/config"
	"certextract/internal/ocr"
	"certextract/internal/ocr/libtesseract"
)

func newLibTesseract(cfg *config.Config) (ocr.TextRecognizer, error) {
	engine, err := libtesseract.New(libtesseract.Config{
		Lang:           cfg.TesseractLang,
		TessdataPrefix: cfg.TessdataPrefix,
		PSM:            cfg.OCRPageSegMode,
	})
	if err != nil {
		return nil, err
	}
	return engine, nil
}
