package models

import (
	"time"
	"unicode/utf8"
)

// UploadedDocument is one file received for extraction. It lives for a single request.
type UploadedDocument struct {
	Filename    string // Declared filename from the upload
	ContentType string // Declared content type, may be empty
	Data        []byte // Raw file bytes
}

// Size returns the document size in bytes.
func (d UploadedDocument) Size() int64 {
	return int64(len(d.Data))
}

type PageImage struct {
	Index  int    // Zero-based page position in the source document
	Width  int    // Pixel width, zero when unknown
	Height int    // Pixel height, zero when unknown
	Format string // Encoded image format (png, jpeg, tiff, bmp)
	Data   []byte // Encoded image bytes; empty when the page rendered no image
}

// Empty reports whether the page carries no image to recognize.
func (p PageImage) Empty() bool {
	return len(p.Data) == 0
}

// TextRegion is one recognized word or block with its engine confidence (0.0 to 1.0).
type TextRegion struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
}

// RecognizedText is the OCR output for one PageImage.
type RecognizedText struct {
	PageIndex  int          `json:"page_index"`
	Text       string       `json:"text"`
	Length     int          `json:"length"`
	Confidence float32      `json:"confidence"`
	Regions    []TextRegion `json:"regions,omitempty"`
}

// NewRecognizedText builds a RecognizedText and fills in its length metric.
func NewRecognizedText(pageIndex int, text string, confidence float32, regions []TextRegion) *RecognizedText {
	return &RecognizedText{
		PageIndex:  pageIndex,
		Text:       text,
		Length:     utf8.RuneCountInString(text),
		Confidence: confidence,
		Regions:    regions,
	}
}

// ExtractedMetadata maps field names to values as returned by the field extractor.
type ExtractedMetadata map[string]string

// ExtractResponse is the success body of POST /extract.
type ExtractResponse struct {
	Status              string            `json:"status"`
	Filename            string            `json:"filename"`
	ExtractedTextLength int               `json:"extracted_text_length"`
	Metadata            ExtractedMetadata `json:"metadata"`
	JSONFile            string            `json:"json_file,omitempty"`
}

// ErrorResponse is the failure body of every endpoint.
type ErrorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Stage     string `json:"stage"`
	Detail    string `json:"detail"`
	RequestID string `json:"request_id,omitempty"`
}

// MetadataRecord is what gets archived for each successful extraction.
type MetadataRecord struct {
	Filename            string            `json:"filename"`
	RequestID           string            `json:"request_id"`
	ExtractedAt         time.Time         `json:"extracted_at"`
	OCREngine           string            `json:"ocr_engine"`
	AIProvider          string            `json:"ai_provider"`
	PageCount           int               `json:"page_count"`
	ExtractedTextLength int               `json:"extracted_text_length"`
	Metadata            ExtractedMetadata `json:"metadata"`
}
