// Package document classifies uploaded files and manages the temporary
// on-disk copies handed to external tools.
package document

import (
	"mime"
	"path/filepath"
	"strings"
)

// Format is the processing route for an uploaded document.
type Format string

const (
	FormatPDF         Format = "pdf"
	FormatImage       Format = "image"
	FormatUnsupported Format = "unsupported"
)

// AllowedExtensions lists every accepted file extension, lower case with the dot.
var AllowedExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".tiff", ".bmp"}

var extFormats = map[string]Format{
	".pdf":  FormatPDF,
	".jpg":  FormatImage,
	".jpeg": FormatImage,
	".png":  FormatImage,
	".tiff": FormatImage,
	".bmp":  FormatImage,
}

var contentTypeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"image/jpeg":      FormatImage,
	"image/png":       FormatImage,
	"image/tiff":      FormatImage,
	"image/bmp":       FormatImage,
	"image/x-ms-bmp":  FormatImage,
}

// Detect classifies a file by its name, falling back to the declared content
// type only when the name carries no extension. An extension that is present
// but not allowed is unsupported regardless of the content type.
func Detect(filename, contentType string) Format {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if f, ok := extFormats[ext]; ok {
			return f
		}
		return FormatUnsupported
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatUnsupported
	}
	if f, ok := contentTypeFormats[strings.ToLower(mediaType)]; ok {
		return f
	}
	return FormatUnsupported
}

// ImageFormat returns the encoded image format name implied by a filename or
// content type, e.g. "png" or "jpeg". It returns "" when neither says.
func ImageFormat(filename, contentType string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	case ".tiff":
		return "tiff"
	case ".bmp":
		return "bmp"
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch strings.ToLower(mediaType) {
	case "image/jpeg":
		return "jpeg"
	case "image/png":
		return "png"
	case "image/tiff":
		return "tiff"
	case "image/bmp", "image/x-ms-bmp":
		return "bmp"
	}
	return ""
}
