package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"certextract/internal/document"
	"certextract/internal/pipeline"
	"certextract/pkg/models"
)

const (
	fileField = "file"

	// multipartOverhead allows for part headers and boundaries on top of the file.
	multipartOverhead = 1 << 20
)

// readUpload streams the multipart body to the "file" part. The format is
// checked from the part headers before any file content is read, and the
// size check stops reading one byte past the limit.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (models.UploadedDocument, error) {
	var doc models.UploadedDocument

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return doc, fmt.Errorf("%w: expected a multipart/form-data body: %v", ErrInvalidRequest, err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return doc, fmt.Errorf("%w: missing %q file field", ErrInvalidRequest, fileField)
		}
		if err != nil {
			return doc, bodyError(err, maxBytes)
		}
		if part.FormName() != fileField {
			part.Close()
			continue
		}

		doc.Filename = part.FileName()
		doc.ContentType = part.Header.Get("Content-Type")

		if document.Detect(doc.Filename, doc.ContentType) == document.FormatUnsupported {
			part.Close()
			return doc, fmt.Errorf("%w: %q, allowed extensions: %s",
				pipeline.ErrUnsupportedFormat, doc.Filename, strings.Join(document.AllowedExtensions, ", "))
		}

		data, err := io.ReadAll(io.LimitReader(part, maxBytes+1))
		part.Close()
		if err != nil {
			return doc, bodyError(err, maxBytes)
		}
		if int64(len(data)) > maxBytes {
			return doc, fmt.Errorf("%w: limit is %d bytes", ErrOversizedFile, maxBytes)
		}
		if len(data) == 0 {
			return doc, fmt.Errorf("%w: uploaded file is empty", ErrInvalidRequest)
		}

		doc.Data = data
		return doc, nil
	}
}

func bodyError(err error, maxBytes int64) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit is %d bytes", ErrOversizedFile, maxBytes)
	}
	return fmt.Errorf("%w: reading multipart body: %v", ErrInvalidRequest, err)
}
