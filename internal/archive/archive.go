// Package archive persists the metadata of every successful extraction.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"certextract/pkg/models"
)

// ErrArchiveFailed is returned when a record could not be stored.
var ErrArchiveFailed = errors.New("metadata archive failed")

// Store saves a record and reports where it went.
type Store interface {
	Save(ctx context.Context, rec models.MetadataRecord) (location string, err error)
}

// ArchiveError wraps errors with the store operation that failed.
type ArchiveError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *ArchiveError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("archive: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("archive: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Is matches ErrArchiveFailed and the underlying error.
func (e *ArchiveError) Is(target error) bool {
	return target == ErrArchiveFailed || errors.Is(e.Err, target)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectName is the file or object name used for rec, e.g.
// metadata_diploma_5f1c....json.
func ObjectName(rec models.MetadataRecord) string {
	base := filepath.Base(rec.Filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Trim(unsafeChars.ReplaceAllString(stem, "_"), "_.")
	if stem == "" {
		stem = "document"
	}
	if rec.RequestID == "" {
		return fmt.Sprintf("metadata_%s.json", stem)
	}
	return fmt.Sprintf("metadata_%s_%s.json", stem, rec.RequestID)
}

// Multi saves to every store in order. The location of the first store is
// reported; every failure is collected.
type Multi []Store

// Save implements Store.
func (m Multi) Save(ctx context.Context, rec models.MetadataRecord) (string, error) {
	var (
		location string
		errs     []error
	)
	for _, s := range m {
		loc, err := s.Save(ctx, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if location == "" {
			location = loc
		}
	}
	return location, errors.Join(errs...)
}
