package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"certextract/pkg/models"
)

// LocalStore writes one indented JSON file per record into a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	const op = "NewLocalStore"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ArchiveError{Op: op, Err: err, Details: dir}
	}
	return &LocalStore{dir: dir}, nil
}

// Save implements Store. The file is written under a temporary name and
// renamed so readers never see a partial record.
func (s *LocalStore) Save(ctx context.Context, rec models.MetadataRecord) (string, error) {
	const op = "LocalStore.Save"

	if err := ctx.Err(); err != nil {
		return "", &ArchiveError{Op: op, Err: err}
	}

	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return "", &ArchiveError{Op: op, Err: err, Details: "encode record"}
	}

	path := filepath.Join(s.dir, ObjectName(rec))
	tmp, err := os.CreateTemp(s.dir, ".metadata-*")
	if err != nil {
		return "", &ArchiveError{Op: op, Err: err, Details: s.dir}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return "", &ArchiveError{Op: op, Err: err, Details: tmp.Name()}
	}
	if err := tmp.Close(); err != nil {
		return "", &ArchiveError{Op: op, Err: err, Details: tmp.Name()}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", &ArchiveError{Op: op, Err: err, Details: path}
	}

	return path, nil
}
