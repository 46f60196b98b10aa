package document

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TempScope owns a uniquely named temporary directory. Everything written
// through it is removed by Close, which is safe to call more than once.
type TempScope struct {
	dir  string
	once sync.Once
	err  error
}

// NewTempScope creates a fresh directory under base (os.TempDir when empty).
func NewTempScope(base, pattern string) (*TempScope, error) {
	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &TempScope{dir: dir}, nil
}

// Dir returns the scope's directory.
func (s *TempScope) Dir() string {
	return s.dir
}

// Path joins name onto the scope's directory.
func (s *TempScope) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// WriteFile stores data under name inside the scope and returns its path.
func (s *TempScope) WriteFile(name string, data []byte) (string, error) {
	path := s.Path(name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write temp file %s: %w", name, err)
	}
	return path, nil
}

// Close removes the directory and its contents.
func (s *TempScope) Close() error {
	s.once.Do(func() {
		s.err = os.RemoveAll(s.dir)
	})
	return s.err
}
