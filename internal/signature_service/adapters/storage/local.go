package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage serves document content from a directory on disk.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates storage rooted at baseDir. An empty baseDir serves
// absolute paths as-is.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{baseDir: baseDir}
}

// Open returns readable content for the stored document.
func (s *LocalStorage) Open(ctx context.Context, filePath string) (io.ReadCloser, error) {
	path := filePath
	if s.baseDir != "" {
		path = filepath.Join(s.baseDir, filepath.Clean("/"+filePath))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening document %s: %w", filePath, err)
	}
	return f, nil
}
