package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStorage persists blobs on disk under a base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Put streams r into a new file named after a fresh UUID, keeping the original extension.
func (s *LocalStorage) Put(ctx context.Context, filename, _ string, r io.Reader) (BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return BlobInfo{}, err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	id := uuid.NewString() + ext
	path := s.resolve(id)

	file, err := os.Create(path)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("create blob file: %w", err)
	}
	n, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return BlobInfo{}, fmt.Errorf("write blob stream: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return BlobInfo{}, fmt.Errorf("close blob file: %w", closeErr)
	}
	return BlobInfo{ID: id, Size: n}, nil
}

// Open returns a read-only handle for the stored blob.
func (s *LocalStorage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validLocalID(id) {
		return nil, ErrBlobNotFound
	}
	file, err := os.Open(s.resolve(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("open blob file: %w", err)
	}
	return file, nil
}

// Delete removes a stored blob if present.
func (s *LocalStorage) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validLocalID(id) {
		return ErrBlobNotFound
	}
	if err := os.Remove(s.resolve(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete blob file: %w", err)
	}
	return nil
}

func (s *LocalStorage) resolve(id string) string {
	return filepath.Join(s.baseDir, id)
}

// Blob ids never contain path separators; this keeps reads inside baseDir.
func validLocalID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
