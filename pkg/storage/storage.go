package storage

import (
	"context"
	"errors"
	"io"
)

// ErrBlobNotFound is returned when a blob key does not resolve.
var ErrBlobNotFound = errors.New("blob not found")

// BlobInfo describes a stored blob.
type BlobInfo struct {
	ID   string
	Size int64
}

// BlobStore persists paper binaries. Implementations must be safe for concurrent use.
type BlobStore interface {
	Put(ctx context.Context, filename, contentType string, r io.Reader) (BlobInfo, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// ReadAll opens the blob and buffers it completely.
func ReadAll(ctx context.Context, store BlobStore, id string) ([]byte, error) {
	rc, err := store.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	return io.ReadAll(rc)
}
