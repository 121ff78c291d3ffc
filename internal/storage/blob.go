package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by BlobStore.GetObject for missing paths.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore holds snapshot objects outside the frontier backend.
type BlobStore interface {
	// PutObject writes r to path and returns the object's URI.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}
