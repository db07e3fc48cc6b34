// Package storage abstracts the document blob store. Ticket PDFs are
// opaque blobs here; rendering them is someone else's job.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no blob exists at the given path.
var ErrNotFound = errors.New("blob not found")

// BlobStore is a minimal get/put/delete document store.
type BlobStore interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Put(ctx context.Context, path string, r io.Reader) error
	Delete(ctx context.Context, path string) error
}
