// Package blob stores uploaded audio payloads by generated object key.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object key does not resolve.
var ErrNotFound = errors.New("audio object not found")

// Store saves and serves opaque audio blobs. Keys are generated by the
// caller; the store never interprets them.
type Store interface {
	// Save writes the blob under key. The caller bounds the write with the
	// request context (upload timeout).
	Save(ctx context.Context, key string, r io.Reader) error

	// Open returns a reader for the stored blob. The caller must close it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
