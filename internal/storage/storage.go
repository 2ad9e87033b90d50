// Package storage defines the interface for a blob storage backend.
// This abstraction keeps the application independent of a specific
// implementation (e.g., Google Cloud Storage or the local filesystem).
package storage

import (
	"context"
	"io"
)

// BlobStore is the common interface for an artifact blob backend. It
// abstracts the operation of uploading run artifacts such as model
// checkpoints and rollout videos.
type BlobStore interface {
	// PutObject uploads the content under the given object path and
	// returns the URI of the stored object.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOpStore is a blob store that discards everything. It is useful for
// dry runs where artifacts are accepted but not retained.
type NoOpStore struct{}

// PutObject discards the content and returns an empty URI.
func (NoOpStore) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}
