package storage

import (
	"context"
	"io"
)

// ObjectStorage abstracts where derived files such as thumbnails live:
// a local directory for desktop setups or an S3-compatible bucket.
type ObjectStorage interface {
	// Upload writes an object under the given key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns an access URL for the object.
	GetURL(key string) string

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)
}
