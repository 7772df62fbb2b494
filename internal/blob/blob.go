// Package blob archives uploaded spreadsheets so the original file can be
// re-downloaded after ingest. Two drivers: a local filesystem directory and
// an S3-compatible bucket.
package blob

import (
	"context"
	"io"
)

// Storage persists uploaded files under generated object names.
type Storage interface {
	// Put stores the object and returns a stable URL for it.
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	// Open returns the object's content. The caller closes the reader.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Exists reports whether the object is present.
	Exists(ctx context.Context, name string) (bool, error)
}
