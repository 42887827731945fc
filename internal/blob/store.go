// Package blob provides durable, byte-addressable storage for raw file
// content. Blobs are referenced by opaque handles and carry no knowledge
// of ownership, paths or upload sessions.
package blob

import "context"

// Store defines the blob store contract used by the upload service.
//
// Writes at an offset beyond the current size zero-fill the gap. All
// operations return apperrors.ErrBlobNotFound when the handle is unknown
// or already deleted.
type Store interface {
	// Create allocates a new empty blob and returns its handle
	Create(ctx context.Context) (string, error)

	// WriteAt writes data into the blob at the given byte offset
	WriteAt(ctx context.Context, handle string, offset int64, data []byte) error

	// ReadAt reads up to length bytes starting at offset. It returns fewer
	// bytes than requested at end-of-blob and an empty slice at or past it.
	ReadAt(ctx context.Context, handle string, offset int64, length int) ([]byte, error)

	// Size returns the current stored size of the blob in bytes
	Size(ctx context.Context, handle string) (int64, error)

	// Delete removes the blob and invalidates its handle
	Delete(ctx context.Context, handle string) error
}
