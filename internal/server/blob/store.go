// Package blob abstracts the object storage backend holding uploaded images.
// Keys are namespaced under the owning job id, so they never collide and a
// job's blob can always be located from its row alone.
package blob

import (
	"context"
	"io"
)

// Store is an opaque byte-object store.
type Store interface {
	// Put streams body into the store under key, overwriting any prior
	// object. Uploads are retried by clients, so last write wins.
	Put(ctx context.Context, key, contentType string, body io.Reader, length int64) error

	// Get reads the full object. Returns common.ErrorNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is present under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
