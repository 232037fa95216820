// Package objstore abstracts the object storage backends logship publishes
// artifacts and manifests to: the local filesystem for single-node setups,
// and S3, Azure Blob, and GCS for clustered deployments.
package objstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object without fetching its body.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Backend is the storage surface every component above it (catalog, staging
// rotation, conversion upload, manifest CAS, cluster heartbeats) depends on.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get opens the object at key for reading. Callers must Close the
	// returned reader. Returns an apperror with KindObjectStoreNotFound if
	// key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put writes body to key, overwriting any existing object.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// PutIfAbsent writes body to key only if no object currently exists
	// there. It returns created=false (and a nil error) if another writer
	// won the race. The manifest publisher and the schema registry write
	// with Put, not with PutIfAbsent.
	PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (created bool, err error)

	// List enumerates objects whose key starts with prefix, ordered
	// lexicographically by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Head returns metadata for key without fetching its body.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes the object at key. Deleting a missing key is not an
	// error (retention GC and tombstone sweeps rely on this).
	Delete(ctx context.Context, key string) error
}
