// Package recordstore implements the generic key/value persistence
// seam spec.md §6 describes as "consumed, not specified here": put,
// get, delete, prefix iteration, and an fsync-level sync, with any
// store meeting the contract substitutable for any other. The
// reference implementation uses QDBM-style stores; this package
// offers a local-filesystem default plus blob-backed implementations
// over the cloud SDKs already vendored for the disk-image provisioner
// stack, repurposed here as the server's pluggable object persistence
// rather than VM image upload targets.
package recordstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when key has no record.
var ErrNotFound = errors.New("recordstore: key not found")

// Store is the generic key/value persistence contract every backend
// in this package satisfies.
type Store interface {
	// Put writes data under key, replacing any existing record.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error,
	// matching the idempotent-delete expectation of housekeeping's
	// prune and deleted-directory drain passes.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix, in no particular
	// order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Sync forces any buffered writes to durable storage. A backend
	// with no write buffering (e.g. one cloud PUT per Put) may treat
	// this as a no-op.
	Sync(ctx context.Context) error
}
