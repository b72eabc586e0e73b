package boxclient

import (
	"context"

	"github.com/vorteil/boxbackup/pkg/boxstore"
)

// Conn is the client's view of a server connection: the wire protocol
// itself is out of scope (spec.md §1 Non-goals exclude the auth
// handshake), but every operation in this package is expressed against
// this seam so it can be driven by a real socket implementation or, in
// tests, an in-process fake — the same pattern boxhousekeeping.Run
// uses for ObjectStore, generalized with the extra directory/trailer
// operations a client needs that a pure object store does not.
type Conn interface {
	// FetchDirectory downloads and decodes the directory object at id,
	// with the server applying filter server-side (spec §4.6) so
	// excluded entries (commonly OldVersion) never cross the wire.
	FetchDirectory(ctx context.Context, id boxstore.ObjectID, filter boxstore.EntryFilter) (*boxstore.Directory, error)

	// FetchTrailer downloads only a prior object's trailer (C5.8): the
	// cheap request C9 step 2 relies on to decide fresh-vs-diff without
	// pulling the whole prior object across the wire.
	FetchTrailer(ctx context.Context, id boxstore.ObjectID) (*boxstore.Trailer, error)

	// FetchObject downloads a complete object's raw bytes.
	FetchObject(ctx context.Context, id boxstore.ObjectID) ([]byte, error)

	// FetchBlock downloads a single cleartext block from another
	// object, the fetchBlock accessor FileObject.Decode needs when
	// restoring without first flattening the whole chain locally.
	FetchBlock(ctx context.Context, id boxstore.ObjectID, blockOrdinal int64) ([]byte, error)

	// StoreObject uploads a complete encoded object, returning the
	// newly allocated object id.
	StoreObject(ctx context.Context, containerID boxstore.ObjectID, data []byte) (boxstore.ObjectID, error)

	// StoreDirectory uploads a directory object's updated bytes.
	StoreDirectory(ctx context.Context, d *boxstore.Directory) error

	// DeleteDirectory marks a directory object (and its subtree) for
	// deletion, queuing it on the account's deleted-directory list.
	DeleteDirectory(ctx context.Context, id boxstore.ObjectID) error

	// DeleteFile flags a single directory entry deleted, the
	// FlagDeleted path (not an immediate object removal; housekeeping
	// retires it per spec §4.8).
	DeleteFile(ctx context.Context, dirID boxstore.ObjectID, name *boxstore.EncodedFilename) error
}
