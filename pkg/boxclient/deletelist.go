package boxclient

import (
	"context"

	"github.com/vorteil/boxbackup/pkg/boxstore"
)

// fileKey identifies one directory entry pending deletion. Names are
// compared by their raw wire bytes (not decrypted cleartext): within a
// single backup run, Add/StopFileDeletion always see the same
// EncodedFilename originating from one directory listing, so the
// ciphertext is stable for the run even though re-encrypting the same
// cleartext twice would not produce identical bytes.
type fileKey struct {
	dirID    boxstore.ObjectID
	encoding int
	payload  string
}

func keyOf(dirID boxstore.ObjectID, name *boxstore.EncodedFilename) fileKey {
	return fileKey{dirID: dirID, encoding: int(name.Encoding), payload: string(name.Payload)}
}

// DeleteList batches a backup run's pending removals so they are sent
// as one burst of requests at the end of the run rather than one
// round trip per vanished file, and so a file or directory that
// reappears before the run finishes (e.g. a rename observed as a
// delete-then-create) never gets deleted after all.
//
// Grounded on BackupClientDeleteList.cpp: additions land in the
// pending list unless already vetoed by a Stop* call made for the
// same id/name *before* the matching Add*; a Stop* call arriving after
// the Add* removes the pending entry directly.
type DeleteList struct {
	dirs        []boxstore.ObjectID
	dirNoDelete map[boxstore.ObjectID]struct{}

	files        []fileKey
	fileNames    map[fileKey]*boxstore.EncodedFilename
	fileNoDelete map[fileKey]struct{}
}

// NewDeleteList returns an empty pending-delete batch.
func NewDeleteList() *DeleteList {
	return &DeleteList{
		dirNoDelete:  make(map[boxstore.ObjectID]struct{}),
		fileNames:    make(map[fileKey]*boxstore.EncodedFilename),
		fileNoDelete: make(map[fileKey]struct{}),
	}
}

// AddDirectoryDelete queues a directory for deletion, unless a
// previous StopDirectoryDeletion call already vetoed this id.
func (dl *DeleteList) AddDirectoryDelete(id boxstore.ObjectID) {
	if _, vetoed := dl.dirNoDelete[id]; vetoed {
		return
	}
	dl.dirs = append(dl.dirs, id)
}

// AddFileDelete queues a single directory entry for deletion, unless
// already vetoed.
func (dl *DeleteList) AddFileDelete(dirID boxstore.ObjectID, name *boxstore.EncodedFilename) {
	key := keyOf(dirID, name)
	if _, vetoed := dl.fileNoDelete[key]; vetoed {
		return
	}
	dl.files = append(dl.files, key)
	dl.fileNames[key] = name
}

// StopDirectoryDeletion removes a previously queued directory delete,
// or if none is queued yet, records a veto so a later AddDirectoryDelete
// for the same id is a no-op.
func (dl *DeleteList) StopDirectoryDeletion(id boxstore.ObjectID) {
	for i, d := range dl.dirs {
		if d == id {
			dl.dirs = append(dl.dirs[:i], dl.dirs[i+1:]...)
			return
		}
	}
	dl.dirNoDelete[id] = struct{}{}
}

// StopFileDeletion removes a previously queued file delete, or records
// a veto if none is queued yet.
func (dl *DeleteList) StopFileDeletion(dirID boxstore.ObjectID, name *boxstore.EncodedFilename) {
	key := keyOf(dirID, name)
	for i, f := range dl.files {
		if f == key {
			dl.files = append(dl.files[:i], dl.files[i+1:]...)
			delete(dl.fileNames, key)
			return
		}
	}
	dl.fileNoDelete[key] = struct{}{}
}

// PerformDeletions sends every queued deletion to conn and empties the
// list. Directories are deleted first, matching the original's
// ordering (a directory delete makes any file delete inside it moot,
// but sending files first would just mean harmless duplicate work on
// a server that has already removed the parent).
func (dl *DeleteList) PerformDeletions(ctx context.Context, conn Conn) error {
	if len(dl.dirs) == 0 && len(dl.files) == 0 {
		return nil
	}

	for _, id := range dl.dirs {
		if err := conn.DeleteDirectory(ctx, id); err != nil {
			return err
		}
	}
	dl.dirs = nil

	for _, key := range dl.files {
		if err := conn.DeleteFile(ctx, key.dirID, dl.fileNames[key]); err != nil {
			return err
		}
	}
	dl.files = nil
	dl.fileNames = make(map[fileKey]*boxstore.EncodedFilename)

	return nil
}
