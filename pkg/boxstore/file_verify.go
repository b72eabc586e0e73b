package boxstore

import "fmt"

// VerifyResult carries the information a cheap structural walk can
// recover without decrypting block payloads.
type VerifyResult struct {
	ContainerID ObjectID
	OtherFileID ObjectID // zero unless this object is a diff
	IsDiff      bool
}

// VerifyEncodedFileFormat implements C5.3: a cheap structural walk
// that checks the magic, confirms the payload region's size matches
// the sum of present entries' encoded sizes, and (when priorNumBlocks
// is supplied, i.e. the caller knows the trailer's referenced object)
// rejects any borrow pointing past the end of that object.
func VerifyEncodedFileFormat(f *FileObject, priorNumBlocks uint64, havePrior bool) (*VerifyResult, error) {
	if f.Header.Magic != fileMagicV1 && f.Header.Magic != fileMagicV0 {
		return nil, fmt.Errorf("%w: file header", ErrBadMagic)
	}
	if f.Trailer.Header.Magic != indexMagicV1 && f.Trailer.Header.Magic != indexMagicV0 {
		return nil, fmt.Errorf("%w: index header", ErrBadMagic)
	}

	var sumPresent int64
	isDiff := false
	for i, e := range f.Trailer.Entries {
		if e.IsPresent() {
			sumPresent += e.EncodedSize
			continue
		}
		isDiff = true
		if e.EncodedSize == 0 {
			return nil, fmt.Errorf("%w: entry %d has encoded_size 0, ambiguous outside caller context", ErrBadBackupStoreFile, i)
		}
		if havePrior && uint64(e.BorrowedBlock()) > priorNumBlocks {
			return nil, fmt.Errorf("%w: entry %d borrows block %d beyond prior object's %d blocks", ErrBadBackupStoreFile, i, e.BorrowedBlock(), priorNumBlocks)
		}
	}

	if sumPresent != f.payloadSize {
		return nil, fmt.Errorf("%w: payload region is %d bytes, trailer accounts for %d", ErrBadBackupStoreFile, f.payloadSize, sumPresent)
	}

	if isDiff && f.Trailer.Header.OtherFileID == 0 {
		return nil, fmt.Errorf("%w: diff object with zero other_file_id", ErrBadBackupStoreFile)
	}

	return &VerifyResult{
		ContainerID: f.Header.ContainerID,
		OtherFileID: f.Trailer.Header.OtherFileID,
		IsDiff:      isDiff,
	}, nil
}
