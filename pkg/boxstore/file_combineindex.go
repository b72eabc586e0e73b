package boxstore

import "fmt"

// CombineFileIndices implements C5.8: the index-only view of
// CombineFile(d, f) — what the combined trailer would look like
// without materializing any payload bytes. A new trailer is built:
// each entry is copied from d, a borrow being replaced by the
// corresponding F entry (so its size is positive), and other_file_id
// is set to zero, since the
// result represents a complete object. This lets a client fetch just
// a prior object's trailer and compute the next diff's match index
// without ever downloading its payload (C9).
func CombineFileIndices(d *Trailer, f *Trailer) (*Trailer, error) {
	entries := make([]BlockIndexEntry, len(d.Entries))
	for i, e := range d.Entries {
		if e.IsPresent() {
			entries[i] = e
			continue
		}
		fIdx := int(e.BorrowedBlock()) - 1
		if fIdx < 0 || fIdx >= len(f.Entries) {
			return nil, fmt.Errorf("%w: borrow of block %d beyond prior's %d blocks", ErrBadBackupStoreFile, e.BorrowedBlock(), len(f.Entries))
		}
		fe := f.Entries[fIdx]
		if !fe.IsPresent() {
			return nil, fmt.Errorf("%w: prior object has non-positive entry at %d", ErrFromFileIsIncomplete, fIdx)
		}
		entries[i] = fe
	}
	return &Trailer{
		Header: IndexHeader{
			Magic:       indexMagicV1,
			OtherFileID: 0,
			NumEntries:  uint64(len(entries)),
		},
		Entries: entries,
	}, nil
}
