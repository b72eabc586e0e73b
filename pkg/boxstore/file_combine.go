package boxstore

import (
	"fmt"

	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

// CombineFile implements C5.5: apply diff D against its complete
// prior F to produce a new, complete file object. D's header, name
// and attributes become the new object's identity; every block comes
// from D's own payload (positive entries) or is copied byte-for-byte
// from F's payload (entries D borrows), so no block is ever
// re-encrypted. F must have every trailer entry positive, or the
// combine is rejected with ErrFromFileIsIncomplete.
func CombineFile(ctx *boxcrypto.Context, d *FileObject, f *FileObject) (*boxstream.MemBuffer, *Trailer, error) {
	for i, e := range f.Trailer.Entries {
		if !e.IsPresent() {
			return nil, nil, fmt.Errorf("%w: prior object has non-positive entry at %d", ErrFromFileIsIncomplete, i)
		}
	}
	out := boxstream.NewMemBuffer(nil)

	hdr := d.Header
	if err := writeFileHeader(out, &hdr); err != nil {
		return nil, nil, err
	}
	if err := d.Name.WriteTo(out); err != nil {
		return nil, nil, err
	}
	if err := d.Attrs.WriteTo(out); err != nil {
		return nil, nil, err
	}

	entries := make([]BlockIndexEntry, len(d.Trailer.Entries))
	for i, e := range d.Trailer.Entries {
		if e.IsPresent() {
			ct, err := d.payloadBlock(i)
			if err != nil {
				return nil, nil, err
			}
			if _, err := out.Write(ct); err != nil {
				return nil, nil, err
			}
			entries[i] = e
			continue
		}

		fIdx := int(e.BorrowedBlock()) - 1
		if fIdx < 0 || fIdx >= len(f.Trailer.Entries) {
			return nil, nil, fmt.Errorf("%w: borrow of block %d beyond prior's %d blocks", ErrBadBackupStoreFile, e.BorrowedBlock(), len(f.Trailer.Entries))
		}
		fe := f.Trailer.Entries[fIdx]
		ct, err := f.payloadBlock(fIdx)
		if err != nil {
			return nil, nil, err
		}
		if _, err := out.Write(ct); err != nil {
			return nil, nil, err
		}
		entries[i] = fe
	}

	trailer := &Trailer{
		Header: IndexHeader{
			Magic:       indexMagicV1,
			OtherFileID: 0,
			NumEntries:  uint64(len(entries)),
		},
		Entries: entries,
	}
	if err := WriteTrailer(out, ctx, trailer); err != nil {
		return nil, nil, err
	}

	return out, trailer, nil
}

// CombineDiffOnDiff implements C5.6: fold D2 (a diff whose
// other_file_id is D1's object id) into D1, producing a single diff
// D1∘D2 targeting D1's own base. The result's identity (header, name,
// attributes) is D2's, since the combined diff still represents D2's
// file content, only expressed one hop closer to the root.
func CombineDiffOnDiff(ctx *boxcrypto.Context, d1 *FileObject, d2 *FileObject) (*boxstream.MemBuffer, *Trailer, error) {
	out := boxstream.NewMemBuffer(nil)

	hdr := d2.Header
	if err := writeFileHeader(out, &hdr); err != nil {
		return nil, nil, err
	}
	if err := d2.Name.WriteTo(out); err != nil {
		return nil, nil, err
	}
	if err := d2.Attrs.WriteTo(out); err != nil {
		return nil, nil, err
	}

	entries := make([]BlockIndexEntry, len(d2.Trailer.Entries))
	for i, e := range d2.Trailer.Entries {
		if e.IsPresent() {
			ct, err := d2.payloadBlock(i)
			if err != nil {
				return nil, nil, err
			}
			if _, err := out.Write(ct); err != nil {
				return nil, nil, err
			}
			entries[i] = e
			continue
		}

		d1Idx := int(e.BorrowedBlock()) - 1
		if d1Idx < 0 || d1Idx >= len(d1.Trailer.Entries) {
			return nil, nil, fmt.Errorf("%w: borrow of block %d beyond D1's %d blocks", ErrBadBackupStoreFile, e.BorrowedBlock(), len(d1.Trailer.Entries))
		}
		d1e := d1.Trailer.Entries[d1Idx]
		if d1e.IsPresent() {
			ct, err := d1.payloadBlock(d1Idx)
			if err != nil {
				return nil, nil, err
			}
			if _, err := out.Write(ct); err != nil {
				return nil, nil, err
			}
			entries[i] = d1e
		} else {
			// Block ultimately comes from D1's own base: propagate
			// the negative reference unchanged.
			entries[i] = d1e
		}
	}

	trailer := &Trailer{
		Header: IndexHeader{
			Magic:       indexMagicV1,
			OtherFileID: d1.Trailer.Header.OtherFileID,
			NumEntries:  uint64(len(entries)),
		},
		Entries: entries,
	}
	if err := WriteTrailer(out, ctx, trailer); err != nil {
		return nil, nil, err
	}

	return out, trailer, nil
}
