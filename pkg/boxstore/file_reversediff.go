package boxstore

import (
	"fmt"

	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

// ReverseDiffResult carries the reversed diff plus the
// caller-visible is-completely-different signal from spec §4.5.7.
type ReverseDiffResult struct {
	Buf                   *boxstream.MemBuffer
	Trailer               *Trailer
	IsCompletelyDifferent bool
}

// ReverseDiff implements C5.7: given diff d (applied against base f
// to produce newfile = CombineFile(d, f)), produce d' such that
// CombineFile(d', newfile) == f. Used by housekeeping (C8) when the
// newer object in a chain is being deleted but the older one must
// remain retrievable: d' re-expresses f as a diff against newfile
// instead of against whatever f used to depend on.
//
// f must have every trailer entry positive (ErrFromFileIsIncomplete
// otherwise) — the same requirement CombineFile places on its prior,
// since this is conceptually CombineFile run in reverse.
func ReverseDiff(ctx *boxcrypto.Context, d *FileObject, f *FileObject, newfileID ObjectID) (*ReverseDiffResult, error) {
	for i, e := range f.Trailer.Entries {
		if !e.IsPresent() {
			return nil, fmt.Errorf("%w: base object has non-positive entry at %d", ErrFromFileIsIncomplete, i)
		}
	}

	// borrowedFromF[b] = index j such that d's entry j borrows F's
	// block b (1-indexed). Such a j means newfile's block at
	// ordinal j carries F's block b unchanged (CombineFile copies
	// F's payload there), so d' can borrow it from newfile instead
	// of re-embedding it.
	borrowedFromF := make(map[int64]int64)
	for j, e := range d.Trailer.Entries {
		if !e.IsPresent() {
			borrowedFromF[e.BorrowedBlock()] = int64(j) + 1
		}
	}

	out := boxstream.NewMemBuffer(nil)
	hdr := f.Header
	if err := writeFileHeader(out, &hdr); err != nil {
		return nil, err
	}
	if err := f.Name.WriteTo(out); err != nil {
		return nil, err
	}
	if err := f.Attrs.WriteTo(out); err != nil {
		return nil, err
	}

	entries := make([]BlockIndexEntry, len(f.Trailer.Entries))
	anyBorrow := false
	for b, fe := range f.Trailer.Entries {
		blockNum := int64(b) + 1
		if j, ok := borrowedFromF[blockNum]; ok {
			anyBorrow = true
			entries[b] = BlockIndexEntry{
				EncodedSize: -j,
				IVBase:      fe.IVBase,
				WeakHash:    fe.WeakHash,
				StrongHash:  fe.StrongHash,
			}
			continue
		}

		ct, err := f.payloadBlock(b)
		if err != nil {
			return nil, err
		}
		if _, err := out.Write(ct); err != nil {
			return nil, err
		}
		entries[b] = fe
	}

	trailer := &Trailer{
		Header: IndexHeader{
			Magic:       indexMagicV1,
			OtherFileID: newfileID,
			NumEntries:  uint64(len(entries)),
		},
		Entries: entries,
	}
	if err := WriteTrailer(out, ctx, trailer); err != nil {
		return nil, err
	}

	return &ReverseDiffResult{Buf: out, Trailer: trailer, IsCompletelyDifferent: !anyBorrow}, nil
}
