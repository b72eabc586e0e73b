package boxstore

import (
	"fmt"
	"time"

	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

// FileObject is the parsed, in-memory view of a file object's three
// regions (spec §3): header+name+attributes, a payload byte range,
// and a decrypted trailer. It wraps the raw wire bytes so that the
// payload can be sliced without re-decrypting blocks that aren't
// needed (e.g. a caller that only wants the trailer for diffing).
type FileObject struct {
	Header  FileHeader
	Name    *EncodedFilename
	Attrs   *Attributes
	Trailer *Trailer

	buf           *boxstream.MemBuffer
	payloadOffset int64
	payloadSize   int64
}

// ParseFileObject reads a complete file object from buf: header,
// name, attributes, then seeks from the end to locate and decrypt the
// trailer (sized from the header's NumBlocks), leaving the payload
// region identified but not yet decrypted.
func ParseFileObject(buf *boxstream.MemBuffer, ctx *boxcrypto.Context) (*FileObject, error) {
	if _, err := buf.Seek(0, boxstream.SeekAbsolute); err != nil {
		return nil, err
	}
	hdr, err := readFileHeader(buf)
	if err != nil {
		return nil, err
	}
	name, err := ReadFilename(buf)
	if err != nil {
		return nil, err
	}
	attrs, err := ReadAttributes(buf, 1<<24)
	if err != nil {
		return nil, err
	}
	payloadStart, err := buf.Position()
	if err != nil {
		return nil, err
	}

	trailerSize := TrailerSize(hdr.NumBlocks)
	trailerStart := buf.Len() - trailerSize
	if trailerStart < payloadStart {
		return nil, fmt.Errorf("%w: trailer would overlap header/name/attrs region", ErrBadBackupStoreFile)
	}

	trailer, err := ReadTrailerAt(buf, ctx, trailerStart, hdr.NumBlocks)
	if err != nil {
		return nil, err
	}

	return &FileObject{
		Header:        *hdr,
		Name:          name,
		Attrs:         attrs,
		Trailer:       trailer,
		buf:           buf,
		payloadOffset: payloadStart,
		payloadSize:   trailerStart - payloadStart,
	}, nil
}

// IsDiff reports whether any trailer entry borrows from another
// object.
func (f *FileObject) IsDiff() bool {
	for _, e := range f.Trailer.Entries {
		if !e.IsPresent() {
			return true
		}
	}
	return false
}

// payloadBlock returns the ciphertext of a present block at the given
// entry index by walking present entries in order and summing their
// sizes up to idx, since blocks are stored back-to-back with no
// additional per-block framing.
func (f *FileObject) payloadBlock(idx int) ([]byte, error) {
	e := f.Trailer.Entries[idx]
	if !e.IsPresent() {
		return nil, fmt.Errorf("boxstore: entry %d is not present in this object", idx)
	}
	var offset int64
	for i := 0; i < idx; i++ {
		if f.Trailer.Entries[i].IsPresent() {
			offset += f.Trailer.Entries[i].EncodedSize
		}
	}
	if _, err := f.buf.Seek(f.payloadOffset+offset, boxstream.SeekAbsolute); err != nil {
		return nil, err
	}
	ct := make([]byte, e.EncodedSize)
	if err := boxstream.ReadFullBuffer(f.buf, ct, 0); err != nil {
		return nil, err
	}
	return ct, nil
}

// EncodeOptions configures a fresh or diff encode.
type EncodeOptions struct {
	ContainerID ObjectID
	ModTime     time.Time
	Attributes  []byte // cleartext attribute blob, may be nil
}

// EncodeFresh implements C5.1: split cleartext into content-defined
// blocks, encrypt each, and write a complete (no borrows) file
// object. Returns the encoded bytes and the cleartext trailer for the
// caller to cache as this object's remote block index.
func EncodeFresh(ctx *boxcrypto.Context, cleartext []byte, name string, opts EncodeOptions) (*boxstream.MemBuffer, *Trailer, error) {
	blockSize := ChooseBlockSize(int64(len(cleartext)))
	chunks := SplitBlocks(cleartext, blockSize)

	out := boxstream.NewMemBuffer(nil)

	hdr := &FileHeader{
		Magic:             fileMagicV1,
		ContainerID:       opts.ContainerID,
		ModTime:           opts.ModTime,
		MaxBlockClearSize: uint32(blockSize),
		OptionFlags:       FileOptionNone,
		NumBlocks:         uint64(len(chunks)),
	}
	if err := writeFileHeader(out, hdr); err != nil {
		return nil, nil, err
	}

	encName, err := EncryptFilename(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if err := encName.WriteTo(out); err != nil {
		return nil, nil, err
	}

	attrs := &Attributes{}
	if err := attrs.SetAttributes(ctx, opts.Attributes); err != nil {
		return nil, nil, err
	}
	if err := attrs.WriteTo(out); err != nil {
		return nil, nil, err
	}

	entries := make([]BlockIndexEntry, len(chunks))
	for i, chunk := range chunks {
		ivBase := uint64(i) + 1
		ct, err := ctx.EncryptDeterministic("block", ivBase, chunk)
		if err != nil {
			return nil, nil, err
		}
		if _, err := out.Write(ct); err != nil {
			return nil, nil, err
		}
		entries[i] = BlockIndexEntry{
			EncodedSize: int64(len(ct)),
			IVBase:      ivBase,
			WeakHash:    weakHashOf(chunk),
			StrongHash:  strongHashOf(chunk),
		}
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

// Decode implements C5.4: reassemble cleartext by walking the trailer
// in order. A present entry reads and decrypts from this object's own
// payload; a borrowed entry calls fetchBlock to obtain the referenced
// object's corresponding cleartext block. altAttributes, if non-nil,
// overrides the embedded attributes without needing the body
// re-encoded (used by restore when attributes changed in place).
func (f *FileObject) Decode(ctx *boxcrypto.Context, fetchBlock func(other ObjectID, blockOrdinal int64) ([]byte, error), altAttributes []byte) ([]byte, []byte, error) {
	var out []byte
	for i, e := range f.Trailer.Entries {
		if e.IsPresent() {
			ct, err := f.payloadBlock(i)
			if err != nil {
				return nil, nil, err
			}
			pt, err := ctx.Decrypt("block", ct, e.IVBase, true)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: block %d: %v", ErrBadBackupStoreFile, i, err)
			}
			out = append(out, pt...)
		} else {
			if fetchBlock == nil {
				return nil, nil, fmt.Errorf("boxstore: borrowed block %d requires a fetchBlock accessor", i)
			}
			pt, err := fetchBlock(f.Trailer.Header.OtherFileID, e.BorrowedBlock())
			if err != nil {
				return nil, nil, err
			}
			out = append(out, pt...)
		}
	}

	attrCleartext := altAttributes
	if attrCleartext == nil {
		pt, err := f.Attrs.Decode(ctx)
		if err != nil {
			return nil, nil, err
		}
		attrCleartext = pt
	}

	return out, attrCleartext, nil
}

// DecodeBlock returns the cleartext of a single trailer entry,
// 1-indexed to match BlockIndexEntry.BorrowedBlock's numbering. It is
// Decode's per-entry step lifted out on its own, for a caller (the
// server's FetchBlock operation) that only needs one block resolved
// without materializing the whole file, e.g. to answer a restore's
// borrowed-block lookup into another object.
func (f *FileObject) DecodeBlock(ctx *boxcrypto.Context, ordinal int64, fetchBlock func(other ObjectID, blockOrdinal int64) ([]byte, error)) ([]byte, error) {
	if ordinal < 1 || ordinal > int64(len(f.Trailer.Entries)) {
		return nil, fmt.Errorf("%w: block ordinal %d out of range", ErrBadBackupStoreFile, ordinal)
	}
	idx := int(ordinal - 1)
	e := f.Trailer.Entries[idx]
	if e.IsPresent() {
		ct, err := f.payloadBlock(idx)
		if err != nil {
			return nil, err
		}
		pt, err := ctx.Decrypt("block", ct, e.IVBase, true)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrBadBackupStoreFile, idx, err)
		}
		return pt, nil
	}
	if fetchBlock == nil {
		return nil, fmt.Errorf("boxstore: borrowed block %d requires a fetchBlock accessor", idx)
	}
	return fetchBlock(f.Trailer.Header.OtherFileID, e.BorrowedBlock())
}
