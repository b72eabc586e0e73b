// Package boxstore implements the core on-wire/on-disk object model:
// encrypted, chunked, diff-capable file objects (C5) and directory
// objects with dependency metadata (C6). Every multi-byte integer is
// big-endian; every codec is fail-fast, aborting on the first corrupt
// field with one of the sentinel errors in errors.go.
package boxstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

// ObjectID is a 64-bit account-monotone object identifier, allocated
// exclusively by boxaccount.AllocateObjectID.
type ObjectID uint64

// File header magic values. V0 is legacy and recognizable but never
// produced by this implementation; V1 is current.
const (
	fileMagicV1  uint32 = 0x626B4631 // "bkF1"
	fileMagicV0  uint32 = 0x626B4630 // "bkF0"
	indexMagicV1 uint32 = 0x62694931 // "biI1"
	indexMagicV0 uint32 = 0x62694930 // "biI0"
)

// Option flags for the file header.
const (
	FileOptionNone uint32 = 0
)

const fileHeaderSize = 4 + 8 + 8 + 4 + 4 + 8 // magic,container,modtime,maxblock,options,numblocks

// FileHeader is the fixed-layout first region of a file object.
type FileHeader struct {
	Magic             uint32
	ContainerID       ObjectID
	ModTime           time.Time
	MaxBlockClearSize uint32
	OptionFlags       uint32
	NumBlocks         uint64
}

func (h *FileHeader) IsV0() bool { return h.Magic == fileMagicV0 }

func writeFileHeader(w *boxstream.MemBuffer, h *FileHeader) error {
	buf := make([]byte, fileHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint64(buf[4:12], uint64(h.ContainerID))
	binary.BigEndian.PutUint64(buf[12:20], uint64(h.ModTime.Unix()))
	binary.BigEndian.PutUint32(buf[20:24], h.MaxBlockClearSize)
	binary.BigEndian.PutUint32(buf[24:28], h.OptionFlags)
	binary.BigEndian.PutUint64(buf[28:36], h.NumBlocks)
	_, err := w.Write(buf)
	return err
}

func readFileHeader(r *boxstream.MemBuffer) (*FileHeader, error) {
	buf := make([]byte, fileHeaderSize)
	if err := boxstream.ReadFullBuffer(r, buf, 0); err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != fileMagicV1 && magic != fileMagicV0 {
		return nil, fmt.Errorf("%w: file header magic %#x", ErrBadMagic, magic)
	}
	return &FileHeader{
		Magic:             magic,
		ContainerID:       ObjectID(binary.BigEndian.Uint64(buf[4:12])),
		ModTime:           time.Unix(int64(binary.BigEndian.Uint64(buf[12:20])), 0).UTC(),
		MaxBlockClearSize: binary.BigEndian.Uint32(buf[20:24]),
		OptionFlags:       binary.BigEndian.Uint32(buf[24:28]),
		NumBlocks:         binary.BigEndian.Uint64(buf[28:36]),
	}, nil
}

// BlockIndexEntry is one entry of a file object's block-index
// trailer. Sign rule (spec §3, central invariant): EncodedSize > 0
// means the block is present in this object's payload with that many
// ciphertext bytes; EncodedSize <= 0 means the block is borrowed from
// OtherFileID, with -EncodedSize the 1-indexed block number there.
type BlockIndexEntry struct {
	EncodedSize int64
	IVBase      uint64
	WeakHash    uint32
	StrongHash  [16]byte
}

// IsPresent reports whether this entry's bytes live in this object's
// payload region.
func (e BlockIndexEntry) IsPresent() bool { return e.EncodedSize > 0 }

// BorrowedBlock returns the 1-indexed block number in the other
// object this entry borrows from. Only valid when !IsPresent().
func (e BlockIndexEntry) BorrowedBlock() int64 { return -e.EncodedSize }

const entryPlainSize = 8 + 8 + 4 + 16       // encodedSize, ivBase, weakHash, strongHash
const entryCipherSize = entryPlainSize + 16 // + AES-GCM tag

const indexHeaderSize = 4 + 8 + 8 // magic, otherFileID, numEntries

// IndexHeader is the trailer's structural header.
type IndexHeader struct {
	Magic       uint32
	OtherFileID ObjectID
	NumEntries  uint64
}

// Trailer is the full decrypted block-index of a file object.
type Trailer struct {
	Header  IndexHeader
	Entries []BlockIndexEntry
}

// TrailerSize returns the number of bytes a trailer of n entries
// occupies on the wire, used to seek from the end of an object to
// locate it without scanning the payload region.
func TrailerSize(numEntries uint64) int64 {
	return int64(indexHeaderSize) + int64(numEntries)*entryCipherSize
}

func entryToBytes(e BlockIndexEntry) []byte {
	buf := make([]byte, entryPlainSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.EncodedSize))
	binary.BigEndian.PutUint64(buf[8:16], e.IVBase)
	binary.BigEndian.PutUint32(buf[16:20], e.WeakHash)
	copy(buf[20:36], e.StrongHash[:])
	return buf
}

func entryFromBytes(buf []byte) BlockIndexEntry {
	var e BlockIndexEntry
	e.EncodedSize = int64(binary.BigEndian.Uint64(buf[0:8]))
	e.IVBase = binary.BigEndian.Uint64(buf[8:16])
	e.WeakHash = binary.BigEndian.Uint32(buf[16:20])
	copy(e.StrongHash[:], buf[20:36])
	return e
}

// WriteTrailer encrypts and writes the index header and every entry,
// each entry individually encrypted with the dedicated block-entry
// key (spec §3) under a deterministic per-entry IV so the serialized
// size is fixed regardless of content.
func WriteTrailer(w *boxstream.MemBuffer, ctx *boxcrypto.Context, t *Trailer) error {
	hbuf := make([]byte, indexHeaderSize)
	binary.BigEndian.PutUint32(hbuf[0:4], t.Header.Magic)
	binary.BigEndian.PutUint64(hbuf[4:12], uint64(t.Header.OtherFileID))
	binary.BigEndian.PutUint64(hbuf[12:20], t.Header.NumEntries)
	if _, err := w.Write(hbuf); err != nil {
		return err
	}
	for i, e := range t.Entries {
		ct, err := ctx.EncryptDeterministic("blockentry", uint64(i), entryToBytes(e))
		if err != nil {
			return err
		}
		if len(ct) != entryCipherSize {
			return fmt.Errorf("boxstore: unexpected entry ciphertext size %d", len(ct))
		}
		if _, err := w.Write(ct); err != nil {
			return err
		}
	}
	return nil
}

// ReadTrailerAt reads the trailer of numEntries entries located at
// the given absolute offset.
func ReadTrailerAt(r *boxstream.MemBuffer, ctx *boxcrypto.Context, offset int64, numEntries uint64) (*Trailer, error) {
	if _, err := r.Seek(offset, boxstream.SeekAbsolute); err != nil {
		return nil, err
	}
	hbuf := make([]byte, indexHeaderSize)
	if err := boxstream.ReadFullBuffer(r, hbuf, 0); err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint32(hbuf[0:4])
	if magic != indexMagicV1 && magic != indexMagicV0 {
		return nil, fmt.Errorf("%w: index header magic %#x", ErrBadMagic, magic)
	}
	t := &Trailer{
		Header: IndexHeader{
			Magic:       magic,
			OtherFileID: ObjectID(binary.BigEndian.Uint64(hbuf[4:12])),
			NumEntries:  binary.BigEndian.Uint64(hbuf[12:20]),
		},
	}
	if t.Header.NumEntries != numEntries {
		return nil, fmt.Errorf("%w: header numBlocks %d != trailer numEntries %d", ErrBadBackupStoreFile, numEntries, t.Header.NumEntries)
	}
	t.Entries = make([]BlockIndexEntry, numEntries)
	cbuf := make([]byte, entryCipherSize)
	for i := range t.Entries {
		if err := boxstream.ReadFullBuffer(r, cbuf, 0); err != nil {
			return nil, err
		}
		pt, err := ctx.Decrypt("blockentry", cbuf, uint64(i), true)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrBadBackupStoreFile, i, err)
		}
		t.Entries[i] = entryFromBytes(pt)
	}
	return t, nil
}
