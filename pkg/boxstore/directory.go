package boxstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

// EntryFlag is the 16-bit bitmask carried by every DirectoryEntry.
type EntryFlag uint16

const (
	FlagFile       EntryFlag = 1
	FlagDir        EntryFlag = 2
	FlagDeleted    EntryFlag = 4
	FlagOldVersion EntryFlag = 8
	FlagRemoveASAP EntryFlag = 16
)

// Has reports whether all bits in mask are set.
func (f EntryFlag) Has(mask EntryFlag) bool { return f&mask == mask }

// Directory header magic values, mirroring the file object's V0/V1
// split: V1 is produced by this implementation, V0 recognized for
// compatibility with objects written by older clients.
const (
	dirMagicV1 uint32 = 0x626B4431 // "bkD1"
	dirMagicV0 uint32 = 0x626B4430 // "bkD0"
)

// Directory option flags.
const (
	OptionDependencyInfoPresent uint32 = 1
)

const dirHeaderSize = 4 + 8 + 8 + 8 + 8 + 4 // magic,entrycount,objectID,containerID,attrModTime,options

// DirectoryHeader is the fixed-layout first region of a directory
// object.
type DirectoryHeader struct {
	Magic       uint32
	EntryCount  uint64
	ObjectID    ObjectID
	ContainerID ObjectID
	AttrModTime time.Time
	Options     uint32
}

func writeDirectoryHeader(w *boxstream.MemBuffer, h *DirectoryHeader) error {
	buf := make([]byte, dirHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint64(buf[4:12], h.EntryCount)
	binary.BigEndian.PutUint64(buf[12:20], uint64(h.ObjectID))
	binary.BigEndian.PutUint64(buf[20:28], uint64(h.ContainerID))
	binary.BigEndian.PutUint64(buf[28:36], uint64(h.AttrModTime.Unix()))
	binary.BigEndian.PutUint32(buf[36:40], h.Options)
	_, err := w.Write(buf)
	return err
}

func readDirectoryHeader(r *boxstream.MemBuffer) (*DirectoryHeader, error) {
	buf := make([]byte, dirHeaderSize)
	if err := boxstream.ReadFullBuffer(r, buf, 0); err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != dirMagicV1 && magic != dirMagicV0 {
		return nil, fmt.Errorf("%w: directory header magic %#x", ErrBadMagic, magic)
	}
	return &DirectoryHeader{
		Magic:       magic,
		EntryCount:  binary.BigEndian.Uint64(buf[4:12]),
		ObjectID:    ObjectID(binary.BigEndian.Uint64(buf[12:20])),
		ContainerID: ObjectID(binary.BigEndian.Uint64(buf[20:28])),
		AttrModTime: time.Unix(int64(binary.BigEndian.Uint64(buf[28:36])), 0).UTC(),
		Options:     binary.BigEndian.Uint32(buf[36:40]),
	}, nil
}

const entryFixedSize = 8 + 8 + 8 + 8 + 2 // modTime, objectID, sizeInBlocks, attrHash, flags

// DirectoryEntry is one entry of a directory object: a file or
// sub-directory reference plus its retention/dependency state. Mark
// and MinMark are server-local optimistic-concurrency markers, never
// streamed to the client (spec §3).
type DirectoryEntry struct {
	ModTime        time.Time
	ObjectID       ObjectID
	SizeInBlocks   uint64
	AttributesHash uint64
	Flags          EntryFlag
	Name           *EncodedFilename
	Attrs          *Attributes
	Mark           uint32
	MinMark        uint32
	DependsNewer   ObjectID
	DependsOlder   ObjectID
}

// IsFile reports whether this entry names a file object.
func (e *DirectoryEntry) IsFile() bool { return e.Flags.Has(FlagFile) }

// IsDir reports whether this entry names a directory object.
func (e *DirectoryEntry) IsDir() bool { return e.Flags.Has(FlagDir) }

func writeEntryFixed(w *boxstream.MemBuffer, e *DirectoryEntry) error {
	buf := make([]byte, entryFixedSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.ModTime.Unix()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.ObjectID))
	binary.BigEndian.PutUint64(buf[16:24], e.SizeInBlocks)
	binary.BigEndian.PutUint64(buf[24:32], e.AttributesHash)
	binary.BigEndian.PutUint16(buf[32:34], uint16(e.Flags))
	_, err := w.Write(buf)
	return err
}

func readEntryFixed(r *boxstream.MemBuffer) (*DirectoryEntry, error) {
	buf := make([]byte, entryFixedSize)
	if err := boxstream.ReadFullBuffer(r, buf, 0); err != nil {
		return nil, err
	}
	return &DirectoryEntry{
		ModTime:        time.Unix(int64(binary.BigEndian.Uint64(buf[0:8])), 0).UTC(),
		ObjectID:       ObjectID(binary.BigEndian.Uint64(buf[8:16])),
		SizeInBlocks:   binary.BigEndian.Uint64(buf[16:24]),
		AttributesHash: binary.BigEndian.Uint64(buf[24:32]),
		Flags:          EntryFlag(binary.BigEndian.Uint16(buf[32:34])),
	}, nil
}

// Directory is the full in-memory form of a directory object: header,
// attributes, and entries in insertion order. Stable iteration order
// is part of the contract — clients rely on append-only ordering for
// recent-first traversal (spec §4.6).
type Directory struct {
	Header  DirectoryHeader
	Attrs   *Attributes
	Entries []*DirectoryEntry
}

// NewDirectory creates an empty directory object for the given
// object-id/container-id pair.
func NewDirectory(objectID, containerID ObjectID) *Directory {
	return &Directory{
		Header: DirectoryHeader{
			Magic:       dirMagicV1,
			ObjectID:    objectID,
			ContainerID: containerID,
			AttrModTime: time.Now(),
		},
		Attrs: &Attributes{},
	}
}

// AddEntry appends a new entry in insertion order. Per spec §4.6, a
// name collision is legal only when every other entry sharing it is
// OldVersion; AddEntry does not enforce that itself (callers drive the
// OldVersion flip on the prior entry before calling this), it only
// appends.
func (d *Directory) AddEntry(e *DirectoryEntry) {
	d.Entries = append(d.Entries, e)
	d.Header.EntryCount = uint64(len(d.Entries))
}

// DeleteEntry removes the entry with the given object-id by linear
// scan, per spec §4.6. Returns ErrCouldNotFindEntry if absent.
func (d *Directory) DeleteEntry(id ObjectID) error {
	for i, e := range d.Entries {
		if e.ObjectID == id {
			d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
			d.Header.EntryCount = uint64(len(d.Entries))
			return nil
		}
	}
	return fmt.Errorf("%w: object id %d", ErrCouldNotFindEntry, id)
}

// FindEntryByID returns the entry with the given object-id, or
// ErrCouldNotFindEntry.
func (d *Directory) FindEntryByID(id ObjectID) (*DirectoryEntry, error) {
	for _, e := range d.Entries {
		if e.ObjectID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: object id %d", ErrCouldNotFindEntry, id)
}

// EntryFilter selects entries by flag membership: an entry is
// selected iff every bit in MustBeSet is present and no bit in
// MustNotBeSet is present.
type EntryFilter struct {
	MustBeSet    EntryFlag
	MustNotBeSet EntryFlag
}

func (f EntryFilter) match(flags EntryFlag) bool {
	if flags&f.MustBeSet != f.MustBeSet {
		return false
	}
	if flags&f.MustNotBeSet != 0 {
		return false
	}
	return true
}

// Iterate walks entries forward (insertion order), calling fn on each
// one matching filter. Forward order is "oldest first" since entries
// are append-only.
func (d *Directory) Iterate(filter EntryFilter, fn func(*DirectoryEntry) error) error {
	for _, e := range d.Entries {
		if !filter.match(e.Flags) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// ReverseIterate walks entries in reverse insertion order ("most
// recent first"), the traversal direction clients use when resuming a
// restore (spec §4.6).
func (d *Directory) ReverseIterate(filter EntryFilter, fn func(*DirectoryEntry) error) error {
	for i := len(d.Entries) - 1; i >= 0; i-- {
		e := d.Entries[i]
		if !filter.match(e.Flags) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// FindMatchingClearName decrypts names during a linear scan looking
// for clearName. The contract (spec §4.6) is that this is a one-shot
// helper, O(n) per call — never use it in an inner loop over many
// lookups.
func (d *Directory) FindMatchingClearName(ctx *boxcrypto.Context, filter EntryFilter, clearName string) (*DirectoryEntry, error) {
	var found *DirectoryEntry
	err := d.Iterate(filter, func(e *DirectoryEntry) error {
		if found != nil {
			return nil
		}
		name, err := e.Name.Decode(ctx)
		if err != nil {
			return err
		}
		if name == clearName {
			found = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: name %q", ErrCouldNotFindEntry, clearName)
	}
	return found, nil
}

// CheckAndFix is a recovery entry point: it de-duplicates entries that
// share an object-id (keeping the first), drops dangling
// depends_newer/depends_older references to ids no longer present, and
// reports whether anything was changed. It does not reorder entries —
// insertion order already reflects append history and reordering would
// itself be a modification requiring justification beyond recovery.
func (d *Directory) CheckAndFix() bool {
	changed := false

	seen := make(map[ObjectID]bool, len(d.Entries))
	deduped := d.Entries[:0]
	for _, e := range d.Entries {
		if seen[e.ObjectID] {
			changed = true
			continue
		}
		seen[e.ObjectID] = true
		deduped = append(deduped, e)
	}
	d.Entries = deduped

	ids := make(map[ObjectID]bool, len(d.Entries))
	for _, e := range d.Entries {
		ids[e.ObjectID] = true
	}
	for _, e := range d.Entries {
		if e.DependsNewer != 0 && !ids[e.DependsNewer] {
			e.DependsNewer = 0
			changed = true
		}
		if e.DependsOlder != 0 && !ids[e.DependsOlder] {
			e.DependsOlder = 0
			changed = true
		}
	}

	if uint64(len(d.Entries)) != d.Header.EntryCount {
		d.Header.EntryCount = uint64(len(d.Entries))
		changed = true
	}

	return changed
}

// UpdateAttributes rewrites an entry's attributes and attribute-hash
// in place without touching its OldVersion flag — the Open Question
// resolution in spec.md §9: an attribute-only change (permission bits,
// mtime) is not a content modification and must not push the previous
// version into history.
func (d *Directory) UpdateAttributes(ctx *boxcrypto.Context, id ObjectID, cleartextAttrs []byte, attrHash uint64) error {
	e, err := d.FindEntryByID(id)
	if err != nil {
		return err
	}
	if e.Attrs == nil {
		e.Attrs = &Attributes{}
	}
	if err := e.Attrs.SetAttributes(ctx, cleartextAttrs); err != nil {
		return err
	}
	e.AttributesHash = attrHash
	return nil
}

// hasDependencyInfo reports whether any selected entry carries a
// nonzero depends-newer or depends-older value, the condition under
// which the dependency region is written at all (spec §4.6).
func hasDependencyInfo(entries []*DirectoryEntry) bool {
	for _, e := range entries {
		if e.DependsNewer != 0 || e.DependsOlder != 0 {
			return true
		}
	}
	return false
}

// WriteDirectory serializes d to w: header, encrypted directory
// attributes, every entry matching filter with its own name and
// attributes inline, then an optional dependency region.
func WriteDirectory(w *boxstream.MemBuffer, ctx *boxcrypto.Context, d *Directory, filter EntryFilter) error {
	var selected []*DirectoryEntry
	for _, e := range d.Entries {
		if filter.match(e.Flags) {
			selected = append(selected, e)
		}
	}

	needDeps := hasDependencyInfo(selected)
	hdr := d.Header
	hdr.EntryCount = uint64(len(selected))
	if needDeps {
		hdr.Options |= OptionDependencyInfoPresent
	} else {
		hdr.Options &^= OptionDependencyInfoPresent
	}
	if err := writeDirectoryHeader(w, &hdr); err != nil {
		return err
	}
	if d.Attrs == nil {
		d.Attrs = &Attributes{}
	}
	if err := d.Attrs.WriteTo(w); err != nil {
		return err
	}

	for _, e := range selected {
		if err := writeEntryFixed(w, e); err != nil {
			return err
		}
		if e.Name == nil {
			return fmt.Errorf("%w: entry %d has no name", ErrBadBackupStoreFile, e.ObjectID)
		}
		if err := e.Name.WriteTo(w); err != nil {
			return err
		}
		if e.Attrs == nil {
			e.Attrs = &Attributes{}
		}
		if err := e.Attrs.WriteTo(w); err != nil {
			return err
		}
	}

	if needDeps {
		for _, e := range selected {
			var buf [16]byte
			binary.BigEndian.PutUint64(buf[0:8], uint64(e.DependsNewer))
			binary.BigEndian.PutUint64(buf[8:16], uint64(e.DependsOlder))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	}

	return nil
}

// ReadDirectory parses a directory object written by WriteDirectory.
// maxAttrLen bounds the size of any single attribute blob, guarding
// against a corrupt or hostile length prefix.
func ReadDirectory(r *boxstream.MemBuffer, maxAttrLen uint32) (*Directory, error) {
	hdr, err := readDirectoryHeader(r)
	if err != nil {
		return nil, err
	}
	attrs, err := ReadAttributes(r, maxAttrLen)
	if err != nil {
		return nil, err
	}

	d := &Directory{Header: *hdr, Attrs: attrs}
	entries := make([]*DirectoryEntry, 0, hdr.EntryCount)
	for i := uint64(0); i < hdr.EntryCount; i++ {
		e, err := readEntryFixed(r)
		if err != nil {
			return nil, err
		}
		name, err := ReadFilename(r)
		if err != nil {
			return nil, err
		}
		e.Name = name
		entryAttrs, err := ReadAttributes(r, maxAttrLen)
		if err != nil {
			return nil, err
		}
		e.Attrs = entryAttrs
		entries = append(entries, e)
	}

	if hdr.Options&OptionDependencyInfoPresent != 0 {
		for _, e := range entries {
			var buf [16]byte
			if err := boxstream.ReadFullBuffer(r, buf[:], 0); err != nil {
				return nil, err
			}
			e.DependsNewer = ObjectID(binary.BigEndian.Uint64(buf[0:8]))
			e.DependsOlder = ObjectID(binary.BigEndian.Uint64(buf[8:16]))
		}
	}

	d.Entries = entries
	return d, nil
}
