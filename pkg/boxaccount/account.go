// Package boxaccount implements the per-account quota record (C7):
// block counters, the monotone object-id allocator, and the
// write-to-temp-then-rename persistence contract every counter change
// goes through.
package boxaccount

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/vorteil/boxbackup/pkg/boxstore"
)

// ErrHardLimitExceeded is returned by CheckAdmission when accepting an
// upload would push blocks_used past the account's hard limit.
var ErrHardLimitExceeded = errors.New("boxaccount: upload would exceed hard limit")

// ErrReadOnly is returned by any Change* method called on a handle
// loaded read-only.
var ErrReadOnly = errors.New("boxaccount: handle is read-only")

const infoMagic uint32 = 0x62614931 // "baI1"

// BlockSize is the fixed accounting unit BlocksUsed and its siblings
// are denominated in, matching boxstore.ChooseBlockSize's minimum so
// small-object sizing and quota accounting agree at the boundary.
const BlockSize = 4096

// BlocksFor rounds a byte length up to the nearest whole BlockSize,
// the conversion housekeeping uses to charge/credit the quota
// counters when an object's stored size changes.
func BlocksFor(n int) int64 {
	return (int64(n) + BlockSize - 1) / BlockSize
}

// Info is the persistent per-account quota record described in
// spec.md §4.7/§3. Every counter change goes through a Change*
// method, which marks the record dirty; Save is the only thing that
// clears dirty.
type Info struct {
	AccountID            uint32
	LastObjectIDUsed     boxstore.ObjectID
	BlocksUsed           int64
	BlocksInOldFiles     int64
	BlocksInDeletedFiles int64
	BlocksInDirectories  int64
	BlocksSoftLimit      int64
	BlocksHardLimit      int64
	ClientStoreMarker    uint64
	DeletedDirectories   []boxstore.ObjectID

	readOnly bool
	dirty    bool
}

// NewInfo creates a blank account record ready to be saved for the
// first time (BackupStoreInfo::CreateNew).
func NewInfo(accountID uint32, softLimit, hardLimit int64) *Info {
	return &Info{
		AccountID:       accountID,
		BlocksSoftLimit: softLimit,
		BlocksHardLimit: hardLimit,
		dirty:           true,
	}
}

// IsModified reports whether any Change* call has happened since the
// last Save.
func (a *Info) IsModified() bool { return a.dirty }

// IsReadOnly reports whether this handle was loaded read-only; every
// Change* method refuses to act on such a handle.
func (a *Info) IsReadOnly() bool { return a.readOnly }

func (a *Info) assertWritable() error {
	if a.readOnly {
		return ErrReadOnly
	}
	return nil
}

// ChangeBlocksUsed adjusts BlocksUsed by delta, asserting the handle
// is writable first and marking the record dirty (spec §4.7 "any
// counter change is mediated by a Change* operation").
func (a *Info) ChangeBlocksUsed(delta int64) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	a.BlocksUsed += delta
	a.dirty = true
	return nil
}

// ChangeBlocksInOldFiles adjusts the OldVersion-subset counter.
func (a *Info) ChangeBlocksInOldFiles(delta int64) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	a.BlocksInOldFiles += delta
	a.dirty = true
	return nil
}

// ChangeBlocksInDeletedFiles adjusts the Deleted-subset counter.
func (a *Info) ChangeBlocksInDeletedFiles(delta int64) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	a.BlocksInDeletedFiles += delta
	a.dirty = true
	return nil
}

// ChangeBlocksInDirectories adjusts the directory-object block
// counter.
func (a *Info) ChangeBlocksInDirectories(delta int64) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	a.BlocksInDirectories += delta
	a.dirty = true
	return nil
}

// CorrectAllUsedValues overwrites all four block counters at once,
// used by a recovery/consistency-check pass (BackupStoreCheck) after
// it has recomputed true values from the directory tree rather than
// trusting the possibly-corrupt persisted counters.
func (a *Info) CorrectAllUsedValues(used, inOldFiles, inDeletedFiles, inDirectories int64) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	a.BlocksUsed = used
	a.BlocksInOldFiles = inOldFiles
	a.BlocksInDeletedFiles = inDeletedFiles
	a.BlocksInDirectories = inDirectories
	a.dirty = true
	return nil
}

// ChangeLimits updates the soft/hard quota limits.
func (a *Info) ChangeLimits(soft, hard int64) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	a.BlocksSoftLimit = soft
	a.BlocksHardLimit = hard
	a.dirty = true
	return nil
}

// AddDeletedDirectory enqueues a directory id for housekeeping's
// deleted-directory queue. Adding the same id twice produces a queue
// with only one occurrence (spec §9 invariant).
func (a *Info) AddDeletedDirectory(id boxstore.ObjectID) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	for _, existing := range a.DeletedDirectories {
		if existing == id {
			return nil
		}
	}
	a.DeletedDirectories = append(a.DeletedDirectories, id)
	a.dirty = true
	return nil
}

// RemoveDeletedDirectory removes id from the deleted-directory queue,
// called once housekeeping has physically removed that directory's
// object.
func (a *Info) RemoveDeletedDirectory(id boxstore.ObjectID) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	for i, existing := range a.DeletedDirectories {
		if existing == id {
			a.DeletedDirectories = append(a.DeletedDirectories[:i], a.DeletedDirectories[i+1:]...)
			a.dirty = true
			return nil
		}
	}
	return nil
}

// AllocateObjectID is a monotone 64-bit counter: the returned id is
// never reused, even after the object it named is later deleted, so
// depends_newer/depends_older references stay unambiguous forever
// (spec §4.7).
func (a *Info) AllocateObjectID() (boxstore.ObjectID, error) {
	if err := a.assertWritable(); err != nil {
		return 0, err
	}
	a.LastObjectIDUsed++
	a.dirty = true
	return a.LastObjectIDUsed, nil
}

// SetClientStoreMarker records the opaque 64-bit cookie the client
// uses to detect whether its view of the store is stale.
func (a *Info) SetClientStoreMarker(marker uint64) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	a.ClientStoreMarker = marker
	a.dirty = true
	return nil
}

// CheckAdmission implements the admission policy from spec §4.7: an
// upload that would push BlocksUsed above BlocksHardLimit is rejected
// before any object bytes are accepted. Breaching BlocksSoftLimit is
// only advisory: the upload is accepted and softBreached is reported
// true so the caller can schedule housekeeping.
func (a *Info) CheckAdmission(additionalBlocks int64) (softBreached bool, err error) {
	projected := a.BlocksUsed + additionalBlocks
	if a.BlocksHardLimit > 0 && projected > a.BlocksHardLimit {
		return false, fmt.Errorf("%w: %d blocks would exceed hard limit %d", ErrHardLimitExceeded, projected, a.BlocksHardLimit)
	}
	return a.BlocksSoftLimit > 0 && projected > a.BlocksSoftLimit, nil
}

// wireLayout mirrors Info's persisted fields in a fixed big-endian
// binary layout, separate from the in-memory struct so dirty/readOnly
// bookkeeping never leaks onto disk.
const fixedWireSize = 4 + 4 + 8 + 8*6 + 8 // magic, accountID, lastObjID, 6 counters/limits, clientMarker

func (a *Info) encode() []byte {
	buf := make([]byte, fixedWireSize+4+8*len(a.DeletedDirectories))
	binary.BigEndian.PutUint32(buf[0:4], infoMagic)
	binary.BigEndian.PutUint32(buf[4:8], a.AccountID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(a.LastObjectIDUsed))
	binary.BigEndian.PutUint64(buf[16:24], uint64(a.BlocksUsed))
	binary.BigEndian.PutUint64(buf[24:32], uint64(a.BlocksInOldFiles))
	binary.BigEndian.PutUint64(buf[32:40], uint64(a.BlocksInDeletedFiles))
	binary.BigEndian.PutUint64(buf[40:48], uint64(a.BlocksInDirectories))
	binary.BigEndian.PutUint64(buf[48:56], uint64(a.BlocksSoftLimit))
	binary.BigEndian.PutUint64(buf[56:64], uint64(a.BlocksHardLimit))
	binary.BigEndian.PutUint64(buf[64:72], a.ClientStoreMarker)
	binary.BigEndian.PutUint32(buf[72:76], uint32(len(a.DeletedDirectories)))
	off := 76
	for _, id := range a.DeletedDirectories {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(id))
		off += 8
	}
	return buf
}

func decode(buf []byte) (*Info, error) {
	if len(buf) < fixedWireSize+4 {
		return nil, fmt.Errorf("%w: account info record truncated", boxstore.ErrBadBackupStoreFile)
	}
	if binary.BigEndian.Uint32(buf[0:4]) != infoMagic {
		return nil, fmt.Errorf("%w: account info magic", boxstore.ErrBadMagic)
	}
	a := &Info{
		AccountID:            binary.BigEndian.Uint32(buf[4:8]),
		LastObjectIDUsed:     boxstore.ObjectID(binary.BigEndian.Uint64(buf[8:16])),
		BlocksUsed:           int64(binary.BigEndian.Uint64(buf[16:24])),
		BlocksInOldFiles:     int64(binary.BigEndian.Uint64(buf[24:32])),
		BlocksInDeletedFiles: int64(binary.BigEndian.Uint64(buf[32:40])),
		BlocksInDirectories:  int64(binary.BigEndian.Uint64(buf[40:48])),
		BlocksSoftLimit:      int64(binary.BigEndian.Uint64(buf[48:56])),
		BlocksHardLimit:      int64(binary.BigEndian.Uint64(buf[56:64])),
		ClientStoreMarker:    binary.BigEndian.Uint64(buf[64:72]),
	}
	n := binary.BigEndian.Uint32(buf[72:76])
	if uint64(len(buf)) < uint64(fixedWireSize)+4+8*uint64(n) {
		return nil, fmt.Errorf("%w: account info deleted-directory list truncated", boxstore.ErrBadBackupStoreFile)
	}
	off := 76
	for i := uint32(0); i < n; i++ {
		a.DeletedDirectories = append(a.DeletedDirectories, boxstore.ObjectID(binary.BigEndian.Uint64(buf[off:off+8])))
		off += 8
	}
	return a, nil
}

// Save persists the record to path by writing to a temp file in the
// same directory and renaming over the destination, so a crash mid
// write never leaves a half-written record (spec §4.7). It also
// writes a ".yaml" sidecar alongside path for admin/debug inspection
// without needing a binary decoder.
func (a *Info) Save(path string) error {
	if err := a.assertWritable(); err != nil {
		return err
	}
	if err := writeAtomic(path, a.encode()); err != nil {
		return err
	}

	sidecar, err := yaml.Marshal(a)
	if err != nil {
		return err
	}
	if err := writeAtomic(path+".yaml", sidecar); err != nil {
		return err
	}

	a.dirty = false
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := ioutil.TempFile(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Load reads a record previously written by Save. readOnly handles
// reject every Change* call (ErrReadOnly), matching the C++
// original's BackupStoreInfo::Load(..., ReadOnly, ...) parameter.
func Load(path string, readOnly bool) (*Info, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := decode(buf)
	if err != nil {
		return nil, err
	}
	a.readOnly = readOnly
	return a, nil
}
