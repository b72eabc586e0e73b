package boxclient

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/vorteil/boxbackup/pkg/boxstore"
)

// ErrDamagedJournal is returned by ReadJournal when the file exists
// but does not parse as a well-formed nested-level record (spec §4.10:
// "a damaged journal returns TargetExists").
var ErrDamagedJournal = errors.New("boxclient: damaged resume journal")

// JournalLevel is one level of the restore resume journal (spec §6):
// the set of object ids already restored at this directory level, plus
// — if the restore was interrupted while descending into a
// subdirectory — the id and local name of that child and the next
// level's own record.
type JournalLevel struct {
	Done          []boxstore.ObjectID
	NextLevelID   boxstore.ObjectID
	NextLevelName string
	Next          *JournalLevel
}

// HasDone reports whether id has already been restored at this level.
func (l *JournalLevel) HasDone(id boxstore.ObjectID) bool {
	for _, d := range l.Done {
		if d == id {
			return true
		}
	}
	return false
}

// WriteJournal serializes root and writes it to path via a
// write-to-temp-then-rename, the same atomic-replace discipline used
// for account-info and the diff-state cache, so a crash mid-flush
// never leaves a truncated journal that ReadJournal would have to
// reject as damaged.
func WriteJournal(path string, root *JournalLevel) error {
	var buf []byte
	buf = appendLevel(buf, root)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func appendLevel(buf []byte, l *JournalLevel) []byte {
	buf = appendUint64(buf, uint64(len(l.Done)))
	for _, id := range l.Done {
		buf = appendUint64(buf, uint64(id))
	}
	buf = appendUint64(buf, uint64(l.NextLevelID))
	if l.NextLevelID == 0 {
		return buf
	}
	nameBytes := []byte(l.NextLevelName)
	buf = appendUint64(buf, uint64(len(nameBytes)))
	buf = append(buf, nameBytes...)
	return appendLevel(buf, l.Next)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// ReadJournal reads and parses a journal file written by WriteJournal.
// Any structural inconsistency (truncation, a length field reaching
// past the end of the file) is reported as ErrDamagedJournal rather
// than a raw decoding error, since the caller's only recourse is the
// same either way: treat the restore as unresumable.
func ReadJournal(path string) (*JournalLevel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	level, rest, err := parseLevel(raw)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDamagedJournal, len(rest))
	}
	return level, nil
}

func parseLevel(buf []byte) (*JournalLevel, []byte, error) {
	count, buf, err := takeUint64(buf)
	if err != nil {
		return nil, nil, err
	}
	l := &JournalLevel{}
	for i := uint64(0); i < count; i++ {
		var id uint64
		id, buf, err = takeUint64(buf)
		if err != nil {
			return nil, nil, err
		}
		l.Done = append(l.Done, boxstore.ObjectID(id))
	}

	nextID, buf, err := takeUint64(buf)
	if err != nil {
		return nil, nil, err
	}
	l.NextLevelID = boxstore.ObjectID(nextID)
	if l.NextLevelID == 0 {
		return l, buf, nil
	}

	nameLen, buf, err := takeUint64(buf)
	if err != nil {
		return nil, nil, err
	}
	if nameLen > uint64(len(buf)) {
		return nil, nil, fmt.Errorf("%w: next-level filename length %d exceeds remaining %d bytes", ErrDamagedJournal, nameLen, len(buf))
	}
	l.NextLevelName = string(buf[:nameLen])
	buf = buf[nameLen:]

	l.Next, buf, err = parseLevel(buf)
	if err != nil {
		return nil, nil, err
	}
	return l, buf, nil
}

func takeUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("%w: truncated before an 8-byte field", ErrDamagedJournal)
	}
	return binary.BigEndian.Uint64(buf[:8]), buf[8:], nil
}
