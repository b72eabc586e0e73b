package boxclient

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// attrBlob is the cleartext layout this client packs into the opaque
// attribute block boxstore.Attributes carries (spec §4.3 treats the
// block as opaque; the layout is this package's own concern). Mirrors
// BackupClientFileAttributes.cpp's stat-derived fields, trimmed to
// what a restore actually needs to reapply: mode and modification
// time. Ownership (uid/gid) restoration is left out since a restoring
// process not running as root cannot chown anyway.
type attrBlob struct {
	Mode    uint32
	ModTime int64 // unix nanoseconds
}

const attrBlobSize = 4 + 8

// CaptureAttributes reads path's current mode and mtime into the
// cleartext blob this package's attribute codec expects.
func CaptureAttributes(path string) ([]byte, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, attrBlobSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(fi.Mode()))
	binary.BigEndian.PutUint64(buf[4:12], uint64(fi.ModTime().UnixNano()))
	return buf, nil
}

func decodeAttrBlob(blob []byte) (attrBlob, error) {
	if len(blob) != attrBlobSize {
		return attrBlob{}, fmt.Errorf("boxclient: attribute blob has unexpected size %d", len(blob))
	}
	return attrBlob{
		Mode:    binary.BigEndian.Uint32(blob[0:4]),
		ModTime: int64(binary.BigEndian.Uint64(blob[4:12])),
	}, nil
}

// ApplyAttributes restores mode and modification time onto path from a
// cleartext blob produced by CaptureAttributes. A nil/empty blob
// (HasAttributes() == false upstream) is a no-op.
func ApplyAttributes(path string, blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	a, err := decodeAttrBlob(blob)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, os.FileMode(a.Mode)); err != nil {
		return err
	}
	mtime := time.Unix(0, a.ModTime)
	return os.Chtimes(path, mtime, mtime)
}
