package boxclient

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureAndApplyAttributes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))
	require.NoError(t, os.Chmod(path, 0o644)) // pin exact mode regardless of umask

	src, err := os.Stat(path)
	require.NoError(t, err)

	blob, err := CaptureAttributes(path)
	require.NoError(t, err)
	assert.Len(t, blob, attrBlobSize)

	dst := filepath.Join(t.TempDir(), "g.txt")
	require.NoError(t, os.WriteFile(dst, []byte("hi"), 0o600))
	require.NoError(t, ApplyAttributes(dst, blob))

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, src.Mode().Perm(), fi.Mode().Perm())
}

func TestApplyAttributesEmptyBlobIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o640))
	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, ApplyAttributes(path, nil))

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.Mode().Perm(), after.Mode().Perm())
}

func TestApplyAttributesRejectsBadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))
	err := ApplyAttributes(path, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeAttrBlobRoundTripsModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))
	mtime := time.Unix(1_700_000_000, 0)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	blob, err := CaptureAttributes(path)
	require.NoError(t, err)

	a, err := decodeAttrBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, mtime.UnixNano(), a.ModTime)
}
