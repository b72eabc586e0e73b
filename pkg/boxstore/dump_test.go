package boxstore

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpFileObject(t *testing.T) {
	ctx := testCtx(t)
	buf, _, err := EncodeFresh(ctx, filler(8192), "f.bin", EncodeOptions{ContainerID: 1, ModTime: time.Now()})
	require.NoError(t, err)
	obj := parse(t, ctx, buf)

	var out bytes.Buffer
	require.NoError(t, DumpFileObject(&out, obj))
	assert.Contains(t, out.String(), "File object.")
	assert.Contains(t, out.String(), "fresh")
}

func TestDumpDirectory(t *testing.T) {
	ctx := testCtx(t)
	d := NewDirectory(1, 0)
	d.AddEntry(newTestEntry(ctx, 10, "a.txt", FlagFile))
	d.AddEntry(newTestEntry(ctx, 11, "a.txt", FlagFile|FlagOldVersion))

	var out bytes.Buffer
	require.NoError(t, DumpDirectory(&out, d))
	assert.Contains(t, out.String(), "Directory object.")
	assert.Contains(t, out.String(), "old")
}
