package boxclient

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/boxbackup/pkg/boxstore"
)

func testConfig() *Config {
	return &Config{
		DiffBudget:    30 * time.Second,
		MinMatchRatio: 0.1,
	}
}

func TestUploadFileFirstBackupIsFresh(t *testing.T) {
	cc := testCtx(t)
	conn := newFakeConn(cc)
	ds := NewDiffState(filepath.Join(t.TempDir(), "cache.json"), time.Hour)
	now := time.Unix(0, 0)

	id, plan, err := UploadFile(context.Background(), cc, conn, ds, nil, testConfig(), "/data/a.txt", "a.txt", []byte("hello world, this is a fresh file"), 0, 1, now)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.False(t, plan.IsDiff)
	assert.False(t, plan.IsCompletelyDifferent)
	require.NotNil(t, plan.Trailer)

	raw, err := conn.FetchObject(context.Background(), id)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestUploadFileSecondBackupDiffsAgainstPrior(t *testing.T) {
	cc := testCtx(t)
	conn := newFakeConn(cc)
	ds := NewDiffState(filepath.Join(t.TempDir(), "cache.json"), time.Hour)
	now := time.Unix(0, 0)

	original := make([]byte, 64*1024)
	for i := range original {
		original[i] = byte(i)
	}
	priorID, _, err := UploadFile(context.Background(), cc, conn, ds, nil, testConfig(), "/data/big.bin", "big.bin", original, 0, 1, now)
	require.NoError(t, err)

	// Change only the last kilobyte: most of the file still matches
	// the prior object's blocks.
	changed := append([]byte(nil), original...)
	for i := len(changed) - 1024; i < len(changed); i++ {
		changed[i] ^= 0xff
	}

	id, plan, err := UploadFile(context.Background(), cc, conn, ds, nil, testConfig(), "/data/big.bin", "big.bin", changed, priorID, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, priorID, id)
	assert.True(t, plan.IsDiff)
	assert.False(t, plan.IsCompletelyDifferent)
	assert.Equal(t, priorID, plan.PriorObjectID)

	borrowed := 0
	for _, e := range plan.Trailer.Entries {
		if !e.IsPresent() {
			borrowed++
		}
	}
	assert.Greater(t, borrowed, 0)
}

func TestUploadFileCompletelyDifferentFallsBackToFresh(t *testing.T) {
	cc := testCtx(t)
	conn := newFakeConn(cc)
	ds := NewDiffState(filepath.Join(t.TempDir(), "cache.json"), time.Hour)
	now := time.Unix(0, 0)

	priorID, _, err := UploadFile(context.Background(), cc, conn, ds, nil, testConfig(), "/data/c.bin", "c.bin", []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 0, 1, now)
	require.NoError(t, err)

	unrelated := []byte("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	id, plan, err := UploadFile(context.Background(), cc, conn, ds, nil, testConfig(), "/data/c.bin", "c.bin", unrelated, priorID, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.False(t, plan.IsDiff)

	raw, err := conn.FetchObject(context.Background(), id)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestUploadFileRecordsIntoDiffState(t *testing.T) {
	cc := testCtx(t)
	conn := newFakeConn(cc)
	ds := NewDiffState(filepath.Join(t.TempDir(), "cache.json"), time.Hour)
	now := time.Unix(0, 0)

	localPath := "/data/a.txt"
	id, _, err := UploadFile(context.Background(), cc, conn, ds, nil, testConfig(), localPath, "a.txt", []byte("hello world"), 0, 1, now)
	require.NoError(t, err)

	cachedID, trailer, ok := ds.Lookup(Key(cc, localPath), now)
	require.True(t, ok)
	assert.Equal(t, id, cachedID)
	assert.NotNil(t, trailer)
}

func TestStreamObjectRoundTrip(t *testing.T) {
	cc := testCtx(t)
	conn := newFakeConn(cc)
	payload := []byte("encoded object bytes")
	id, err := streamObject(context.Background(), conn, noopView{}, 1, payload, len(payload))
	require.NoError(t, err)

	_ = boxstore.ObjectID(id)
	raw, err := conn.FetchObject(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, payload, raw)
}
