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

func TestDiffStateLookupMissAndRecord(t *testing.T) {
	ds := NewDiffState(filepath.Join(t.TempDir(), "cache.json"), time.Hour)
	now := time.Unix(1000, 0)

	_, _, ok := ds.Lookup(42, now)
	assert.False(t, ok)

	trailer := &boxstore.Trailer{Header: boxstore.IndexHeader{NumEntries: 1}}
	ds.Record(42, 7, trailer, now)

	id, got, ok := ds.Lookup(42, now)
	require.True(t, ok)
	assert.Equal(t, boxstore.ObjectID(7), id)
	assert.Equal(t, trailer.Header, got.Header)
}

func TestDiffStateExpiresPastTTL(t *testing.T) {
	ds := NewDiffState(filepath.Join(t.TempDir(), "cache.json"), time.Minute)
	now := time.Unix(1000, 0)
	ds.Record(1, 2, &boxstore.Trailer{}, now)

	_, _, ok := ds.Lookup(1, now.Add(2*time.Minute))
	assert.False(t, ok)
}

func TestDiffStateForget(t *testing.T) {
	ds := NewDiffState(filepath.Join(t.TempDir(), "cache.json"), time.Hour)
	now := time.Unix(1000, 0)
	ds.Record(1, 2, &boxstore.Trailer{}, now)
	ds.Forget(1)

	_, _, ok := ds.Lookup(1, now)
	assert.False(t, ok)
}

func TestDiffStateSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	ds := NewDiffState(path, time.Hour)
	now := time.Unix(5000, 0)
	trailer := &boxstore.Trailer{
		Header:  boxstore.IndexHeader{Magic: 1, OtherFileID: 3, NumEntries: 1},
		Entries: []boxstore.BlockIndexEntry{{EncodedSize: 32, IVBase: 1}},
	}
	ds.Record(99, 5, trailer, now)
	require.NoError(t, ds.Save())

	reloaded := NewDiffState(path, time.Hour)
	id, got, ok := reloaded.Lookup(99, now)
	require.True(t, ok)
	assert.Equal(t, boxstore.ObjectID(5), id)
	assert.Equal(t, trailer.Entries, got.Entries)
}

func TestResolvePriorNoPriorObject(t *testing.T) {
	cc := testCtx(t)
	conn := newFakeConn(cc)
	ds := NewDiffState(filepath.Join(t.TempDir(), "cache.json"), time.Hour)

	trailer, err := resolvePrior(context.Background(), conn, ds, Key(cc, "/a"), 0, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Nil(t, trailer)
}

func TestResolvePriorFetchesAndCaches(t *testing.T) {
	cc := testCtx(t)
	conn := newFakeConn(cc)
	ds := NewDiffState(filepath.Join(t.TempDir(), "cache.json"), time.Hour)
	now := time.Unix(0, 0)

	fresh, freshTrailer, err := boxstore.EncodeFresh(cc, []byte("hello world"), "a.txt", boxstore.EncodeOptions{ContainerID: 1, ModTime: now})
	require.NoError(t, err)
	id, err := conn.StoreObject(context.Background(), 1, fresh.Bytes())
	require.NoError(t, err)

	key := Key(cc, "/a")
	got, err := resolvePrior(context.Background(), conn, ds, key, id, now)
	require.NoError(t, err)
	assert.Equal(t, freshTrailer.Header, got.Header)

	// Cached now: a second resolve must not need the connection at all.
	emptyConn := newFakeConn(cc)
	got2, err := resolvePrior(context.Background(), emptyConn, ds, key, id, now)
	require.NoError(t, err)
	assert.Equal(t, freshTrailer.Header, got2.Header)
}

func TestMatchRatio(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, float64(0), matchRatio(&boxstore.Trailer{}))
	})
	t.Run("half borrowed", func(t *testing.T) {
		tr := &boxstore.Trailer{Entries: []boxstore.BlockIndexEntry{
			{EncodedSize: 32},
			{EncodedSize: -1},
		}}
		assert.Equal(t, 0.5, matchRatio(tr))
	})
}
