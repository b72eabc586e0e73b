package boxhousekeeping

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/boxbackup/pkg/boxaccount"
	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstore"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

func filler(n int) []byte {
	phrase := "the quick brown fox jumps over the lazy dog; "
	buf := bytes.Repeat([]byte(phrase), n/len(phrase)+1)
	return buf[:n]
}

func testCtx(t *testing.T) *boxcrypto.Context {
	t.Helper()
	raw := make([]byte, boxcrypto.KeyMaterialLength)
	for i := range raw {
		raw[i] = byte(i * 3)
	}
	ctx, err := boxcrypto.LoadKeyMaterial(raw)
	require.NoError(t, err)
	return ctx
}

type fakeStore struct {
	objects map[boxstore.ObjectID][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[boxstore.ObjectID][]byte)}
}

func (s *fakeStore) GetObject(id boxstore.ObjectID) ([]byte, error) {
	b, ok := s.objects[id]
	if !ok {
		return nil, boxstore.ErrCouldNotFindEntry
	}
	return b, nil
}

func (s *fakeStore) PutObject(id boxstore.ObjectID, data []byte) error {
	cp := append([]byte(nil), data...)
	s.objects[id] = cp
	return nil
}

func (s *fakeStore) DeleteObject(id boxstore.ObjectID) error {
	delete(s.objects, id)
	return nil
}

// buildChain stores A (complete, id=10), B (diff against A, id=11,
// OldVersion, aged), C (diff against B, id=12, OldVersion, aged) in a
// directory object at id=1, and returns the directory id.
func buildChain(t *testing.T, ctx *boxcrypto.Context, store *fakeStore, oldModTime time.Time) boxstore.ObjectID {
	t.Helper()

	a := filler(8192)
	freshRes, trailerA, err := boxstore.EncodeFresh(ctx, a, "f.bin", boxstore.EncodeOptions{ContainerID: 1, ModTime: time.Now()})
	require.NoError(t, err)
	require.NoError(t, store.PutObject(10, freshRes.Bytes()))

	b := append(append([]byte{}, a...), []byte(" - version b tail")...)
	diffB, err := boxstore.EncodeDiff(ctx, b, "f.bin", boxstore.EncodeOptions{ContainerID: 1, ModTime: time.Now()}, 10, trailerA, boxstore.DiffBudget{})
	require.NoError(t, err)
	require.NoError(t, store.PutObject(11, diffB.Buf.Bytes()))

	c := append(append([]byte{}, b...), []byte(" - version c tail")...)
	diffC, err := boxstore.EncodeDiff(ctx, c, "f.bin", boxstore.EncodeOptions{ContainerID: 1, ModTime: time.Now()}, 11, diffB.Trailer, boxstore.DiffBudget{})
	require.NoError(t, err)
	require.NoError(t, store.PutObject(12, diffC.Buf.Bytes()))

	d := boxstore.NewDirectory(1, 0)
	name, err := boxstore.EncryptFilename(ctx, "a")
	require.NoError(t, err)

	entryA := &boxstore.DirectoryEntry{
		ObjectID: 10, Flags: boxstore.FlagFile, ModTime: time.Now(),
		Name: name, Attrs: &boxstore.Attributes{},
		SizeInBlocks: uint64(boxaccount.BlocksFor(len(freshRes.Bytes()))),
	}
	entryB := &boxstore.DirectoryEntry{
		ObjectID: 11, Flags: boxstore.FlagFile | boxstore.FlagOldVersion, ModTime: oldModTime,
		Name: name, Attrs: &boxstore.Attributes{},
		SizeInBlocks: uint64(boxaccount.BlocksFor(len(diffB.Buf.Bytes()))),
		DependsOlder: 10,
	}
	entryC := &boxstore.DirectoryEntry{
		ObjectID: 12, Flags: boxstore.FlagFile | boxstore.FlagOldVersion, ModTime: oldModTime,
		Name: name, Attrs: &boxstore.Attributes{},
		SizeInBlocks: uint64(boxaccount.BlocksFor(len(diffC.Buf.Bytes()))),
		DependsOlder: 11,
	}
	d.AddEntry(entryA)
	d.AddEntry(entryB)
	d.AddEntry(entryC)

	out := boxstream.NewMemBuffer(nil)
	require.NoError(t, boxstore.WriteDirectory(out, ctx, d, boxstore.EntryFilter{}))
	require.NoError(t, store.PutObject(1, out.Bytes()))

	return 1
}

func TestRunCollapsesMiddleOfChainAndPrunesIt(t *testing.T) {
	ctx := testCtx(t)
	store := newFakeStore()
	old := time.Now().Add(-48 * time.Hour)
	dirID := buildChain(t, ctx, store, old)

	acct := boxaccount.NewInfo(1, 0, 0)
	require.NoError(t, acct.ChangeBlocksUsed(30))
	acct.LastObjectIDUsed = 100

	report, err := Run(ctx, store, acct, dirID, Options{
		Now:                 time.Now(),
		OldVersionRetention: 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChainsCollapsed)
	assert.Equal(t, 1, report.EntriesPruned)

	raw, err := store.GetObject(dirID)
	require.NoError(t, err)
	d, err := boxstore.ReadDirectory(boxstream.NewMemBuffer(raw), maxAttrLen)
	require.NoError(t, err)
	assert.Len(t, d.Entries, 2)

	_, err = d.FindEntryByID(11)
	assert.Error(t, err)

	var survivor *boxstore.DirectoryEntry
	for _, e := range d.Entries {
		if e.ObjectID != 10 {
			survivor = e
		}
	}
	require.NotNil(t, survivor)
	assert.Equal(t, boxstore.ObjectID(0), survivor.DependsOlder)

	survivorBytes, err := store.GetObject(survivor.ObjectID)
	require.NoError(t, err)
	survivorObj, err := boxstore.ParseFileObject(boxstream.NewMemBuffer(survivorBytes), ctx)
	require.NoError(t, err)
	for _, e := range survivorObj.Trailer.Entries {
		assert.True(t, e.IsPresent())
	}

	_, err = store.GetObject(11)
	assert.Error(t, err)
}

func TestRunLeavesFreshChainUntouched(t *testing.T) {
	ctx := testCtx(t)
	store := newFakeStore()
	recent := time.Now()
	dirID := buildChain(t, ctx, store, recent)

	acct := boxaccount.NewInfo(1, 0, 0)
	acct.LastObjectIDUsed = 100

	report, err := Run(ctx, store, acct, dirID, Options{
		Now:                 time.Now(),
		OldVersionRetention: 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.EntriesPruned)
	assert.Equal(t, 0, report.ChainsCollapsed)
}

func TestDrainDeletedDirectoriesRemovesEmptyOnes(t *testing.T) {
	ctx := testCtx(t)
	store := newFakeStore()

	empty := boxstore.NewDirectory(5, 1)
	out := boxstream.NewMemBuffer(nil)
	require.NoError(t, boxstore.WriteDirectory(out, ctx, empty, boxstore.EntryFilter{}))
	require.NoError(t, store.PutObject(5, out.Bytes()))

	root := boxstore.NewDirectory(1, 0)
	rootOut := boxstream.NewMemBuffer(nil)
	require.NoError(t, boxstore.WriteDirectory(rootOut, ctx, root, boxstore.EntryFilter{}))
	require.NoError(t, store.PutObject(1, rootOut.Bytes()))

	acct := boxaccount.NewInfo(1, 0, 0)
	require.NoError(t, acct.ChangeBlocksInDirectories(1))
	require.NoError(t, acct.AddDeletedDirectory(5))

	report, err := Run(ctx, store, acct, 1, Options{Now: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, report.DirectoriesRemoved)
	assert.Empty(t, acct.DeletedDirectories)

	_, err = store.GetObject(5)
	assert.Error(t, err)
}

func TestAccountLockTimesOutWhenHeld(t *testing.T) {
	l := NewAccountLock()
	require.NoError(t, l.Acquire(time.Second))
	defer l.Release()

	err := l.Acquire(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrAccountBusy)
}
