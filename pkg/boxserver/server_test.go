package boxserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/boxbackup/pkg/boxaccount"
	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxserver/recordstore"
	"github.com/vorteil/boxbackup/pkg/boxstore"
)

func testCtx(t *testing.T) *boxcrypto.Context {
	t.Helper()
	raw := make([]byte, boxcrypto.KeyMaterialLength)
	for i := range raw {
		raw[i] = byte(i * 13)
	}
	ctx, err := boxcrypto.LoadKeyMaterial(raw)
	require.NoError(t, err)
	return ctx
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	backend, err := recordstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	cfg := &Config{
		StoreRoot:           t.TempDir(),
		DefaultSoftLimit:    8,
		DefaultHardLimit:    10,
		OldVersionRetention: 30 * 24 * time.Hour,
		DeletedRetention:    7 * 24 * time.Hour,
		LockTimeout:         time.Second,
	}
	return NewServer(cfg, backend, testCtx(t))
}

// filler returns deterministic, non-repeating-at-short-period content
// so the content-defined chunker has real boundaries to find.
func filler(n int) []byte {
	buf := make([]byte, n)
	x := uint32(2463534242)
	for i := range buf {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		buf[i] = byte(x)
	}
	return buf
}

func TestServerCreateAccountAndRoundTripObject(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rootID, err := s.CreateAccount(1)
	require.NoError(t, err)
	assert.NotZero(t, rootID)

	data := []byte("hello, encrypted world")
	id, err := s.StoreObject(ctx, 1, rootID, data)
	require.NoError(t, err)

	got, err := s.GetFile(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestServerStoreDirectoryAndListDirectory(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rootID, err := s.CreateAccount(1)
	require.NoError(t, err)

	fileID, err := s.StoreObject(ctx, 1, rootID, []byte("file contents"))
	require.NoError(t, err)

	d, err := s.ListDirectory(ctx, 1, rootID, boxstore.EntryFilter{})
	require.NoError(t, err)

	name, err := boxstore.EncryptFilename(s.cc, "a.txt")
	require.NoError(t, err)
	d.AddEntry(&boxstore.DirectoryEntry{
		ModTime:      time.Unix(1700000000, 0).UTC(),
		ObjectID:     fileID,
		SizeInBlocks: 1,
		Flags:        boxstore.FlagFile,
		Name:         name,
		Attrs:        &boxstore.Attributes{},
	})
	require.NoError(t, s.StoreDirectory(ctx, 1, d))

	listed, err := s.ListDirectory(ctx, 1, rootID, boxstore.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, listed.Entries, 1)
	assert.Equal(t, fileID, listed.Entries[0].ObjectID)
}

func TestServerListDirectoryAppliesFilter(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rootID, err := s.CreateAccount(1)
	require.NoError(t, err)

	d, err := s.ListDirectory(ctx, 1, rootID, boxstore.EntryFilter{})
	require.NoError(t, err)

	liveName, err := boxstore.EncryptFilename(s.cc, "live.txt")
	require.NoError(t, err)
	deletedName, err := boxstore.EncryptFilename(s.cc, "gone.txt")
	require.NoError(t, err)
	d.AddEntry(&boxstore.DirectoryEntry{ObjectID: 100, Flags: boxstore.FlagFile, Name: liveName, Attrs: &boxstore.Attributes{}})
	d.AddEntry(&boxstore.DirectoryEntry{ObjectID: 101, Flags: boxstore.FlagFile | boxstore.FlagDeleted, Name: deletedName, Attrs: &boxstore.Attributes{}})
	require.NoError(t, s.StoreDirectory(ctx, 1, d))

	listed, err := s.ListDirectory(ctx, 1, rootID, boxstore.EntryFilter{MustNotBeSet: boxstore.FlagDeleted})
	require.NoError(t, err)
	require.Len(t, listed.Entries, 1)
	assert.EqualValues(t, 100, listed.Entries[0].ObjectID)
}

func TestServerStoreObjectRejectsOverHardLimit(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rootID, err := s.CreateAccount(1)
	require.NoError(t, err)

	huge := filler(int(s.cfg.DefaultHardLimit+1) * boxaccount.BlockSize)
	_, err = s.StoreObject(ctx, 1, rootID, huge)
	assert.Error(t, err)
}

func TestServerDeleteFileFlagsEntry(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rootID, err := s.CreateAccount(1)
	require.NoError(t, err)
	fileID, err := s.StoreObject(ctx, 1, rootID, []byte("doomed"))
	require.NoError(t, err)

	d, err := s.ListDirectory(ctx, 1, rootID, boxstore.EntryFilter{})
	require.NoError(t, err)
	name, err := boxstore.EncryptFilename(s.cc, "doomed.txt")
	require.NoError(t, err)
	d.AddEntry(&boxstore.DirectoryEntry{ObjectID: fileID, Flags: boxstore.FlagFile, Name: name, Attrs: &boxstore.Attributes{}})
	require.NoError(t, s.StoreDirectory(ctx, 1, d))

	require.NoError(t, s.DeleteFile(ctx, 1, rootID, name))

	listed, err := s.ListDirectory(ctx, 1, rootID, boxstore.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, listed.Entries, 1)
	assert.True(t, listed.Entries[0].Flags.Has(boxstore.FlagDeleted))
}

func TestServerDeleteUndeleteDirectory(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rootID, err := s.CreateAccount(1)
	require.NoError(t, err)
	childID, err := s.MakeDirectory(ctx, 1, rootID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteDirectory(ctx, 1, childID))
	assert.Contains(t, s.accounts[1].info.DeletedDirectories, childID)

	require.NoError(t, s.UndeleteDirectory(ctx, 1, childID))
	assert.NotContains(t, s.accounts[1].info.DeletedDirectories, childID)
}

func TestServerFetchBlockResolvesBorrowedChain(t *testing.T) {
	s := newTestServer(t)
	// The 64 KiB base object needs about 17 quota blocks.
	s.cfg.DefaultSoftLimit, s.cfg.DefaultHardLimit = 64, 64
	ctx := context.Background()

	rootID, err := s.CreateAccount(1)
	require.NoError(t, err)

	cleartext := filler(64 * 1024)
	fresh, trailer, err := boxstore.EncodeFresh(s.cc, cleartext, "base.bin", boxstore.EncodeOptions{ContainerID: rootID})
	require.NoError(t, err)
	baseID, err := s.StoreObject(ctx, 1, rootID, fresh.Bytes())
	require.NoError(t, err)

	diff, err := boxstore.EncodeDiff(s.cc, cleartext, "base.bin", boxstore.EncodeOptions{ContainerID: rootID}, baseID, trailer, boxstore.DiffBudget{})
	require.NoError(t, err)
	require.True(t, len(diff.Trailer.Entries) > 0)

	var sawBorrow bool
	for _, e := range diff.Trailer.Entries {
		if !e.IsPresent() {
			sawBorrow = true
			break
		}
	}
	require.True(t, sawBorrow, "diff against identical content should borrow at least one block")

	diffID, err := s.StoreObject(ctx, 1, rootID, diff.Buf.Bytes())
	require.NoError(t, err)

	obj, err := s.GetTrailer(ctx, 1, diffID)
	require.NoError(t, err)

	var borrowedOrdinal int64
	for i, e := range obj.Entries {
		if !e.IsPresent() {
			borrowedOrdinal = int64(i) + 1
			break
		}
	}
	require.NotZero(t, borrowedOrdinal)

	block, err := s.FetchBlock(ctx, 1, diffID, borrowedOrdinal)
	require.NoError(t, err)
	assert.NotEmpty(t, block)
}

func TestLockRegistrySharedAcrossServerCalls(t *testing.T) {
	s := newTestServer(t)
	rootID, err := s.CreateAccount(1)
	require.NoError(t, err)

	lock := s.locks.For(1)
	require.NoError(t, lock.AcquireWriter(time.Second))

	_, err = s.StoreObject(context.Background(), 1, rootID, []byte("x"))
	assert.Equal(t, ErrAccountBusy, err)

	lock.ReleaseWriter()

	_, err = s.StoreObject(context.Background(), 1, rootID, []byte("x"))
	require.NoError(t, err)
}
