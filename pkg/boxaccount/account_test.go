package boxaccount

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/boxbackup/pkg/boxstore"
)

func TestAllocateObjectIDIsMonotoneAndNeverReused(t *testing.T) {
	a := NewInfo(1, 100, 200)
	id1, err := a.AllocateObjectID()
	require.NoError(t, err)
	id2, err := a.AllocateObjectID()
	require.NoError(t, err)
	assert.Equal(t, boxstore.ObjectID(1), id1)
	assert.Equal(t, boxstore.ObjectID(2), id2)
}

func TestChangeMethodsTrackDirtyAndRejectReadOnly(t *testing.T) {
	a := NewInfo(1, 100, 200)
	require.NoError(t, a.ChangeBlocksUsed(5))
	assert.Equal(t, int64(5), a.BlocksUsed)
	assert.True(t, a.IsModified())

	a.readOnly = true
	err := a.ChangeBlocksUsed(1)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestCheckAdmissionHardAndSoftLimits(t *testing.T) {
	a := NewInfo(1, 10, 20)
	a.BlocksUsed = 8

	soft, err := a.CheckAdmission(1)
	require.NoError(t, err)
	assert.False(t, soft)

	soft, err = a.CheckAdmission(5) // 13 > soft(10)
	require.NoError(t, err)
	assert.True(t, soft)

	_, err = a.CheckAdmission(15) // 23 > hard(20)
	assert.ErrorIs(t, err, ErrHardLimitExceeded)
}

func TestAddDeletedDirectoryIsIdempotent(t *testing.T) {
	a := NewInfo(1, 100, 200)
	require.NoError(t, a.AddDeletedDirectory(7))
	require.NoError(t, a.AddDeletedDirectory(7))
	assert.Equal(t, []boxstore.ObjectID{7}, a.DeletedDirectories)

	require.NoError(t, a.RemoveDeletedDirectory(7))
	assert.Empty(t, a.DeletedDirectories)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "boxaccount-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	a := NewInfo(42, 100, 200)
	require.NoError(t, a.ChangeBlocksUsed(12))
	require.NoError(t, a.AddDeletedDirectory(3))
	require.NoError(t, a.AddDeletedDirectory(9))
	_, err = a.AllocateObjectID()
	require.NoError(t, err)

	path := filepath.Join(dir, "account-info")
	require.NoError(t, a.Save(path))
	assert.False(t, a.IsModified())

	_, err = os.Stat(path + ".yaml")
	require.NoError(t, err)

	loaded, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, a.AccountID, loaded.AccountID)
	assert.Equal(t, a.BlocksUsed, loaded.BlocksUsed)
	assert.Equal(t, a.LastObjectIDUsed, loaded.LastObjectIDUsed)
	assert.Equal(t, []boxstore.ObjectID{3, 9}, loaded.DeletedDirectories)
	assert.False(t, loaded.IsReadOnly())

	roLoaded, err := Load(path, true)
	require.NoError(t, err)
	assert.True(t, roLoaded.IsReadOnly())
	assert.ErrorIs(t, roLoaded.ChangeBlocksUsed(1), ErrReadOnly)
}
