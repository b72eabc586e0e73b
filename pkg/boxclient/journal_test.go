package boxclient

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/boxbackup/pkg/boxstore"
)

func TestJournalRoundTrip(t *testing.T) {
	root := &JournalLevel{
		Done:          []boxstore.ObjectID{1, 2, 3},
		NextLevelID:   4,
		NextLevelName: "subdir",
		Next: &JournalLevel{
			Done:          []boxstore.ObjectID{10},
			NextLevelID:   11,
			NextLevelName: "nested",
			Next: &JournalLevel{
				Done: []boxstore.ObjectID{20, 21},
			},
		},
	}

	path := filepath.Join(t.TempDir(), "journal")
	require.NoError(t, WriteJournal(path, root))

	got, err := ReadJournal(path)
	require.NoError(t, err)

	assert.Equal(t, root.Done, got.Done)
	assert.Equal(t, root.NextLevelID, got.NextLevelID)
	assert.Equal(t, root.NextLevelName, got.NextLevelName)
	require.NotNil(t, got.Next)
	assert.Equal(t, root.Next.Done, got.Next.Done)
	assert.Equal(t, root.Next.NextLevelID, got.Next.NextLevelID)
	require.NotNil(t, got.Next.Next)
	assert.Equal(t, root.Next.Next.Done, got.Next.Next.Done)
	assert.Equal(t, boxstore.ObjectID(0), got.Next.Next.NextLevelID)
}

func TestJournalRoundTripLeafOnly(t *testing.T) {
	root := &JournalLevel{Done: []boxstore.ObjectID{1, 2}}
	path := filepath.Join(t.TempDir(), "journal")
	require.NoError(t, WriteJournal(path, root))

	got, err := ReadJournal(path)
	require.NoError(t, err)
	assert.Equal(t, root.Done, got.Done)
	assert.Equal(t, boxstore.ObjectID(0), got.NextLevelID)
	assert.Nil(t, got.Next)
}

func TestReadJournalTruncated(t *testing.T) {
	root := &JournalLevel{Done: []boxstore.ObjectID{1, 2, 3}}
	path := filepath.Join(t.TempDir(), "journal")
	require.NoError(t, WriteJournal(path, root))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-3], 0o600))

	_, err = ReadJournal(path)
	assert.ErrorIs(t, err, ErrDamagedJournal)
}

func TestReadJournalTrailingGarbage(t *testing.T) {
	root := &JournalLevel{Done: []boxstore.ObjectID{1}}
	path := filepath.Join(t.TempDir(), "journal")
	require.NoError(t, WriteJournal(path, root))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(raw, 0xff, 0xff), 0o600))

	_, err = ReadJournal(path)
	assert.ErrorIs(t, err, ErrDamagedJournal)
}

func TestHasDone(t *testing.T) {
	l := &JournalLevel{Done: []boxstore.ObjectID{5, 6, 7}}
	assert.True(t, l.HasDone(6))
	assert.False(t, l.HasDone(8))
}
