package boxstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemBufferWriteReadRoundTrip(t *testing.T) {
	m := NewMemBuffer(nil)
	_, err := m.Write([]byte("hello"))
	require.NoError(t, err)

	_, err = m.Seek(0, SeekAbsolute)
	require.NoError(t, err)

	buf := make([]byte, 5)
	require.NoError(t, ReadFullBuffer(m, buf, time.Second))
	assert.Equal(t, "hello", string(buf))
	assert.False(t, m.DataLeft())
}

func TestReadFullBufferPartial(t *testing.T) {
	m := NewMemBuffer([]byte("ab"))
	buf := make([]byte, 5)
	err := ReadFullBuffer(m, buf, time.Second)
	assert.ErrorIs(t, err, ErrPartialRead)
}

func TestSeekFromEnd(t *testing.T) {
	m := NewMemBuffer([]byte("0123456789"))
	pos, err := m.Seek(-4, SeekFromEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	buf := make([]byte, 4)
	require.NoError(t, ReadFullBuffer(m, buf, time.Second))
	assert.Equal(t, "6789", string(buf))
}

func TestMemBlockRoundTrip(t *testing.T) {
	m := NewMemBuffer(nil)
	require.NoError(t, WriteMemBlock(m, []byte("payload")))
	require.NoError(t, WriteMemBlock(m, nil))

	_, err := m.Seek(0, SeekAbsolute)
	require.NoError(t, err)

	b1, err := ReadMemBlock(m, 1024, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b1))

	b2, err := ReadMemBlock(m, 1024, time.Second)
	require.NoError(t, err)
	assert.Empty(t, b2)
}

func TestMemBlockOverLimit(t *testing.T) {
	m := NewMemBuffer(nil)
	require.NoError(t, WriteMemBlock(m, make([]byte, 100)))
	_, err := m.Seek(0, SeekAbsolute)
	require.NoError(t, err)

	_, err = ReadMemBlock(m, 10, time.Second)
	assert.Error(t, err)
}
