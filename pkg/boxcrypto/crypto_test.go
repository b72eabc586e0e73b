package boxcrypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	raw := make([]byte, KeyMaterialLength)
	for i := range raw {
		raw[i] = byte(i)
	}
	c, err := LoadKeyMaterial(raw)
	require.NoError(t, err)
	return c
}

func TestLoadKeyMaterialTooShort(t *testing.T) {
	_, err := LoadKeyMaterial(make([]byte, KeyMaterialLength-1))
	assert.ErrorIs(t, err, ErrKeyMaterialTooShort)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testContext(t)
	cleartext := []byte("hello world, this is a test attribute blob")

	for _, field := range []string{"filename", "attribute", "block", "blockentry"} {
		ct, err := c.Encrypt(field, cleartext)
		require.NoError(t, err)
		assert.NotEqual(t, cleartext, ct)

		pt, err := c.Decrypt(field, ct, 0, false)
		require.NoError(t, err)
		assert.Equal(t, cleartext, pt)
	}
}

func TestEncryptDeterministicRoundTrip(t *testing.T) {
	c := testContext(t)
	cleartext := []byte("a fixed-size block of cleartext")

	ct1, err := c.EncryptDeterministic("block", 42, cleartext)
	require.NoError(t, err)
	ct2, err := c.EncryptDeterministic("block", 42, cleartext)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(ct1, ct2), "deterministic encryption must be stable for identical (ivBase, cleartext)")

	pt, err := c.Decrypt("block", ct1, 42, true)
	require.NoError(t, err)
	assert.Equal(t, cleartext, pt)

	_, err = c.Decrypt("block", ct1, 43, true)
	assert.Error(t, err, "wrong ivBase must fail authentication")
}

func TestKeyedDigestStable(t *testing.T) {
	c := testContext(t)
	stat := []byte{1, 2, 3, 4}
	d1 := c.KeyedDigest("file.txt", stat)
	d2 := c.KeyedDigest("file.txt", stat)
	assert.Equal(t, d1, d2)

	d3 := c.KeyedDigest("other.txt", stat)
	assert.NotEqual(t, d1, d3)
}

func TestZeroWipesKeys(t *testing.T) {
	c := testContext(t)
	c.Zero()
	for _, b := range [][]byte{c.filenameKey, c.attributeKey, c.blockKey, c.blockEntryKey, c.attrHashKey} {
		for _, v := range b {
			assert.Equal(t, byte(0), v)
		}
	}
}
