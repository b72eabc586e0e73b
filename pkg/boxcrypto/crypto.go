// Package boxcrypto provides the symmetric encryption primitives used
// to protect filenames, attributes and file block payloads before they
// ever leave the client. The server never holds a CryptoContext: it
// only sees ciphertext, object ids and sizes.
package boxcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blowfish"
)

// ErrKeyMaterialTooShort is returned when the key-material file is
// shorter than the fixed layout requires.
var ErrKeyMaterialTooShort = errors.New("boxcrypto: key material file too short")

// Cipher selects which symmetric algorithm a Context uses for a field.
type Cipher int

const (
	// CipherAESGCM is the V1 (current) cipher used for filenames,
	// attributes and file blocks.
	CipherAESGCM Cipher = iota
	// CipherBlowfishCBC is the V0 (legacy) cipher, kept for reading
	// objects written by older clients. Never produced for new data.
	CipherBlowfishCBC
)

// Fixed byte offsets within the key-material file. Reordering these
// breaks compatibility with every object already on a server.
const (
	offsetFilenameKey   = 0
	lenFilenameKey      = 32
	offsetFilenameIV    = offsetFilenameKey + lenFilenameKey
	lenFilenameIV       = 16
	offsetAttributeKey  = offsetFilenameIV + lenFilenameIV
	lenAttributeKey     = 32
	offsetBlockKey      = offsetAttributeKey + lenAttributeKey
	lenBlockKey         = 32
	offsetBlockEntryKey = offsetBlockKey + lenBlockKey
	lenBlockEntryKey    = 32
	offsetAttrHashKey   = offsetBlockEntryKey + lenBlockEntryKey
	lenAttrHashKey      = 32
	offsetHSBlockKey    = offsetAttrHashKey + lenAttrHashKey
	lenHSBlockKey       = 32

	// KeyMaterialLength is the total size of a valid key-material file.
	KeyMaterialLength = offsetHSBlockKey + lenHSBlockKey
)

// Context holds every sub-key loaded from the key-material file. It is
// built once at client start and passed explicitly to every codec
// call for the lifetime of the process; there is no global cipher
// state. Zero must be called before the process exits or the Context
// is discarded.
type Context struct {
	filenameKey   []byte
	filenameIV    []byte
	attributeKey  []byte
	blockKey      []byte
	blockEntryKey []byte
	attrHashKey   []byte
	hsBlockKey    []byte // optional high-strength block key; nil if unset

	wiped bool
}

// LoadKeyMaterial partitions raw into the sub-keys described in
// spec §4.1 and builds a Context. The sub-ranges are copied out and
// raw is then zeroed in place; Context.Zero wipes the copies.
func LoadKeyMaterial(raw []byte) (*Context, error) {
	if len(raw) < KeyMaterialLength {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrKeyMaterialTooShort, KeyMaterialLength, len(raw))
	}

	c := &Context{
		filenameKey:   append([]byte(nil), raw[offsetFilenameKey:offsetFilenameKey+lenFilenameKey]...),
		filenameIV:    append([]byte(nil), raw[offsetFilenameIV:offsetFilenameIV+lenFilenameIV]...),
		attributeKey:  append([]byte(nil), raw[offsetAttributeKey:offsetAttributeKey+lenAttributeKey]...),
		blockKey:      append([]byte(nil), raw[offsetBlockKey:offsetBlockKey+lenBlockKey]...),
		blockEntryKey: append([]byte(nil), raw[offsetBlockEntryKey:offsetBlockEntryKey+lenBlockEntryKey]...),
		attrHashKey:   append([]byte(nil), raw[offsetAttrHashKey:offsetAttrHashKey+lenAttrHashKey]...),
	}

	if len(raw) >= KeyMaterialLength+lenHSBlockKey {
		c.hsBlockKey = append([]byte(nil), raw[offsetHSBlockKey:offsetHSBlockKey+lenHSBlockKey]...)
	}

	for i := range raw {
		raw[i] = 0
	}
	return c, nil
}

// Zero wipes every sub-key in place. Call it once the Context is no
// longer needed.
func (c *Context) Zero() {
	if c.wiped {
		return
	}
	for _, b := range [][]byte{c.filenameKey, c.filenameIV, c.attributeKey, c.blockKey, c.blockEntryKey, c.attrHashKey, c.hsBlockKey} {
		for i := range b {
			b[i] = 0
		}
	}
	c.wiped = true
}

func keyFor(c *Context, field string) []byte {
	switch field {
	case "filename":
		return c.filenameKey
	case "attribute":
		return c.attributeKey
	case "block":
		if c.hsBlockKey != nil {
			return c.hsBlockKey
		}
		return c.blockKey
	case "blockentry":
		return c.blockEntryKey
	default:
		panic("boxcrypto: unknown field " + field)
	}
}

// Encrypt encrypts cleartext for field ("filename", "attribute",
// "block" or "blockentry") using the current (V1/AES-GCM) cipher. The
// returned ciphertext is not self-delimiting: callers apply their own
// length prefix on the wire per spec §4.4, this function only returns
// the cipher's bytes (GCM nonce prepended).
func (c *Context) Encrypt(field string, cleartext []byte) ([]byte, error) {
	key := keyFor(c, field)
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, cleartext, nil), nil
}

// EncryptDeterministic encrypts cleartext for field using a
// caller-supplied IV/nonce instead of a random one. Used by the file
// block encoder (C5.1/C5.2), which derives an IV base from the block
// position so that identical cleartext blocks at the same logical
// offset across re-uploads remain diffable.
func (c *Context) EncryptDeterministic(field string, ivBase uint64, cleartext []byte) ([]byte, error) {
	key := keyFor(c, field)
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], ivBase)
	return gcm.Seal(nil, nonce, cleartext, nil), nil
}

// Decrypt reverses Encrypt/EncryptDeterministic for the V1 cipher.
// deterministic must match whichever variant produced ciphertext: a
// random-nonce ciphertext carries its nonce as a prefix, a
// deterministic one does not.
func (c *Context) Decrypt(field string, ciphertext []byte, ivBase uint64, deterministic bool) ([]byte, error) {
	key := keyFor(c, field)
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if deterministic {
		nonce := make([]byte, gcm.NonceSize())
		binary.BigEndian.PutUint64(nonce[len(nonce)-8:], ivBase)
		return gcm.Open(nil, nonce, ciphertext, nil)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("boxcrypto: ciphertext shorter than nonce")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

// DecryptLegacy decrypts a V0 object field using Blowfish-CBC. V0 is
// read-only: the client never produces it, only decodes objects
// written by a legacy client.
func (c *Context) DecryptLegacy(field string, ciphertext []byte) ([]byte, error) {
	key := keyFor(c, field)
	block, err := blowfish.NewCipher(key[:16])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < blowfish.BlockSize || len(ciphertext)%blowfish.BlockSize != 0 {
		return nil, errors.New("boxcrypto: legacy ciphertext not block-aligned")
	}
	iv := c.filenameIV
	if len(iv) < blowfish.BlockSize {
		iv = make([]byte, blowfish.BlockSize)
	}
	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv[:blowfish.BlockSize])
	mode.CryptBlocks(out, ciphertext)
	return unpad(out)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return b, nil
	}
	n := int(b[len(b)-1])
	if n <= 0 || n > len(b) {
		return nil, errors.New("boxcrypto: bad padding")
	}
	return b[:len(b)-n], nil
}

// KeyedDigest computes the 64-bit keyed digest used for a directory
// entry's AttributesHash field: stable across runs for identical
// (filename, stat-tuple) inputs, per spec §4.1.
func (c *Context) KeyedDigest(filename string, statTuple []byte) uint64 {
	h := fnv64aSeeded(c.attrHashKey)
	h.Write([]byte(filename))
	h.Write(statTuple)
	return h.Sum64()
}
