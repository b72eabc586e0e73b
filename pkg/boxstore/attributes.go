package boxstore

import (
	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

// Attributes is the encrypted attribute blob carried by both file
// objects and directory entries, with a cleartext cache to avoid
// re-decryption on repeated reads within one session (spec §4.3).
type Attributes struct {
	ciphertext []byte
	cleartext  []byte
	cached     bool
}

// NewAttributes wraps a ciphertext blob read off the wire/disk.
func NewAttributes(ciphertext []byte) *Attributes {
	return &Attributes{ciphertext: ciphertext}
}

// HasAttributes is true iff the encrypted block is non-empty.
func (a *Attributes) HasAttributes() bool {
	return len(a.ciphertext) > 0
}

// Decode returns the cleartext attribute blob, decrypting once and
// caching thereafter.
func (a *Attributes) Decode(ctx *boxcrypto.Context) ([]byte, error) {
	if !a.HasAttributes() {
		return nil, nil
	}
	if a.cached {
		return a.cleartext, nil
	}
	pt, err := ctx.Decrypt("attribute", a.ciphertext, 0, false)
	if err != nil {
		return nil, err
	}
	a.cleartext = pt
	a.cached = true
	return pt, nil
}

// SetAttributes replaces both the ciphertext and the cached
// cleartext, matching spec §4.3's contract that SetAttributes always
// replaces both together (never just one, to avoid a stale cache).
func (a *Attributes) SetAttributes(ctx *boxcrypto.Context, cleartext []byte) error {
	if len(cleartext) == 0 {
		a.ciphertext = nil
		a.cleartext = nil
		a.cached = false
		return nil
	}
	ct, err := ctx.Encrypt("attribute", cleartext)
	if err != nil {
		return err
	}
	a.ciphertext = ct
	a.cleartext = append([]byte(nil), cleartext...)
	a.cached = true
	return nil
}

// Ciphertext returns the raw encrypted blob for serialization.
func (a *Attributes) Ciphertext() []byte {
	return a.ciphertext
}

// WriteTo writes the attribute blob as a length-prefixed mem-block.
func (a *Attributes) WriteTo(w *boxstream.MemBuffer) error {
	return boxstream.WriteMemBlock(w, a.ciphertext)
}

// ReadAttributes reads an attribute blob written by WriteTo.
func ReadAttributes(r *boxstream.MemBuffer, maxLen uint32) (*Attributes, error) {
	blob, err := boxstream.ReadMemBlock(r, maxLen, 0)
	if err != nil {
		return nil, err
	}
	return NewAttributes(blob), nil
}
