package boxstore

import (
	"encoding/binary"
	"fmt"

	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

// Filename encodings, packed into the low 2 bits of the wire header.
type nameEncoding uint16

const (
	encodingClear    nameEncoding = 1
	encodingBlowfish nameEncoding = 2 // legacy V0 tag value; EncryptFilename writes it for every encrypted (AES-GCM) name
)

// sizeBits/encodingBits split a 16-bit header: size (14 bits,
// includes the header itself) packed with a 2-bit encoding tag.
const (
	nameSizeBits     = 14
	nameEncodingMask = 0x3
)

// EncodedFilename is the on-wire representation of a directory
// entry's or file object's name field: a two-byte header (size +
// encoding) followed by that many bytes total.
type EncodedFilename struct {
	Encoding nameEncoding
	Payload  []byte // ciphertext (or cleartext, iff Encoding == Clear)
}

// EncryptFilename encrypts cleartext with the filename key and wraps
// it in the wire header. Only the server ever produces Clear names
// (for server-generated entries); any client-originated name must be
// encrypted.
func EncryptFilename(ctx *boxcrypto.Context, cleartext string) (*EncodedFilename, error) {
	ct, err := ctx.Encrypt("filename", []byte(cleartext))
	if err != nil {
		return nil, err
	}
	return &EncodedFilename{Encoding: encodingBlowfish /* tag reused to mean "encrypted" on the wire */, Payload: ct}, nil
}

// ClearFilename wraps a server-generated cleartext name with no
// encryption, used only for names the server itself mints.
func ClearFilename(name string) *EncodedFilename {
	return &EncodedFilename{Encoding: encodingClear, Payload: []byte(name)}
}

// Decode returns the cleartext name, decrypting if necessary.
func (f *EncodedFilename) Decode(ctx *boxcrypto.Context) (string, error) {
	if f.Encoding == encodingClear {
		return string(f.Payload), nil
	}
	pt, err := ctx.Decrypt("filename", f.Payload, 0, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFilename, err)
	}
	return string(pt), nil
}

// WriteTo writes the two-byte header followed by the payload.
func (f *EncodedFilename) WriteTo(w *boxstream.MemBuffer) error {
	total := 2 + len(f.Payload)
	if total > (1<<nameSizeBits)-1 {
		return fmt.Errorf("%w: filename too long (%d bytes)", ErrInvalidFilename, total)
	}
	header := uint16(total)<<2 | uint16(f.Encoding)&nameEncodingMask
	var hbuf [2]byte
	binary.BigEndian.PutUint16(hbuf[:], header)
	if _, err := w.Write(hbuf[:]); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFilename reads a filename field written by WriteTo.
func ReadFilename(r *boxstream.MemBuffer) (*EncodedFilename, error) {
	var hbuf [2]byte
	if err := boxstream.ReadFullBuffer(r, hbuf[:], 0); err != nil {
		return nil, err
	}
	header := binary.BigEndian.Uint16(hbuf[:])
	total := int(header >> 2)
	encoding := nameEncoding(header & nameEncodingMask)
	if total < 2 {
		return nil, fmt.Errorf("%w: header size %d smaller than header itself", ErrInvalidFilename, total)
	}
	payload := make([]byte, total-2)
	if err := boxstream.ReadFullBuffer(r, payload, 0); err != nil {
		return nil, err
	}
	return &EncodedFilename{Encoding: encoding, Payload: payload}, nil
}
