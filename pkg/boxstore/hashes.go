package boxstore

import (
	"crypto/md5"
	"hash/adler32"
)

// weakHashOf computes the Adler-32 weak checksum of a full block,
// used to populate a freshly-encoded block's index entry and to look
// up diff candidates. RollSum, which only places chunk boundaries, is
// a variant of the same algorithm and does not yield the same value.
func weakHashOf(block []byte) uint32 {
	return adler32.Checksum(block)
}

// strongHashOf computes the 16-byte strong hash used to confirm a
// weak-hash match before accepting a borrow (spec §3: "16-byte
// strong-hash"). MD5 is not used here for any security property,
// only as a cheap, well-understood 128-bit content fingerprint.
func strongHashOf(block []byte) [16]byte {
	return md5.Sum(block)
}
