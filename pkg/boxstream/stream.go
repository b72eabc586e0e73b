// Package boxstream provides the small set of stream primitives
// shared by every object codec: length-prefixed mem-blocks,
// big-endian framing, timeout-aware full reads, and a seek-capability
// abstraction so memory streams, file streams and socket streams can
// all be driven by the same combine/decode code.
package boxstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrPartialRead is returned by ReadFullBuffer when the stream ends
// before the requested number of bytes have arrived.
var ErrPartialRead = errors.New("boxstream: partial read")

// Reader is the read half of the stream capability set: read with a
// deadline, tell whether more data remains.
type Reader interface {
	// ReadTimeout reads into p, blocking until p is full, the
	// timeout elapses, or the stream ends. A read that ends early
	// returns the bytes read with a nil error; ReadFullBuffer turns
	// such a short read into ErrPartialRead.
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
	// DataLeft reports whether a subsequent read could return more
	// bytes. Not authoritative over a socket, but reliable for
	// memory and file streams.
	DataLeft() bool
}

// SeekMode mirrors io.Seeker's whence values by name, since object
// formats frequently seek from the end to locate the block-index
// trailer.
type SeekMode int

const (
	SeekAbsolute SeekMode = iota
	SeekRelative
	SeekFromEnd
)

// Seeker adds positioning to Reader. Socket streams typically do not
// implement it; file and memory streams do.
type Seeker interface {
	Seek(offset int64, mode SeekMode) (int64, error)
	Position() (int64, error)
}

// Stream is the full capability set used throughout the object
// codecs: read with timeout, write, seek, report position and
// remaining data. Memory streams, file streams and socket streams
// (the last minus Seeker) all satisfy the subset they can.
type Stream interface {
	io.Writer
	Reader
	Seeker
}

// ReadFullBuffer reads exactly len(p) bytes from r within timeout,
// returning ErrPartialRead if the stream ends first. This is the
// stream-level primitive every fixed-layout header/entry decode is
// built from.
func ReadFullBuffer(r Reader, p []byte, timeout time.Duration) error {
	n, err := r.ReadTimeout(p, timeout)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("%w: wanted %d bytes, got %d", ErrPartialRead, len(p), n)
	}
	return nil
}

// PutUint32, PutUint64 etc. are intentionally not wrapped: every
// object format writes big-endian integers directly via
// encoding/binary.BigEndian, kept as free functions here only where a
// length-prefixed "mem-block" needs its own helper.

// WriteMemBlock writes a 32-bit big-endian length prefix followed by
// data, the canonical "length-prefixed mem-block" framing used
// throughout the object formats for variable-length fields.
func WriteMemBlock(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

// ReadMemBlock reads a length-prefixed mem-block written by
// WriteMemBlock. maxLen bounds the allocation to guard against a
// corrupt or hostile length prefix.
func ReadMemBlock(r Reader, maxLen uint32, timeout time.Duration) ([]byte, error) {
	var lenBuf [4]byte
	if err := ReadFullBuffer(r, lenBuf[:], timeout); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxLen {
		return nil, fmt.Errorf("boxstream: mem-block length %d exceeds limit %d", n, maxLen)
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if err := ReadFullBuffer(r, buf, timeout); err != nil {
		return nil, err
	}
	return buf, nil
}
