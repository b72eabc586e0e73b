package boxstream

import (
	"fmt"
	"time"
)

// MemBuffer is an in-memory implementation of Stream. Reads never
// time out (infinite timeout is the norm for in-memory buffered
// streams per spec §5), writes always append at the current
// position, growing the buffer as needed.
type MemBuffer struct {
	buf []byte
	pos int64
}

// NewMemBuffer wraps a copy of existing bytes, positioned at the
// start; a Write before any read or seek overwrites from offset 0.
func NewMemBuffer(initial []byte) *MemBuffer {
	b := make([]byte, len(initial))
	copy(b, initial)
	return &MemBuffer{buf: b}
}

func (m *MemBuffer) Write(p []byte) (int, error) {
	if m.pos == int64(len(m.buf)) {
		m.buf = append(m.buf, p...)
		m.pos = int64(len(m.buf))
		return len(p), nil
	}
	// Write at current position, overwriting and/or extending.
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *MemBuffer) ReadTimeout(p []byte, _ time.Duration) (int, error) {
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *MemBuffer) DataLeft() bool {
	return m.pos < int64(len(m.buf))
}

func (m *MemBuffer) Seek(offset int64, mode SeekMode) (int64, error) {
	var target int64
	switch mode {
	case SeekAbsolute:
		target = offset
	case SeekRelative:
		target = m.pos + offset
	case SeekFromEnd:
		target = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("boxstream: unknown seek mode %d", mode)
	}
	if target < 0 || target > int64(len(m.buf)) {
		return 0, fmt.Errorf("boxstream: seek out of range: %d (len %d)", target, len(m.buf))
	}
	m.pos = target
	return m.pos, nil
}

func (m *MemBuffer) Position() (int64, error) {
	return m.pos, nil
}

// Bytes returns the full underlying buffer, regardless of the current
// read position.
func (m *MemBuffer) Bytes() []byte {
	return m.buf
}

// Len returns the total buffer length.
func (m *MemBuffer) Len() int64 {
	return int64(len(m.buf))
}

var _ Stream = (*MemBuffer)(nil)
