package boxstream

import (
	"fmt"
	"io"
	"os"
	"time"
)

// FileStream adapts an *os.File to Stream. Used when an object is
// read from or written directly to the account's on-disk store
// rather than buffered in memory.
type FileStream struct {
	f    *os.File
	size int64
}

// NewFileStream stats f once to record its size, which DataLeft
// compares against the current position and Write grows.
func NewFileStream(f *os.File) (*FileStream, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &FileStream{f: f, size: fi.Size()}, nil
}

func (s *FileStream) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if pos, perr := s.f.Seek(0, io.SeekCurrent); perr == nil && pos > s.size {
		s.size = pos
	}
	return n, err
}

func (s *FileStream) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		_ = s.f.SetReadDeadline(time.Now().Add(timeout))
		defer s.f.SetReadDeadline(time.Time{})
	}
	n, err := io.ReadFull(s.f, p)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, nil
	}
	return n, err
}

func (s *FileStream) DataLeft() bool {
	pos, err := s.Position()
	if err != nil {
		return false
	}
	return pos < s.size
}

func (s *FileStream) Seek(offset int64, mode SeekMode) (int64, error) {
	var whence int
	switch mode {
	case SeekAbsolute:
		whence = io.SeekStart
	case SeekRelative:
		whence = io.SeekCurrent
	case SeekFromEnd:
		whence = io.SeekEnd
	default:
		return 0, fmt.Errorf("boxstream: unknown seek mode %d", mode)
	}
	return s.f.Seek(offset, whence)
}

func (s *FileStream) Position() (int64, error) {
	return s.f.Seek(0, io.SeekCurrent)
}

func (s *FileStream) Close() error {
	return s.f.Close()
}

var _ Stream = (*FileStream)(nil)
