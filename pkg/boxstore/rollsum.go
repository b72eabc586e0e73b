package boxstore

// RollSum is a rolling weak checksum used for two purposes: (1)
// content-defined chunking when a file is first split into blocks,
// and (2) the rsync-style block matcher that finds which spans of a
// locally-changed file still correspond to blocks of a prior remote
// object (C5.2/C9). It is modelled on Adler-32: a is one plus the
// byte sum and b the position-weighted byte sum, both mod 65521, kept
// incrementally updatable over a sliding window instead of recomputed
// from scratch. b omits Adler-32's length term, so Sum does not equal
// hash/adler32's checksum of the same bytes.
const rollsumModulus = 65521

// RollSum maintains the rolling checksum over its current window: the
// init bytes, then slid forward one byte per Roll.
type RollSum struct {
	a, b   uint32
	window []byte
	count  int
}

// NewRollSum creates a RollSum primed over init, which becomes its
// initial window.
func NewRollSum(init []byte) *RollSum {
	r := &RollSum{window: append([]byte(nil), init...)}
	var a, b uint32 = 1, 0
	n := len(init)
	for i, x := range init {
		a = (a + uint32(x)) % rollsumModulus
		b = (b + uint32(n-i)*uint32(x)) % rollsumModulus
	}
	r.a, r.b = a, b
	r.count = n
	return r
}

// Roll removes the oldest byte in the window and adds newByte,
// updating the checksum in O(1) without rescanning the window.
func (r *RollSum) Roll(newByte byte) {
	n := len(r.window)
	if n == 0 {
		r.window = append(r.window, newByte)
		r.a = (r.a + uint32(newByte)) % rollsumModulus
		r.b = (r.b + uint32(newByte)) % rollsumModulus
		return
	}
	old := r.window[0]
	r.window = append(r.window[1:], newByte)

	// a' = a - old + new
	r.a = (r.a + rollsumModulus - uint32(old) + uint32(newByte)) % rollsumModulus
	// b' = b - n*old + (a' - 1), since a carries Adler's initial 1
	r.b = (r.b + rollsumModulus - (uint32(n)*uint32(old))%rollsumModulus + r.a + rollsumModulus - 1) % rollsumModulus
}

// Sum returns the 32-bit weak checksum of the current window,
// matching Adler-32's packing of (b<<16 | a).
func (r *RollSum) Sum() uint32 {
	return (r.b << 16) | r.a
}

// ChooseBlockSize resolves the Open Question from spec.md §9 on block
// size policy: 4 KiB for files up to 1 MiB and 64 KiB above that (the
// doubling loop below always reaches its 64 KiB cap for such sizes,
// since 64 KiB × 16 is exactly 1 MiB), so the block-index trailer
// stays a small fraction of a small file's total size while large
// files don't accumulate an excessive block count.
func ChooseBlockSize(fileSize int64) int {
	const (
		minBlock = 4 * 1024
		maxBlock = 64 * 1024
		scaleAt  = 1024 * 1024
	)
	if fileSize <= scaleAt {
		return minBlock
	}
	size := minBlock
	for int64(size*16) < fileSize && size < maxBlock {
		size *= 2
	}
	if size > maxBlock {
		size = maxBlock
	}
	return size
}

// isBoundary reports whether the current rolling checksum marks a
// content-defined chunk boundary for the given target block size.
// blockSize must be a power of two; the low bits of the weak
// checksum are used as the boundary trigger (a standard
// content-defined-chunking technique), so identical byte runs at
// different file offsets still produce the same cut points.
func isBoundary(sum uint32, blockSize int) bool {
	mask := uint32(blockSize - 1)
	return sum&mask == mask
}

// SplitBlocks partitions data into content-defined chunks targeting
// blockSize bytes, the same boundary function used by both the fresh
// encoder (C5.1) and the diff matcher (C5.2) so that identical
// content chunks identically regardless of which path produced it.
// No chunk is allowed below minChunk (except the final one) or above
// maxChunk, to bound the worst case of pathological inputs.
func SplitBlocks(data []byte, blockSize int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	minChunk := blockSize / 4
	if minChunk < 1 {
		minChunk = 1
	}
	maxChunk := blockSize * 8

	var chunks [][]byte
	start := 0
	windowSize := 32
	if windowSize > len(data) {
		windowSize = len(data)
	}

	for start < len(data) {
		end := start + windowSize
		if end > len(data) {
			end = len(data)
		}
		rs := NewRollSum(data[start:end])
		pos := end
		cut := -1
		for pos <= len(data) {
			span := pos - start
			if span >= minChunk && (isBoundary(rs.Sum(), blockSize) || span >= maxChunk) {
				cut = pos
				break
			}
			if pos == len(data) {
				break
			}
			rs.Roll(data[pos])
			pos++
		}
		if cut < 0 {
			cut = len(data)
		}
		chunks = append(chunks, data[start:cut])
		start = cut
	}
	return chunks
}
