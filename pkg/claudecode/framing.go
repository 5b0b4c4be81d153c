package claudecode

import (
	"bytes"
	"fmt"
)

const (
	// initialLineSize is the starting capacity of the line buffer.
	initialLineSize = 64 * 1024
	// DefaultMaxLineSize caps a single stdout line at 10MB, matching the CLI's
	// largest tool results.
	DefaultMaxLineSize = 10 * 1024 * 1024
)

// LineBuffer reassembles newline-delimited records from arbitrary read chunks.
// Incomplete trailing data is retained until the next chunk completes it, so
// feeding a byte stream one chunk at a time yields the same lines regardless
// of where the chunk boundaries fall.
type LineBuffer struct {
	buf []byte
	max int
}

// NewLineBuffer returns a LineBuffer that rejects lines longer than maxLineSize.
// A maxLineSize of zero applies DefaultMaxLineSize.
func NewLineBuffer(maxLineSize int) *LineBuffer {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	return &LineBuffer{buf: make([]byte, 0, initialLineSize), max: maxLineSize}
}

// Feed appends chunk to the buffered data and returns every complete line in
// order, without the trailing newline. Bytes after the last newline stay
// buffered for the next call. Feed fails with ErrLineTooLong when the
// buffered partial line exceeds the configured maximum.
func (b *LineBuffer) Feed(chunk []byte) ([][]byte, error) {
	data := append(b.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := data[:i]
		// Scanner-style handling of CRLF terminators.
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		lines = append(lines, line)
		data = data[i+1:]
	}

	if len(data) > b.max {
		b.buf = nil
		return lines, fmt.Errorf("%w: %d bytes buffered, limit %d", ErrLineTooLong, len(data), b.max)
	}

	// Returned lines may alias the old backing array, so the leftover is
	// copied into a fresh one before the next append.
	b.buf = append(make([]byte, 0, max(len(data), initialLineSize)), data...)
	return lines, nil
}

// Pending returns the bytes of the current incomplete line.
func (b *LineBuffer) Pending() []byte {
	return b.buf
}

// Reset discards any buffered partial line.
func (b *LineBuffer) Reset() {
	b.buf = b.buf[:0]
}
