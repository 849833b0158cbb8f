package protocol

import (
	"bytes"
	"fmt"
)

// Assembler reassembles newline-terminated frames from a byte stream that
// arrives in arbitrary pieces. It is owned by a single reader and is not
// safe for concurrent use.
type Assembler struct {
	buf      []byte
	maxFrame int
}

// NewAssembler returns an Assembler that rejects frames longer than
// maxFrame bytes. A maxFrame of zero or less disables the limit.
func NewAssembler(maxFrame int) *Assembler {
	return &Assembler{maxFrame: maxFrame}
}

// Feed appends data to the pending buffer and returns every frame it
// completes, in stream order, without the terminating newline (a trailing
// '\r' is dropped too). Bytes after the last newline are kept for the next
// call. Returned frames do not alias the internal buffer.
//
// ErrFrameTooLarge is returned, together with the frames completed before
// the offending one, when a frame or the unterminated remainder exceeds
// the limit. The Assembler should be discarded after that.
func (a *Assembler) Feed(data []byte) ([][]byte, error) {
	// The buffer never holds a newline between calls, so only the new
	// bytes need scanning.
	scanFrom := len(a.buf)
	a.buf = append(a.buf, data...)

	var frames [][]byte
	start := 0
	for {
		idx := bytes.IndexByte(a.buf[scanFrom:], '\n')
		if idx < 0 {
			break
		}
		end := scanFrom + idx
		frame := a.buf[start:end]
		if a.tooLarge(len(frame)) {
			return frames, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
		}
		frame = bytes.TrimSuffix(frame, []byte{'\r'})
		frames = append(frames, bytes.Clone(frame))
		start = end + 1
		scanFrom = start
	}

	n := copy(a.buf, a.buf[start:])
	a.buf = a.buf[:n]

	if a.tooLarge(len(a.buf)) {
		return frames, fmt.Errorf("%w: %d bytes buffered without a newline", ErrFrameTooLarge, len(a.buf))
	}
	return frames, nil
}

// Buffered reports how many bytes of an incomplete frame are pending.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Reset drops any pending partial frame.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

func (a *Assembler) tooLarge(n int) bool {
	return a.maxFrame > 0 && n > a.maxFrame
}
