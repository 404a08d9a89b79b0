package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// lengthEnd is the number of bytes needed to read the MBAP length field.
const lengthEnd = HeaderLen - 1

// ErrFrameLength is returned by FrameBuffer.Err if the buffered MBAP header
// declares a length no valid ADU can have. The stream cannot be
// resynchronised after that.
var ErrFrameLength = errors.New("modbus: invalid MBAP length field")

// FrameBuffer accumulates bytes read from a stream until a complete
// Modbus/TCP ADU is available. Several ADUs may be buffered at once; they are
// delivered in order.
//
// A FrameBuffer is not safe for concurrent use.
type FrameBuffer struct {
	// buf holds the buffered bytes, starting with the header of the next ADU.
	buf []byte
}

// NewFrameBuffer returns an empty frame buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{buf: make([]byte, 0, 2*MaxADULen)}
}

// Feed appends data read from the stream.
func (b *FrameBuffer) Feed(data []byte) {
	b.buf = append(b.buf, data...)
}

// Len returns the number of buffered bytes.
func (b *FrameBuffer) Len() int {
	return len(b.buf)
}

// declared returns the length field of the next ADU. The second return value
// is false if it has not been received yet.
func (b *FrameBuffer) declared() (int, bool) {
	if len(b.buf) < lengthEnd {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(b.buf[4:lengthEnd])), true
}

// Err reports whether the next ADU declares an invalid length.
func (b *FrameBuffer) Err() error {
	l, ok := b.declared()
	if !ok || (l >= minLength && l <= maxLength) {
		return nil
	}
	return fmt.Errorf("%w: %d not in [%d,%d]", ErrFrameLength, l, minLength, maxLength)
}

// Complete determines whether a complete ADU is buffered.
func (b *FrameBuffer) Complete() bool {
	l, ok := b.declared()
	if !ok || b.Err() != nil {
		return false
	}
	return len(b.buf) >= lengthEnd+l
}

// Frame returns the next complete ADU, or nil if Complete would return false.
// The returned slice aliases the buffer and is only valid until the next call
// to Feed or Consume.
func (b *FrameBuffer) Frame() []byte {
	if !b.Complete() {
		return nil
	}
	l, _ := b.declared()
	return b.buf[:lengthEnd+l]
}

// Consume drops the first n buffered bytes, keeping any bytes which follow.
func (b *FrameBuffer) Consume(n int) {
	if n > len(b.buf) {
		n = len(b.buf)
	}
	rest := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:rest]
}

// Reset drops all buffered bytes.
func (b *FrameBuffer) Reset() {
	b.buf = b.buf[:0]
}
