package modbus

import (
	"encoding/binary"
)

const (
	// maxReadBits is the maximum number of bits which can be read in a single
	// ReadCoils or ReadDiscreteInputs request.
	maxReadBits = 2000

	// maxWriteBits is the maximum number of bits which can be written in a
	// single WriteMultipleCoils request.
	maxWriteBits = 1968

	// maxReadWords is the maximum number of words which can be read in a single
	// ReadHoldingRegisters, ReadInputRegisters, or ReadWriteMultipleRegisters
	// request.
	maxReadWords = 125

	// maxWriteWords is the maximum number of words which can be written in a
	// single WriteMultipleRegisters request.
	maxWriteWords = 123

	// maxReadWriteWords is the maximum number of words which can be written in a
	// single ReadWriteMultipleRegisters request.
	maxReadWriteWords = 121

	// maxPayloadLen is the maximum PDU length without the function code.
	maxPayloadLen = maxPDULen - 1

	// maxFIFOCount is the maximum number of registers in a FIFO queue.
	maxFIFOCount = 31

	// maxEventLogEvents is the maximum number of events in a comm event log
	// response.
	maxEventLogEvents = 64

	// addressSpace is the size of the 16-bit Modbus address space.
	addressSpace = 1 << 16
)

// reader reads big endian fields from a PDU. The first read past the end of
// the buffer records an ExceptionIllegalDataValue error; all later reads
// return zero values. Callers check err once they are done.
type reader struct {
	// fc is the function code of the PDU, for diagnostics.
	fc FunctionCode

	// data is the PDU payload (without function code).
	data []byte

	// off is the number of bytes consumed so far.
	off int

	// err is the first error encountered.
	err error
}

// need checks whether n more bytes are available for field.
func (r *reader) need(field string, n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = illegalValue(r.fc, field, "need %d bytes, have %d",
			n, len(r.data)-r.off)
		return false
	}
	return true
}

// uint8 reads a single byte.
func (r *reader) uint8(field string) uint8 {
	if !r.need(field, 1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// uint16 reads a big endian 16-bit word.
func (r *reader) uint16(field string) uint16 {
	if !r.need(field, 2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// bytes reads n bytes into a fresh slice. Zero bytes read as nil.
func (r *reader) bytes(field string, n int) []byte {
	if !r.need(field, n) || n == 0 {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.data[r.off:])
	r.off += n
	return v
}

// words reads n big endian 16-bit words. Zero words read as nil.
func (r *reader) words(field string, n int) []uint16 {
	if !r.need(field, 2*n) || n == 0 {
		return nil
	}
	v := make([]uint16, n)
	for i := range v {
		v[i] = binary.BigEndian.Uint16(r.data[r.off:])
		r.off += 2
	}
	return v
}

// sub returns a reader over the next n bytes and skips them in r. Errors of
// the returned reader must be propagated with fail.
func (r *reader) sub(field string, n int) *reader {
	s := &reader{fc: r.fc}
	if !r.need(field, n) {
		s.err = r.err
		return s
	}
	s.data = r.data[r.off : r.off+n]
	r.off += n
	return s
}

// rest reads all remaining bytes.
func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.bytes("data", len(r.data)-r.off)
}

// remaining returns the number of unread bytes.
func (r *reader) remaining() int {
	return len(r.data) - r.off
}

// fail records err unless an earlier error is present.
func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// writer writes big endian fields into a buffer which the caller has sized
// beforehand.
type writer struct {
	// buf is the destination buffer.
	buf []byte

	// off is the number of bytes written so far.
	off int
}

// uint8 writes a single byte.
func (w *writer) uint8(v uint8) {
	w.buf[w.off] = v
	w.off++
}

// uint16 writes a big endian 16-bit word.
func (w *writer) uint16(v uint16) {
	binary.BigEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

// bytes writes a byte slice.
func (w *writer) bytes(v []byte) {
	w.off += copy(w.buf[w.off:], v)
}

// words writes big endian 16-bit words.
func (w *writer) words(v []uint16) {
	for _, x := range v {
		w.uint16(x)
	}
}

// checkQuantity checks that 1 <= n <= max.
func checkQuantity(fc FunctionCode, field string, n, max int) error {
	if n <= 0 || n > max {
		return illegalValue(fc, field, "%d not in [1,%d]", n, max)
	}
	return nil
}

// checkRange checks that the address range [start, start+n) does not wrap
// around the end of the address space.
func checkRange(fc FunctionCode, field string, start uint16, n int) error {
	if int(start)+n > addressSpace {
		return illegalAddress(fc, field,
			"range 0x%04X+%d exceeds address space", start, n)
	}
	return nil
}

// checkReadRequest validates the common start address and quantity pair of
// read requests.
func checkReadRequest(fc FunctionCode, start, n uint16, max int) error {
	if err := checkQuantity(fc, "quantity", int(n), max); err != nil {
		return err
	}
	return checkRange(fc, "address", start, int(n))
}

// bitBytes returns the number of bytes needed to hold n bits.
func bitBytes(n int) int {
	return (n + 7) / 8
}

// PackBits packs bit values into bytes in Modbus order. The first value is
// stored in the least significant bit of the first byte. Unused bits of the
// last byte are zero.
func PackBits(values []bool) []byte {
	result := make([]byte, bitBytes(len(values)))
	for i, v := range values {
		if v {
			result[i/8] |= 1 << (i % 8)
		}
	}
	return result
}

// UnpackBits is the inverse of PackBits. It returns the first n bits stored in
// data. Missing bits are returned as false.
func UnpackBits(data []byte, n int) []bool {
	result := make([]bool, n)
	for i := range result {
		if i/8 < len(data) {
			result[i] = (data[i/8]>>(i%8))&1 != 0
		}
	}
	return result
}
