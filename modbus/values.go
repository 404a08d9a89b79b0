package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WordOrder selects the order of the 16-bit words of values spanning several
// registers. The bytes within each word are always big endian.
type WordOrder uint8

// Word orders.
const (
	// HighWordFirst stores the most significant word at the lowest address.
	HighWordFirst WordOrder = iota

	// LowWordFirst stores the least significant word at the lowest address.
	LowWordFirst
)

// ParseWordOrder parses "high_first" or "low_first". The empty string selects
// HighWordFirst.
func ParseWordOrder(name string) (WordOrder, error) {
	switch name {
	case "", "high_first":
		return HighWordFirst, nil
	case "low_first":
		return LowWordFirst, nil
	default:
		return 0, fmt.Errorf("unknown word order '%s'", name)
	}
}

// swapWords reverses the order of the 16-bit words in buf.
func swapWords(buf []byte) {
	for i, j := 0, len(buf)-2; i < j; i, j = i+2, j-2 {
		buf[i], buf[i+1], buf[j], buf[j+1] = buf[j], buf[j+1], buf[i], buf[i+1]
	}
}

// setWords writes buf, a big endian value, to the items at addr in the given
// word order. For bit types, 8*len(buf) consecutive bits are written.
func setWords(s Storage, dt DataType, addr uint16, buf []byte, order WordOrder) error {
	if order == LowWordFirst {
		swapWords(buf)
	}
	return s.WriteData(dt, addr, 8*len(buf)/numBits[dt], buf)
}

// getWords reads len(buf) bytes from the items at addr into buf as a big
// endian value.
func getWords(s Storage, dt DataType, addr uint16, buf []byte, order WordOrder) error {
	data, err := s.ReadData(buf[:0], dt, addr, 8*len(buf)/numBits[dt])
	if err != nil {
		return err
	}
	copy(buf, data)
	if order == LowWordFirst {
		swapWords(buf)
	}
	return nil
}

// SetUint16 is a convenience function which sets the register specified by
// dt and addr to the specified unsigned 16-bit integer value. For bit types,
// 16 consecutive bits are set.
func SetUint16(s Storage, dt DataType, addr uint16, value uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], value)
	return setWords(s, dt, addr, buf[:], HighWordFirst)
}

// SetUint32 sets the registers specified by dt and addr to the specified
// unsigned 32-bit integer value.
func SetUint32(s Storage, dt DataType, addr uint16, value uint32, order WordOrder) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	return setWords(s, dt, addr, buf[:], order)
}

// SetUint64 sets the registers specified by dt and addr to the specified
// unsigned 64-bit integer value.
func SetUint64(s Storage, dt DataType, addr uint16, value uint64, order WordOrder) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	return setWords(s, dt, addr, buf[:], order)
}

// SetFloat32 sets the registers specified by dt and addr to the specified
// single-precision floating point value.
func SetFloat32(s Storage, dt DataType, addr uint16, value float32, order WordOrder) error {
	return SetUint32(s, dt, addr, math.Float32bits(value), order)
}

// SetFloat64 sets the registers specified by dt and addr to the specified
// double-precision floating point value.
func SetFloat64(s Storage, dt DataType, addr uint16, value float64, order WordOrder) error {
	return SetUint64(s, dt, addr, math.Float64bits(value), order)
}

// SetString sets the specified number of addresses to the specified string,
// two characters per register. Excess characters are stripped, missing
// characters are filled with zeroes.
func SetString(s Storage, dt DataType, addr uint16, n int, value string) error {
	buf := make([]byte, (n*numBits[dt]+7)/8)
	copy(buf, value)
	return s.WriteData(dt, addr, n, buf)
}

// Uint16 returns the register specified by dt and addr. For bit types, the 16
// consecutive bits starting at addr are returned.
func Uint16(s Storage, dt DataType, addr uint16) (uint16, error) {
	var buf [2]byte
	if err := getWords(s, dt, addr, buf[:], HighWordFirst); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// Uint32 returns the unsigned 32-bit integer stored at dt and addr.
func Uint32(s Storage, dt DataType, addr uint16, order WordOrder) (uint32, error) {
	var buf [4]byte
	if err := getWords(s, dt, addr, buf[:], order); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// Float32 returns the single-precision floating point value stored at dt and
// addr.
func Float32(s Storage, dt DataType, addr uint16, order WordOrder) (float32, error) {
	v, err := Uint32(s, dt, addr, order)
	return math.Float32frombits(v), err
}
