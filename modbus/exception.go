package modbus

import (
	"errors"
	"fmt"
)

// ExceptionCode describes a Modbus exception response code.
type ExceptionCode uint8

// Exception code constants.
const (
	ExceptionIllegalFunction                    ExceptionCode = 0x01
	ExceptionIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionIllegalDataValue                   ExceptionCode = 0x03
	ExceptionServerDeviceFailure                ExceptionCode = 0x04
	ExceptionAcknowledge                        ExceptionCode = 0x05
	ExceptionServerDeviceBusy                   ExceptionCode = 0x06
	ExceptionMemoryParityError                  ExceptionCode = 0x08
	ExceptionGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

// exceptionStrings maps known exceptions to a textual representation.
var exceptionStrings = map[ExceptionCode]string{
	ExceptionIllegalFunction:                    "illegal function",
	ExceptionIllegalDataAddress:                 "illegal data address",
	ExceptionIllegalDataValue:                   "illegal data value",
	ExceptionServerDeviceFailure:                "server device failure",
	ExceptionAcknowledge:                        "acknowledge",
	ExceptionServerDeviceBusy:                   "server device busy",
	ExceptionMemoryParityError:                  "memory parity error",
	ExceptionGatewayPathUnavailable:             "gateway path unavailable",
	ExceptionGatewayTargetDeviceFailedToRespond: "gateway target failed to respond",
}

// IsValid determines whether this is one of the exception codes defined by
// the Modbus Application Protocol specification.
func (ec ExceptionCode) IsValid() bool {
	_, ok := exceptionStrings[ec]
	return ok
}

// Error returns a textual representation of the exception represented by
// this exception code.
func (ec ExceptionCode) Error() string {
	s, ok := exceptionStrings[ec]
	if !ok {
		s = fmt.Sprintf("unknown exception %02X", uint8(ec))
	}
	return "Modbus exception: " + s
}

// String returns the name of this exception code. The zero value, which is
// not an exception, renders as "none".
func (ec ExceptionCode) String() string {
	if ec == 0 {
		return "none"
	}
	if s, ok := exceptionStrings[ec]; ok {
		return s
	}
	return fmt.Sprintf("exception 0x%02X", uint8(ec))
}

// ErrShortBuffer is returned by the encoders if the destination buffer is too
// small to hold the encoded message. Nothing is written in that case.
var ErrShortBuffer = errors.New("modbus: destination buffer too small")

// CodecError describes a PDU or ADU which failed validation.
//
// Exception is the code which goes on the wire; it is always
// ExceptionIllegalDataValue or ExceptionIllegalDataAddress. Function, Field
// and Reason are diagnostic detail for logging and are never transmitted.
type CodecError struct {
	// Exception is the wire exception code.
	Exception ExceptionCode

	// Function is the function code of the offending PDU, if known.
	Function FunctionCode

	// Field names the offending field.
	Field string

	// Reason describes the violated constraint.
	Reason string
}

// Error implements error.
func (e *CodecError) Error() string {
	return fmt.Sprintf("%s: %s: %s (%s)",
		e.Function, e.Field, e.Reason, e.Exception.String())
}

// Unwrap returns the wire exception code, so errors.As and errors.Is work
// with ExceptionCode targets.
func (e *CodecError) Unwrap() error {
	return e.Exception
}

// illegalValue returns a CodecError with ExceptionIllegalDataValue.
func illegalValue(fc FunctionCode, field, format string, args ...interface{}) error {
	return &CodecError{
		Exception: ExceptionIllegalDataValue,
		Function:  fc,
		Field:     field,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// illegalAddress returns a CodecError with ExceptionIllegalDataAddress.
func illegalAddress(fc FunctionCode, field, format string, args ...interface{}) error {
	return &CodecError{
		Exception: ExceptionIllegalDataAddress,
		Function:  fc,
		Field:     field,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// ExceptionOf extracts the Modbus exception code carried by err. The second
// return value is false if err does not carry an exception code.
func ExceptionOf(err error) (ExceptionCode, bool) {
	var ec ExceptionCode
	if errors.As(err, &ec) {
		return ec, true
	}
	return 0, false
}
