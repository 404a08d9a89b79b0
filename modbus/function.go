package modbus

import (
	"fmt"
	"sort"
)

// FunctionCode describes a Modbus function code.
type FunctionCode uint8

// Function code constants.
const (
	FunctionReadCoils                      FunctionCode = 1
	FunctionReadDiscreteInputs             FunctionCode = 2
	FunctionReadHoldingRegisters           FunctionCode = 3
	FunctionReadInputRegisters             FunctionCode = 4
	FunctionWriteSingleCoil                FunctionCode = 5
	FunctionWriteSingleRegister            FunctionCode = 6
	FunctionReadExceptionStatus            FunctionCode = 7
	FunctionDiagnostic                     FunctionCode = 8
	FunctionGetComEventCounter             FunctionCode = 11
	FunctionGetComEventLog                 FunctionCode = 12
	FunctionWriteMultipleCoils             FunctionCode = 15
	FunctionWriteMultipleRegisters         FunctionCode = 16
	FunctionReportServerID                 FunctionCode = 17
	FunctionReadFileRecord                 FunctionCode = 20
	FunctionWriteFileRecord                FunctionCode = 21
	FunctionMaskWriteRegister              FunctionCode = 22
	FunctionReadWriteMultipleRegisters     FunctionCode = 23
	FunctionReadFIFOQueue                  FunctionCode = 24
	FunctionEncapsulatedInterfaceTransport FunctionCode = 43
)

// Ranges for user defined functions.
const (
	FunctionUserDefined1Start FunctionCode = 65
	FunctionUserDefined1End   FunctionCode = 72
	FunctionUserDefined2Start FunctionCode = 100
	FunctionUserDefined2End   FunctionCode = 110
)

// FunctionError is the bit in the function code which determines
// whether the function was successful or not.
const FunctionError FunctionCode = 0x80

// reservedFunctionCodes is the list of reserved function codes.
// See Annex A of the Modbus Application Protocol specification.
// It must be sorted in increasing order.
var reservedFunctionCodes = [...]FunctionCode{
	9, 10, 13, 14, 41, 42, 90, 91, 125, 126, 127,
}

// functionNames maps the function codes known to this package to their names.
var functionNames = map[FunctionCode]string{
	FunctionReadCoils:                      "Read Coils",
	FunctionReadDiscreteInputs:             "Read Discrete Inputs",
	FunctionReadHoldingRegisters:           "Read Holding Registers",
	FunctionReadInputRegisters:             "Read Input Registers",
	FunctionWriteSingleCoil:                "Write Single Coil",
	FunctionWriteSingleRegister:            "Write Single Register",
	FunctionReadExceptionStatus:            "Read Exception Status",
	FunctionDiagnostic:                     "Diagnostics",
	FunctionGetComEventCounter:             "Get Comm Event Counter",
	FunctionGetComEventLog:                 "Get Comm Event Log",
	FunctionWriteMultipleCoils:             "Write Multiple Coils",
	FunctionWriteMultipleRegisters:         "Write Multiple Registers",
	FunctionReportServerID:                 "Report Server ID",
	FunctionReadFileRecord:                 "Read File Record",
	FunctionWriteFileRecord:                "Write File Record",
	FunctionMaskWriteRegister:              "Mask Write Register",
	FunctionReadWriteMultipleRegisters:     "Read/Write Multiple Registers",
	FunctionReadFIFOQueue:                  "Read FIFO Queue",
	FunctionEncapsulatedInterfaceTransport: "Encapsulated Interface Transport",
}

// IsReserved determines whether this is a reserved function code.
func (fc FunctionCode) IsReserved() bool {
	fc &^= FunctionError
	idx := sort.Search(len(reservedFunctionCodes), func(i int) bool {
		return fc <= reservedFunctionCodes[i]
	})
	return idx < len(reservedFunctionCodes) && fc == reservedFunctionCodes[idx]
}

// IsUserDefined determines whether the function with this function code is
// user defined.
func (fc FunctionCode) IsUserDefined() bool {
	fc &^= FunctionError
	return (fc >= FunctionUserDefined1Start && fc <= FunctionUserDefined1End) ||
		(fc >= FunctionUserDefined2Start && fc <= FunctionUserDefined2End)
}

// IsError determines whether this function code is from an error
// response.
func (fc FunctionCode) IsError() bool {
	return fc&FunctionError != 0
}

// AsError returns this function code with the error response bit set.
func (fc FunctionCode) AsError() FunctionCode {
	return fc | FunctionError
}

// Base returns this function code with the error response bit cleared.
func (fc FunctionCode) Base() FunctionCode {
	return fc &^ FunctionError
}

// IsKnown determines whether the base of this function code is one of the
// public function codes named in this package.
func (fc FunctionCode) IsKnown() bool {
	_, ok := functionNames[fc.Base()]
	return ok
}

// IsSupported determines whether the PDU codec can encode and decode requests
// and responses for this function code. Error function codes are never
// supported.
func (fc FunctionCode) IsSupported() bool {
	_, ok := requestDecoders[fc]
	return ok
}

// String renders this function code as a string.
func (fc FunctionCode) String() string {
	name, ok := functionNames[fc.Base()]
	if !ok {
		name = fmt.Sprintf("function 0x%02X", uint8(fc.Base()))
	}
	if fc.IsError() {
		return name + " (error)"
	}
	return name
}
