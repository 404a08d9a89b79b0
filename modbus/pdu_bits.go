package modbus

// Bit access functions: Read Coils, Read Discrete Inputs, Write Single Coil,
// and Write Multiple Coils.

const (
	// coilOn and coilOff are the only valid encodings of a single coil value.
	coilOn  = 0xFF00
	coilOff = 0x0000

	// maxBitBytes is the maximum byte count in a bit read response.
	maxBitBytes = (maxReadBits + 7) / 8
)

// ReadCoilsRequest is the request PDU of the Read Coils function.
type ReadCoilsRequest struct {
	// Address is the address of the first coil.
	Address uint16

	// Quantity is the number of coils to read (1 to 2000).
	Quantity uint16
}

// Function implements PDU.
func (p *ReadCoilsRequest) Function() FunctionCode { return FunctionReadCoils }

// Len implements PDU.
func (p *ReadCoilsRequest) Len() int { return 5 }

func (p *ReadCoilsRequest) isRequest() {}

func (p *ReadCoilsRequest) validate() error {
	return checkReadRequest(FunctionReadCoils, p.Address, p.Quantity, maxReadBits)
}

func (p *ReadCoilsRequest) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.Quantity)
}

func decodeReadCoilsRequest(r *reader) RequestPDU {
	return &ReadCoilsRequest{
		Address:  r.uint16("address"),
		Quantity: r.uint16("quantity"),
	}
}

// ReadDiscreteInputsRequest is the request PDU of the Read Discrete Inputs
// function.
type ReadDiscreteInputsRequest struct {
	// Address is the address of the first input.
	Address uint16

	// Quantity is the number of inputs to read (1 to 2000).
	Quantity uint16
}

// Function implements PDU.
func (p *ReadDiscreteInputsRequest) Function() FunctionCode {
	return FunctionReadDiscreteInputs
}

// Len implements PDU.
func (p *ReadDiscreteInputsRequest) Len() int { return 5 }

func (p *ReadDiscreteInputsRequest) isRequest() {}

func (p *ReadDiscreteInputsRequest) validate() error {
	return checkReadRequest(
		FunctionReadDiscreteInputs, p.Address, p.Quantity, maxReadBits)
}

func (p *ReadDiscreteInputsRequest) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.Quantity)
}

func decodeReadDiscreteInputsRequest(r *reader) RequestPDU {
	return &ReadDiscreteInputsRequest{
		Address:  r.uint16("address"),
		Quantity: r.uint16("quantity"),
	}
}

// checkBitStatus validates the packed bit values of a bit read response.
func checkBitStatus(fc FunctionCode, status []byte) error {
	if len(status) == 0 || len(status) > maxBitBytes {
		return illegalValue(fc, "byte count", "%d not in [1,%d]",
			len(status), maxBitBytes)
	}
	return nil
}

// readBitStatus reads the byte count and packed bit values of a bit read
// response.
func readBitStatus(r *reader) []byte {
	n := int(r.uint8("byte count"))
	if r.err == nil && (n == 0 || n > maxBitBytes) {
		r.fail(illegalValue(r.fc, "byte count", "%d not in [1,%d]", n, maxBitBytes))
		return nil
	}
	return r.bytes("status", n)
}

// ReadCoilsResponse is the response PDU of the Read Coils function.
type ReadCoilsResponse struct {
	// Status holds the coil values, packed as by PackBits.
	Status []byte
}

// Function implements PDU.
func (p *ReadCoilsResponse) Function() FunctionCode { return FunctionReadCoils }

// Len implements PDU.
func (p *ReadCoilsResponse) Len() int { return 2 + len(p.Status) }

func (p *ReadCoilsResponse) isResponse() {}

func (p *ReadCoilsResponse) validate() error {
	return checkBitStatus(FunctionReadCoils, p.Status)
}

func (p *ReadCoilsResponse) put(w *writer) {
	w.uint8(uint8(len(p.Status)))
	w.bytes(p.Status)
}

func decodeReadCoilsResponse(r *reader) ResponsePDU {
	return &ReadCoilsResponse{Status: readBitStatus(r)}
}

// ReadDiscreteInputsResponse is the response PDU of the Read Discrete Inputs
// function.
type ReadDiscreteInputsResponse struct {
	// Status holds the input values, packed as by PackBits.
	Status []byte
}

// Function implements PDU.
func (p *ReadDiscreteInputsResponse) Function() FunctionCode {
	return FunctionReadDiscreteInputs
}

// Len implements PDU.
func (p *ReadDiscreteInputsResponse) Len() int { return 2 + len(p.Status) }

func (p *ReadDiscreteInputsResponse) isResponse() {}

func (p *ReadDiscreteInputsResponse) validate() error {
	return checkBitStatus(FunctionReadDiscreteInputs, p.Status)
}

func (p *ReadDiscreteInputsResponse) put(w *writer) {
	w.uint8(uint8(len(p.Status)))
	w.bytes(p.Status)
}

func decodeReadDiscreteInputsResponse(r *reader) ResponsePDU {
	return &ReadDiscreteInputsResponse{Status: readBitStatus(r)}
}

// readCoilValue reads a single coil value. Only 0xFF00 and 0x0000 are valid.
func readCoilValue(r *reader) bool {
	switch v := r.uint16("value"); v {
	case coilOn:
		return true
	case coilOff:
	default:
		r.fail(illegalValue(r.fc, "value", "invalid coil value 0x%04X", v))
	}
	return false
}

// putCoilValue writes a single coil value.
func putCoilValue(w *writer, v bool) {
	if v {
		w.uint16(coilOn)
	} else {
		w.uint16(coilOff)
	}
}

// WriteSingleCoilRequest is the request PDU of the Write Single Coil function.
type WriteSingleCoilRequest struct {
	// Address is the coil address.
	Address uint16

	// Value is the value to write. It is encoded as 0xFF00 (true) or 0x0000
	// (false).
	Value bool
}

// Function implements PDU.
func (p *WriteSingleCoilRequest) Function() FunctionCode {
	return FunctionWriteSingleCoil
}

// Len implements PDU.
func (p *WriteSingleCoilRequest) Len() int { return 5 }

func (p *WriteSingleCoilRequest) isRequest() {}

func (p *WriteSingleCoilRequest) validate() error { return nil }

func (p *WriteSingleCoilRequest) put(w *writer) {
	w.uint16(p.Address)
	putCoilValue(w, p.Value)
}

func decodeWriteSingleCoilRequest(r *reader) RequestPDU {
	return &WriteSingleCoilRequest{
		Address: r.uint16("address"),
		Value:   readCoilValue(r),
	}
}

// WriteSingleCoilResponse is the response PDU of the Write Single Coil
// function. It echoes the request.
type WriteSingleCoilResponse struct {
	// Address is the coil address.
	Address uint16

	// Value is the written value.
	Value bool
}

// Function implements PDU.
func (p *WriteSingleCoilResponse) Function() FunctionCode {
	return FunctionWriteSingleCoil
}

// Len implements PDU.
func (p *WriteSingleCoilResponse) Len() int { return 5 }

func (p *WriteSingleCoilResponse) isResponse() {}

func (p *WriteSingleCoilResponse) validate() error { return nil }

func (p *WriteSingleCoilResponse) put(w *writer) {
	w.uint16(p.Address)
	putCoilValue(w, p.Value)
}

func decodeWriteSingleCoilResponse(r *reader) ResponsePDU {
	return &WriteSingleCoilResponse{
		Address: r.uint16("address"),
		Value:   readCoilValue(r),
	}
}

// WriteMultipleCoilsRequest is the request PDU of the Write Multiple Coils
// function.
type WriteMultipleCoilsRequest struct {
	// Address is the address of the first coil.
	Address uint16

	// Quantity is the number of coils to write (1 to 1968).
	Quantity uint16

	// Values holds the coil values, packed as by PackBits. Its length must be
	// the number of bytes needed for Quantity bits, and unused bits of the last
	// byte must be zero.
	Values []byte
}

// Function implements PDU.
func (p *WriteMultipleCoilsRequest) Function() FunctionCode {
	return FunctionWriteMultipleCoils
}

// Len implements PDU.
func (p *WriteMultipleCoilsRequest) Len() int { return 6 + len(p.Values) }

func (p *WriteMultipleCoilsRequest) isRequest() {}

func (p *WriteMultipleCoilsRequest) validate() error {
	const fc = FunctionWriteMultipleCoils
	n := int(p.Quantity)
	if err := checkQuantity(fc, "quantity", n, maxWriteBits); err != nil {
		return err
	}
	if len(p.Values) != bitBytes(n) {
		return illegalValue(fc, "byte count", "%d bytes for %d coils",
			len(p.Values), n)
	}
	if n%8 != 0 && p.Values[len(p.Values)-1]>>(n%8) != 0 {
		return illegalValue(fc, "values", "unused bits of last byte not zero")
	}
	return checkRange(fc, "address", p.Address, n)
}

func (p *WriteMultipleCoilsRequest) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.Quantity)
	w.uint8(uint8(len(p.Values)))
	w.bytes(p.Values)
}

func decodeWriteMultipleCoilsRequest(r *reader) RequestPDU {
	p := &WriteMultipleCoilsRequest{
		Address:  r.uint16("address"),
		Quantity: r.uint16("quantity"),
	}
	count := int(r.uint8("byte count"))
	if r.err != nil {
		return p
	}
	if err := checkQuantity(r.fc, "quantity", int(p.Quantity), maxWriteBits); err != nil {
		r.fail(err)
		return p
	}
	if count != bitBytes(int(p.Quantity)) {
		r.fail(illegalValue(r.fc, "byte count", "%d bytes for %d coils",
			count, p.Quantity))
		return p
	}
	p.Values = r.bytes("values", count)
	return p
}

// WriteMultipleCoilsResponse is the response PDU of the Write Multiple Coils
// function.
type WriteMultipleCoilsResponse struct {
	// Address is the address of the first written coil.
	Address uint16

	// Quantity is the number of written coils.
	Quantity uint16
}

// Function implements PDU.
func (p *WriteMultipleCoilsResponse) Function() FunctionCode {
	return FunctionWriteMultipleCoils
}

// Len implements PDU.
func (p *WriteMultipleCoilsResponse) Len() int { return 5 }

func (p *WriteMultipleCoilsResponse) isResponse() {}

func (p *WriteMultipleCoilsResponse) validate() error {
	return checkReadRequest(
		FunctionWriteMultipleCoils, p.Address, p.Quantity, maxWriteBits)
}

func (p *WriteMultipleCoilsResponse) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.Quantity)
}

func decodeWriteMultipleCoilsResponse(r *reader) ResponsePDU {
	return &WriteMultipleCoilsResponse{
		Address:  r.uint16("address"),
		Quantity: r.uint16("quantity"),
	}
}
