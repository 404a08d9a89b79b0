package modbus

// Register access functions.

// maxWordBytes is the maximum byte count in a register read response.
const maxWordBytes = 2 * maxReadWords

// ReadHoldingRegistersRequest is the request PDU of the Read Holding
// Registers function.
type ReadHoldingRegistersRequest struct {
	// Address is the address of the first register.
	Address uint16

	// Quantity is the number of registers to read (1 to 125).
	Quantity uint16
}

// Function implements PDU.
func (p *ReadHoldingRegistersRequest) Function() FunctionCode {
	return FunctionReadHoldingRegisters
}

// Len implements PDU.
func (p *ReadHoldingRegistersRequest) Len() int { return 5 }

func (p *ReadHoldingRegistersRequest) isRequest() {}

func (p *ReadHoldingRegistersRequest) validate() error {
	return checkReadRequest(
		FunctionReadHoldingRegisters, p.Address, p.Quantity, maxReadWords)
}

func (p *ReadHoldingRegistersRequest) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.Quantity)
}

func decodeReadHoldingRegistersRequest(r *reader) RequestPDU {
	return &ReadHoldingRegistersRequest{
		Address:  r.uint16("address"),
		Quantity: r.uint16("quantity"),
	}
}

// ReadInputRegistersRequest is the request PDU of the Read Input Registers
// function.
type ReadInputRegistersRequest struct {
	// Address is the address of the first register.
	Address uint16

	// Quantity is the number of registers to read (1 to 125).
	Quantity uint16
}

// Function implements PDU.
func (p *ReadInputRegistersRequest) Function() FunctionCode {
	return FunctionReadInputRegisters
}

// Len implements PDU.
func (p *ReadInputRegistersRequest) Len() int { return 5 }

func (p *ReadInputRegistersRequest) isRequest() {}

func (p *ReadInputRegistersRequest) validate() error {
	return checkReadRequest(
		FunctionReadInputRegisters, p.Address, p.Quantity, maxReadWords)
}

func (p *ReadInputRegistersRequest) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.Quantity)
}

func decodeReadInputRegistersRequest(r *reader) RequestPDU {
	return &ReadInputRegistersRequest{
		Address:  r.uint16("address"),
		Quantity: r.uint16("quantity"),
	}
}

// checkWordValues validates the register values of a register read response.
func checkWordValues(fc FunctionCode, values []uint16) error {
	return checkQuantity(fc, "quantity", len(values), maxReadWords)
}

// readWordValues reads the byte count and register values of a register read
// response.
func readWordValues(r *reader) []uint16 {
	n := int(r.uint8("byte count"))
	if r.err != nil {
		return nil
	}
	if n == 0 || n > maxWordBytes || n%2 != 0 {
		r.fail(illegalValue(r.fc, "byte count", "%d not even in [2,%d]",
			n, maxWordBytes))
		return nil
	}
	return r.words("values", n/2)
}

// putWordValues writes the byte count and register values of a register read
// response.
func putWordValues(w *writer, values []uint16) {
	w.uint8(uint8(2 * len(values)))
	w.words(values)
}

// ReadHoldingRegistersResponse is the response PDU of the Read Holding
// Registers function.
type ReadHoldingRegistersResponse struct {
	// Values holds the register values.
	Values []uint16
}

// Function implements PDU.
func (p *ReadHoldingRegistersResponse) Function() FunctionCode {
	return FunctionReadHoldingRegisters
}

// Len implements PDU.
func (p *ReadHoldingRegistersResponse) Len() int { return 2 + 2*len(p.Values) }

func (p *ReadHoldingRegistersResponse) isResponse() {}

func (p *ReadHoldingRegistersResponse) validate() error {
	return checkWordValues(FunctionReadHoldingRegisters, p.Values)
}

func (p *ReadHoldingRegistersResponse) put(w *writer) {
	putWordValues(w, p.Values)
}

func decodeReadHoldingRegistersResponse(r *reader) ResponsePDU {
	return &ReadHoldingRegistersResponse{Values: readWordValues(r)}
}

// ReadInputRegistersResponse is the response PDU of the Read Input Registers
// function.
type ReadInputRegistersResponse struct {
	// Values holds the register values.
	Values []uint16
}

// Function implements PDU.
func (p *ReadInputRegistersResponse) Function() FunctionCode {
	return FunctionReadInputRegisters
}

// Len implements PDU.
func (p *ReadInputRegistersResponse) Len() int { return 2 + 2*len(p.Values) }

func (p *ReadInputRegistersResponse) isResponse() {}

func (p *ReadInputRegistersResponse) validate() error {
	return checkWordValues(FunctionReadInputRegisters, p.Values)
}

func (p *ReadInputRegistersResponse) put(w *writer) {
	putWordValues(w, p.Values)
}

func decodeReadInputRegistersResponse(r *reader) ResponsePDU {
	return &ReadInputRegistersResponse{Values: readWordValues(r)}
}

// WriteSingleRegisterRequest is the request PDU of the Write Single Register
// function.
type WriteSingleRegisterRequest struct {
	// Address is the register address.
	Address uint16

	// Value is the value to write.
	Value uint16
}

// Function implements PDU.
func (p *WriteSingleRegisterRequest) Function() FunctionCode {
	return FunctionWriteSingleRegister
}

// Len implements PDU.
func (p *WriteSingleRegisterRequest) Len() int { return 5 }

func (p *WriteSingleRegisterRequest) isRequest() {}

func (p *WriteSingleRegisterRequest) validate() error { return nil }

func (p *WriteSingleRegisterRequest) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.Value)
}

func decodeWriteSingleRegisterRequest(r *reader) RequestPDU {
	return &WriteSingleRegisterRequest{
		Address: r.uint16("address"),
		Value:   r.uint16("value"),
	}
}

// WriteSingleRegisterResponse is the response PDU of the Write Single
// Register function. It echoes the request.
type WriteSingleRegisterResponse struct {
	// Address echoes the register address.
	Address uint16

	// Value echoes the written value.
	Value uint16
}

// Function implements PDU.
func (p *WriteSingleRegisterResponse) Function() FunctionCode {
	return FunctionWriteSingleRegister
}

// Len implements PDU.
func (p *WriteSingleRegisterResponse) Len() int { return 5 }

func (p *WriteSingleRegisterResponse) isResponse() {}

func (p *WriteSingleRegisterResponse) validate() error { return nil }

func (p *WriteSingleRegisterResponse) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.Value)
}

func decodeWriteSingleRegisterResponse(r *reader) ResponsePDU {
	return &WriteSingleRegisterResponse{
		Address: r.uint16("address"),
		Value:   r.uint16("value"),
	}
}

// WriteMultipleRegistersRequest is the request PDU of the Write Multiple
// Registers function.
type WriteMultipleRegistersRequest struct {
	// Address is the address of the first register.
	Address uint16

	// Values holds the values to write (1 to 123 registers).
	Values []uint16
}

// Function implements PDU.
func (p *WriteMultipleRegistersRequest) Function() FunctionCode {
	return FunctionWriteMultipleRegisters
}

// Len implements PDU.
func (p *WriteMultipleRegistersRequest) Len() int { return 6 + 2*len(p.Values) }

func (p *WriteMultipleRegistersRequest) isRequest() {}

func (p *WriteMultipleRegistersRequest) validate() error {
	const fc = FunctionWriteMultipleRegisters
	if err := checkQuantity(fc, "quantity", len(p.Values), maxWriteWords); err != nil {
		return err
	}
	return checkRange(fc, "address", p.Address, len(p.Values))
}

func (p *WriteMultipleRegistersRequest) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(uint16(len(p.Values)))
	w.uint8(uint8(2 * len(p.Values)))
	w.words(p.Values)
}

// readWriteValues reads the quantity, byte count, and values of a multiple
// register write. The byte count must be twice the quantity.
func readWriteValues(r *reader, max int) []uint16 {
	n := int(r.uint16("quantity"))
	count := int(r.uint8("byte count"))
	if r.err != nil {
		return nil
	}
	if err := checkQuantity(r.fc, "quantity", n, max); err != nil {
		r.fail(err)
		return nil
	}
	if count != 2*n {
		r.fail(illegalValue(r.fc, "byte count", "%d bytes for %d registers",
			count, n))
		return nil
	}
	return r.words("values", n)
}

func decodeWriteMultipleRegistersRequest(r *reader) RequestPDU {
	p := &WriteMultipleRegistersRequest{Address: r.uint16("address")}
	p.Values = readWriteValues(r, maxWriteWords)
	return p
}

// WriteMultipleRegistersResponse is the response PDU of the Write Multiple
// Registers function.
type WriteMultipleRegistersResponse struct {
	// Address is the address of the first written register.
	Address uint16

	// Quantity is the number of written registers.
	Quantity uint16
}

// Function implements PDU.
func (p *WriteMultipleRegistersResponse) Function() FunctionCode {
	return FunctionWriteMultipleRegisters
}

// Len implements PDU.
func (p *WriteMultipleRegistersResponse) Len() int { return 5 }

func (p *WriteMultipleRegistersResponse) isResponse() {}

func (p *WriteMultipleRegistersResponse) validate() error {
	return checkReadRequest(
		FunctionWriteMultipleRegisters, p.Address, p.Quantity, maxWriteWords)
}

func (p *WriteMultipleRegistersResponse) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.Quantity)
}

func decodeWriteMultipleRegistersResponse(r *reader) ResponsePDU {
	return &WriteMultipleRegistersResponse{
		Address:  r.uint16("address"),
		Quantity: r.uint16("quantity"),
	}
}

// MaskWriteRegisterRequest is the request PDU of the Mask Write Register
// function. The new register value is (old & AndMask) | (OrMask &^ AndMask).
type MaskWriteRegisterRequest struct {
	// Address is the address of the holding register.
	Address uint16

	// AndMask selects the bits of the current value to keep.
	AndMask uint16

	// OrMask supplies the bits not selected by AndMask.
	OrMask uint16
}

// Function implements PDU.
func (p *MaskWriteRegisterRequest) Function() FunctionCode {
	return FunctionMaskWriteRegister
}

// Len implements PDU.
func (p *MaskWriteRegisterRequest) Len() int { return 7 }

func (p *MaskWriteRegisterRequest) isRequest() {}

func (p *MaskWriteRegisterRequest) validate() error { return nil }

func (p *MaskWriteRegisterRequest) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.AndMask)
	w.uint16(p.OrMask)
}

func decodeMaskWriteRegisterRequest(r *reader) RequestPDU {
	return &MaskWriteRegisterRequest{
		Address: r.uint16("address"),
		AndMask: r.uint16("and mask"),
		OrMask:  r.uint16("or mask"),
	}
}

// MaskWriteRegisterResponse is the response PDU of the Mask Write Register
// function. It echoes the request.
type MaskWriteRegisterResponse struct {
	// Address echoes the register address.
	Address uint16

	// AndMask echoes the AND mask.
	AndMask uint16

	// OrMask echoes the OR mask.
	OrMask uint16
}

// Function implements PDU.
func (p *MaskWriteRegisterResponse) Function() FunctionCode {
	return FunctionMaskWriteRegister
}

// Len implements PDU.
func (p *MaskWriteRegisterResponse) Len() int { return 7 }

func (p *MaskWriteRegisterResponse) isResponse() {}

func (p *MaskWriteRegisterResponse) validate() error { return nil }

func (p *MaskWriteRegisterResponse) put(w *writer) {
	w.uint16(p.Address)
	w.uint16(p.AndMask)
	w.uint16(p.OrMask)
}

func decodeMaskWriteRegisterResponse(r *reader) ResponsePDU {
	return &MaskWriteRegisterResponse{
		Address: r.uint16("address"),
		AndMask: r.uint16("and mask"),
		OrMask:  r.uint16("or mask"),
	}
}

// ReadWriteMultipleRegistersRequest is the request PDU of the Read/Write
// Multiple Registers function. The write is performed before the read.
type ReadWriteMultipleRegistersRequest struct {
	// ReadAddress is the address of the first register to read.
	ReadAddress uint16

	// ReadQuantity is the number of registers to read (1 to 125).
	ReadQuantity uint16

	// WriteAddress is the address of the first register to write.
	WriteAddress uint16

	// Values holds the values to write (1 to 121 registers).
	Values []uint16
}

// Function implements PDU.
func (p *ReadWriteMultipleRegistersRequest) Function() FunctionCode {
	return FunctionReadWriteMultipleRegisters
}

// Len implements PDU.
func (p *ReadWriteMultipleRegistersRequest) Len() int {
	return 10 + 2*len(p.Values)
}

func (p *ReadWriteMultipleRegistersRequest) isRequest() {}

func (p *ReadWriteMultipleRegistersRequest) validate() error {
	const fc = FunctionReadWriteMultipleRegisters
	if err := checkQuantity(fc, "read quantity", int(p.ReadQuantity), maxReadWords); err != nil {
		return err
	}
	if err := checkQuantity(fc, "write quantity", len(p.Values), maxReadWriteWords); err != nil {
		return err
	}
	if err := checkRange(fc, "read address", p.ReadAddress, int(p.ReadQuantity)); err != nil {
		return err
	}
	return checkRange(fc, "write address", p.WriteAddress, len(p.Values))
}

func (p *ReadWriteMultipleRegistersRequest) put(w *writer) {
	w.uint16(p.ReadAddress)
	w.uint16(p.ReadQuantity)
	w.uint16(p.WriteAddress)
	w.uint16(uint16(len(p.Values)))
	w.uint8(uint8(2 * len(p.Values)))
	w.words(p.Values)
}

func decodeReadWriteMultipleRegistersRequest(r *reader) RequestPDU {
	p := &ReadWriteMultipleRegistersRequest{
		ReadAddress:  r.uint16("read address"),
		ReadQuantity: r.uint16("read quantity"),
		WriteAddress: r.uint16("write address"),
	}
	p.Values = readWriteValues(r, maxReadWriteWords)
	return p
}

// ReadWriteMultipleRegistersResponse is the response PDU of the Read/Write
// Multiple Registers function.
type ReadWriteMultipleRegistersResponse struct {
	// Values holds the values read.
	Values []uint16
}

// Function implements PDU.
func (p *ReadWriteMultipleRegistersResponse) Function() FunctionCode {
	return FunctionReadWriteMultipleRegisters
}

// Len implements PDU.
func (p *ReadWriteMultipleRegistersResponse) Len() int {
	return 2 + 2*len(p.Values)
}

func (p *ReadWriteMultipleRegistersResponse) isResponse() {}

func (p *ReadWriteMultipleRegistersResponse) validate() error {
	return checkWordValues(FunctionReadWriteMultipleRegisters, p.Values)
}

func (p *ReadWriteMultipleRegistersResponse) put(w *writer) {
	putWordValues(w, p.Values)
}

func decodeReadWriteMultipleRegistersResponse(r *reader) ResponsePDU {
	return &ReadWriteMultipleRegistersResponse{Values: readWordValues(r)}
}

// ReadFIFOQueueRequest is the request PDU of the Read FIFO Queue function.
type ReadFIFOQueueRequest struct {
	// Address is the FIFO pointer address.
	Address uint16
}

// Function implements PDU.
func (p *ReadFIFOQueueRequest) Function() FunctionCode {
	return FunctionReadFIFOQueue
}

// Len implements PDU.
func (p *ReadFIFOQueueRequest) Len() int { return 3 }

func (p *ReadFIFOQueueRequest) isRequest() {}

func (p *ReadFIFOQueueRequest) validate() error { return nil }

func (p *ReadFIFOQueueRequest) put(w *writer) {
	w.uint16(p.Address)
}

func decodeReadFIFOQueueRequest(r *reader) RequestPDU {
	return &ReadFIFOQueueRequest{Address: r.uint16("address")}
}

// ReadFIFOQueueResponse is the response PDU of the Read FIFO Queue function.
type ReadFIFOQueueResponse struct {
	// Values holds the queued register values (0 to 31), oldest first.
	Values []uint16
}

// Function implements PDU.
func (p *ReadFIFOQueueResponse) Function() FunctionCode {
	return FunctionReadFIFOQueue
}

// Len implements PDU.
func (p *ReadFIFOQueueResponse) Len() int { return 5 + 2*len(p.Values) }

func (p *ReadFIFOQueueResponse) isResponse() {}

func (p *ReadFIFOQueueResponse) validate() error {
	if len(p.Values) > maxFIFOCount {
		return illegalValue(FunctionReadFIFOQueue, "fifo count",
			"%d exceeds %d", len(p.Values), maxFIFOCount)
	}
	return nil
}

func (p *ReadFIFOQueueResponse) put(w *writer) {
	w.uint16(uint16(2 + 2*len(p.Values)))
	w.uint16(uint16(len(p.Values)))
	w.words(p.Values)
}

func decodeReadFIFOQueueResponse(r *reader) ResponsePDU {
	count := int(r.uint16("byte count"))
	n := int(r.uint16("fifo count"))
	if r.err != nil {
		return &ReadFIFOQueueResponse{}
	}
	if n > maxFIFOCount {
		r.fail(illegalValue(r.fc, "fifo count", "%d exceeds %d", n, maxFIFOCount))
		return &ReadFIFOQueueResponse{}
	}
	if count != 2+2*n {
		r.fail(illegalValue(r.fc, "byte count", "%d bytes for %d registers",
			count, n))
		return &ReadFIFOQueueResponse{}
	}
	return &ReadFIFOQueueResponse{Values: r.words("values", n)}
}
