package modbus

// PDU describes a Modbus protocol data unit, i. e., a function code followed
// by function specific data. Every function and direction has its own
// implementation of this interface; the set of implementations is closed.
type PDU interface {
	// Function returns the function code of this PDU.
	Function() FunctionCode

	// Len returns the encoded length of this PDU in bytes, including the
	// function code.
	Len() int

	// validate checks all fields against their protocol-defined ranges.
	validate() error

	// put writes the fields following the function code. The writer is
	// guaranteed to have room for Len()-1 bytes.
	put(w *writer)
}

// RequestPDU describes a PDU sent from a client to a server.
type RequestPDU interface {
	PDU
	isRequest()
}

// ResponsePDU describes a PDU sent from a server to a client. This includes
// ExceptionResponse.
type ResponsePDU interface {
	PDU
	isResponse()
}

// requestDecoders maps supported function codes to request decoders. A decoder
// reads the fields in wire order and performs the wire-level consistency checks
// (byte counts); semantic checks are done by the validate method of the
// returned PDU.
var requestDecoders = map[FunctionCode]func(r *reader) RequestPDU{
	FunctionReadCoils:                      decodeReadCoilsRequest,
	FunctionReadDiscreteInputs:             decodeReadDiscreteInputsRequest,
	FunctionReadHoldingRegisters:           decodeReadHoldingRegistersRequest,
	FunctionReadInputRegisters:             decodeReadInputRegistersRequest,
	FunctionWriteSingleCoil:                decodeWriteSingleCoilRequest,
	FunctionWriteSingleRegister:            decodeWriteSingleRegisterRequest,
	FunctionReadExceptionStatus:            decodeReadExceptionStatusRequest,
	FunctionDiagnostic:                     decodeDiagnosticRequest,
	FunctionGetComEventCounter:             decodeGetComEventCounterRequest,
	FunctionGetComEventLog:                 decodeGetComEventLogRequest,
	FunctionWriteMultipleCoils:             decodeWriteMultipleCoilsRequest,
	FunctionWriteMultipleRegisters:         decodeWriteMultipleRegistersRequest,
	FunctionReadFileRecord:                 decodeReadFileRecordRequest,
	FunctionWriteFileRecord:                decodeWriteFileRecordRequest,
	FunctionMaskWriteRegister:              decodeMaskWriteRegisterRequest,
	FunctionReadWriteMultipleRegisters:     decodeReadWriteMultipleRegistersRequest,
	FunctionReadFIFOQueue:                  decodeReadFIFOQueueRequest,
	FunctionEncapsulatedInterfaceTransport: decodeEncapsulatedInterfaceRequest,
}

// responseDecoders maps supported function codes to response decoders.
var responseDecoders = map[FunctionCode]func(r *reader) ResponsePDU{
	FunctionReadCoils:                      decodeReadCoilsResponse,
	FunctionReadDiscreteInputs:             decodeReadDiscreteInputsResponse,
	FunctionReadHoldingRegisters:           decodeReadHoldingRegistersResponse,
	FunctionReadInputRegisters:             decodeReadInputRegistersResponse,
	FunctionWriteSingleCoil:                decodeWriteSingleCoilResponse,
	FunctionWriteSingleRegister:            decodeWriteSingleRegisterResponse,
	FunctionReadExceptionStatus:            decodeReadExceptionStatusResponse,
	FunctionDiagnostic:                     decodeDiagnosticResponse,
	FunctionGetComEventCounter:             decodeGetComEventCounterResponse,
	FunctionGetComEventLog:                 decodeGetComEventLogResponse,
	FunctionWriteMultipleCoils:             decodeWriteMultipleCoilsResponse,
	FunctionWriteMultipleRegisters:         decodeWriteMultipleRegistersResponse,
	FunctionReadFileRecord:                 decodeReadFileRecordResponse,
	FunctionWriteFileRecord:                decodeWriteFileRecordResponse,
	FunctionMaskWriteRegister:              decodeMaskWriteRegisterResponse,
	FunctionReadWriteMultipleRegisters:     decodeReadWriteMultipleRegistersResponse,
	FunctionReadFIFOQueue:                  decodeReadFIFOQueueResponse,
	FunctionEncapsulatedInterfaceTransport: decodeEncapsulatedInterfaceResponse,
}

// encode validates p and writes it into dst.
func encode(dst []byte, p PDU) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	n := p.Len()
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	w := &writer{buf: dst[:n]}
	w.uint8(uint8(p.Function()))
	p.put(w)
	return n, nil
}

// EncodeRequest validates the request PDU p and writes it into dst.
// It returns the number of bytes written. On error, nothing is written.
func EncodeRequest(dst []byte, p RequestPDU) (int, error) {
	return encode(dst, p)
}

// EncodeResponse validates the response PDU p and writes it into dst.
// It returns the number of bytes written. On error, nothing is written.
func EncodeResponse(dst []byte, p ResponsePDU) (int, error) {
	return encode(dst, p)
}

// AppendRequest appends the encoded request PDU p to dst.
func AppendRequest(dst []byte, p RequestPDU) ([]byte, error) {
	return appendPDU(dst, p)
}

// AppendResponse appends the encoded response PDU p to dst.
func AppendResponse(dst []byte, p ResponsePDU) ([]byte, error) {
	return appendPDU(dst, p)
}

// appendPDU appends the encoded PDU p to dst.
func appendPDU(dst []byte, p PDU) ([]byte, error) {
	if err := p.validate(); err != nil {
		return dst, err
	}
	start := len(dst)
	dst = append(dst, make([]byte, p.Len())...)
	if _, err := encode(dst[start:], p); err != nil {
		return dst[:start], err
	}
	return dst, nil
}

// DecodeRequest decodes a request PDU from data, which holds exactly the
// bytes the sender claims belong to the PDU. It returns the decoded PDU and
// the number of bytes consumed. Decoding never reads beyond data.
func DecodeRequest(data []byte) (RequestPDU, int, error) {
	if len(data) < minPDULen {
		return nil, 0, illegalValue(0, "function", "empty PDU")
	}
	fc := FunctionCode(data[0])
	decoder, ok := requestDecoders[fc]
	if !ok {
		return nil, 0, illegalValue(fc, "function", "unsupported request function")
	}
	r := &reader{fc: fc, data: data[1:]}
	p := decoder(r)
	if r.err != nil {
		return nil, 0, r.err
	}
	if err := p.validate(); err != nil {
		return nil, 0, err
	}
	return p, 1 + r.off, nil
}

// DecodeResponse decodes a response PDU from data, which holds exactly the
// bytes the sender claims belong to the PDU. Error responses are decoded as
// *ExceptionResponse. It returns the decoded PDU and the number of bytes
// consumed. Decoding never reads beyond data.
func DecodeResponse(data []byte) (ResponsePDU, int, error) {
	if len(data) < minPDULen {
		return nil, 0, illegalValue(0, "function", "empty PDU")
	}
	fc := FunctionCode(data[0])
	if fc.IsError() {
		p, n, err := DecodeError(data)
		if err != nil {
			return nil, 0, err
		}
		return p, n, nil
	}
	decoder, ok := responseDecoders[fc]
	if !ok {
		return nil, 0, illegalValue(fc, "function", "unsupported response function")
	}
	r := &reader{fc: fc, data: data[1:]}
	p := decoder(r)
	if r.err != nil {
		return nil, 0, r.err
	}
	if err := p.validate(); err != nil {
		return nil, 0, err
	}
	return p, 1 + r.off, nil
}
