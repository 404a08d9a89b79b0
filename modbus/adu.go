package modbus

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
)

const (
	// HeaderLen is the length of the MBAP header, in bytes.
	HeaderLen = 7

	// MaxADULen is the maximum length of a Modbus/TCP ADU, in bytes.
	MaxADULen = HeaderLen + maxPDULen

	// minLength and maxLength bound the MBAP length field, which counts the
	// unit identifier and the PDU.
	minLength = 1 + minPDULen
	maxLength = 1 + maxPDULen
)

// mbap is the Modbus application protocol header.
type mbap [HeaderLen]byte

// mbapOf returns the MBAP header at the start of b, which must hold at least
// HeaderLen bytes.
func mbapOf(b []byte) *mbap {
	return (*mbap)((*[HeaderLen]byte)(b[:HeaderLen]))
}

// PDULen returns the PDU length encoded in this MBAP. The result is not
// checked for validity.
func (m *mbap) PDULen() int {
	return int(binary.BigEndian.Uint16(m[4:6])) - 1 // subtract unit id byte
}

// Header returns the decoded header fields.
func (m *mbap) Header() Header {
	return Header{
		TransactionID: binary.BigEndian.Uint16(m[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(m[2:4]),
		Length:        binary.BigEndian.Uint16(m[4:6]),
		UnitID:        UnitID(m[6]),
	}
}

// setHeader sets all fields of this MBAP from h.
func (m *mbap) setHeader(h Header) {
	binary.BigEndian.PutUint16(m[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(m[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(m[4:6], h.Length)
	m[6] = byte(h.UnitID)
}

// Header holds the fields of the MBAP header.
type Header struct {
	// TransactionID pairs requests and responses. Servers echo it.
	TransactionID uint16

	// ProtocolID is always 0 for Modbus.
	ProtocolID uint16

	// Length is the number of bytes following the length field, i. e., the
	// unit identifier plus the PDU. The formatting functions fill it in.
	Length uint16

	// UnitID identifies the target device behind a gateway.
	UnitID UnitID
}

// ADU is a Modbus/TCP application data unit: an MBAP header followed by a
// PDU.
type ADU struct {
	Header

	// PDU is the protocol data unit. It is a RequestPDU or a ResponsePDU,
	// depending on the direction.
	PDU PDU
}

// String renders this ADU for diagnostic output, e. g.,
//
//	trans_id=0x0001 proto_id=0x0000 len=0x0006 unit_id=0x03 func=0x01 data=[AB CD 01 23]
//
// The data bytes are the encoded PDU without the function code. The PDU is not
// validated. A nil PDU, including a nil pointer of a PDU type, is rendered as
// func=none.
func (a *ADU) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "trans_id=0x%04X proto_id=0x%04X len=0x%04X unit_id=0x%02X",
		a.TransactionID, a.ProtocolID, a.Length, uint8(a.UnitID))
	if a.PDU == nil || reflect.ValueOf(a.PDU).IsNil() {
		sb.WriteString(" func=none data=[]")
		return sb.String()
	}
	w := &writer{buf: make([]byte, a.PDU.Len()-1)}
	a.PDU.put(w)
	fmt.Fprintf(&sb, " func=0x%02X data=[", uint8(a.PDU.Function()))
	for i, b := range w.buf {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	sb.WriteByte(']')
	return sb.String()
}

// format writes the header h and the PDU p into dst. The length field is
// computed from p; h.Length is ignored.
func format(dst []byte, h Header, p PDU) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	n := HeaderLen + p.Len()
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	if _, err := encode(dst[HeaderLen:], p); err != nil {
		return 0, err
	}
	h.Length = uint16(1 + p.Len())
	mbapOf(dst).setHeader(h)
	return n, nil
}

// FormatRequest writes the request ADU a into dst and returns the number of
// bytes written. The length field is computed from the PDU; a itself is not
// modified. On error, nothing is written.
func FormatRequest(dst []byte, a *ADU) (int, error) {
	p, ok := a.PDU.(RequestPDU)
	if !ok {
		return 0, fmt.Errorf("format request: %T is not a request PDU", a.PDU)
	}
	return format(dst, a.Header, p)
}

// FormatResponse writes the response ADU a into dst and returns the number of
// bytes written. The length field is computed from the PDU; a itself is not
// modified. On error, nothing is written.
func FormatResponse(dst []byte, a *ADU) (int, error) {
	p, ok := a.PDU.(ResponsePDU)
	if !ok {
		return 0, fmt.Errorf("format response: %T is not a response PDU", a.PDU)
	}
	return format(dst, a.Header, p)
}

// FormatError writes a framed exception response for a request with function
// code fc into dst. Unlike EncodeError, fc is the request function code, which
// need not be known to this package, so servers can reject any function code.
// It returns the number of bytes written.
func FormatError(dst []byte, h Header, fc FunctionCode, exception ExceptionCode) (int, error) {
	if !exception.IsValid() {
		return 0, illegalValue(fc, "exception",
			"undefined exception code 0x%02X", uint8(exception))
	}
	const n = HeaderLen + 2
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	h.Length = 3
	mbapOf(dst).setHeader(h)
	dst[HeaderLen] = byte(fc.AsError())
	dst[HeaderLen+1] = byte(exception)
	return n, nil
}

// parseHeader reads the MBAP header from data and returns it together with
// the PDU bytes the header claims.
func parseHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderLen {
		return Header{}, nil, illegalValue(0, "header", "need %d bytes, have %d",
			HeaderLen, len(data))
	}
	h := mbapOf(data).Header()
	if h.ProtocolID != 0 {
		return h, nil, illegalValue(0, "protocol identifier", "0x%04X, want 0",
			h.ProtocolID)
	}
	if h.Length < minLength || h.Length > maxLength {
		return h, nil, illegalValue(0, "length", "%d not in [%d,%d]",
			h.Length, minLength, maxLength)
	}
	end := HeaderLen - 1 + int(h.Length)
	if len(data) < end {
		return h, nil, illegalValue(0, "length", "declared %d, have %d",
			h.Length, len(data)-HeaderLen+1)
	}
	return h, data[HeaderLen:end], nil
}

// checkLength checks the length field against the decoded PDU length.
func checkLength(h Header, fc FunctionCode, consumed int) error {
	if int(h.Length) != 1+consumed {
		return illegalValue(fc, "length", "declared %d, PDU uses %d",
			h.Length, 1+consumed)
	}
	return nil
}

// ParseRequest decodes a request ADU from data. Only the bytes claimed by the
// header length field are examined; trailing bytes, such as a pipelined
// follow-up request, are left alone. It returns the ADU and the number of
// bytes consumed.
func ParseRequest(data []byte) (*ADU, int, error) {
	h, pdu, err := parseHeader(data)
	if err != nil {
		return nil, 0, err
	}
	p, n, err := DecodeRequest(pdu)
	if err != nil {
		return nil, 0, err
	}
	if err := checkLength(h, p.Function(), n); err != nil {
		return nil, 0, err
	}
	return &ADU{Header: h, PDU: p}, HeaderLen + n, nil
}

// ParseResponse decodes a response ADU from data. Exception responses are
// decoded into an *ExceptionResponse PDU. See ParseRequest for the handling
// of trailing bytes.
func ParseResponse(data []byte) (*ADU, int, error) {
	h, pdu, err := parseHeader(data)
	if err != nil {
		return nil, 0, err
	}
	p, n, err := DecodeResponse(pdu)
	if err != nil {
		return nil, 0, err
	}
	if err := checkLength(h, p.Function(), n); err != nil {
		return nil, 0, err
	}
	return &ADU{Header: h, PDU: p}, HeaderLen + n, nil
}
