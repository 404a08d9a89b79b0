package modbus

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestParseRequest(t *testing.T) {
	data := unhex(t, "0001 0000 0006 03 01 ABCD 0123")
	adu, n, err := ParseRequest(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != len(data) {
		t.Fatalf("consumed %d bytes, want %d", n, len(data))
	}
	want := &ADU{
		Header: Header{TransactionID: 1, Length: 6, UnitID: 3},
		PDU:    &ReadCoilsRequest{Address: 0xABCD, Quantity: 0x0123},
	}
	if !reflect.DeepEqual(adu, want) {
		t.Fatalf("parsed %#v, want %#v", adu, want)
	}
	const str = "trans_id=0x0001 proto_id=0x0000 len=0x0006 unit_id=0x03 func=0x01 data=[AB CD 01 23]"
	if got := adu.String(); got != str {
		t.Fatalf("String() = %q, want %q", got, str)
	}
}

func TestParseRequestPipelined(t *testing.T) {
	data := unhex(t, `
		0001 0000 0006 01 03 0000 0001
		0002 0000 0002 01 07`)
	adu, n, err := ParseRequest(data)
	if err != nil {
		t.Fatalf("parse first: %v", err)
	}
	if n != 12 || adu.TransactionID != 1 {
		t.Fatalf("first ADU: n=%d %s", n, adu)
	}
	adu, m, err := ParseRequest(data[n:])
	if err != nil {
		t.Fatalf("parse second: %v", err)
	}
	if n+m != len(data) || adu.TransactionID != 2 {
		t.Fatalf("second ADU: n=%d %s", m, adu)
	}
	if _, ok := adu.PDU.(*ReadExceptionStatusRequest); !ok {
		t.Fatalf("second PDU is %T", adu.PDU)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		response bool
	}{
		{"short header", "0001 0000 00", false},
		{"protocol identifier", "0001 0001 0006 01 03 0000 0001", false},
		{"length too small", "0001 0000 0001 01", false},
		{"length too large", "0001 0000 00FF 01 03", false},
		{"truncated", "0001 0000 0006 01 03 0000", false},
		{"length exceeds PDU", "0001 0000 0008 01 03 0000 0001 0000", false},
		{"invalid PDU", "0001 0000 0006 01 03 0000 0000", false},
		{"response length exceeds PDU", "0001 0000 0004 01 83 02 00", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			parse := ParseRequest
			if test.response {
				parse = ParseResponse
			}
			adu, n, err := parse(unhex(t, test.data))
			wantException(t, err, ExceptionIllegalDataValue)
			if adu != nil || n != 0 {
				t.Fatalf("got %v, %d along with error", adu, n)
			}
		})
	}
}

func TestParseResponseException(t *testing.T) {
	adu, _, err := ParseResponse(unhex(t, "0007 0000 0003 FF 83 02"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e, ok := adu.PDU.(*ExceptionResponse)
	if !ok {
		t.Fatalf("PDU is %T", adu.PDU)
	}
	if e.Code.Base() != FunctionReadHoldingRegisters ||
		e.Exception != ExceptionIllegalDataAddress {
		t.Fatalf("unexpected exception response %+v", e)
	}
	if adu.UnitID != UnitTCP {
		t.Fatalf("unit %s", adu.UnitID)
	}
}

func TestFormatResponse(t *testing.T) {
	adu := &ADU{
		Header: Header{TransactionID: 0x1234, Length: 99, UnitID: UnitTCP},
		PDU:    &ReadHoldingRegistersResponse{Values: []uint16{0x022B, 0x0000}},
	}
	buf := make([]byte, MaxADULen)
	n, err := FormatResponse(buf, adu)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := unhex(t, "1234 0000 0007 FF 03 04 022B 0000")
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("formatted % X, want % X", buf[:n], want)
	}
	if adu.Length != 99 {
		t.Fatal("FormatResponse modified the ADU")
	}
	if _, err := FormatRequest(buf, adu); err == nil {
		t.Fatal("FormatRequest accepted a response PDU")
	}
	if _, err := FormatResponse(buf[:n-1], adu); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestFormatRequestRoundTrip(t *testing.T) {
	adu := &ADU{
		Header: Header{TransactionID: 9, UnitID: 1},
		PDU: &ReadWriteMultipleRegistersRequest{
			ReadAddress: 3, ReadQuantity: 6, WriteAddress: 14,
			Values: []uint16{0xFF, 0xFF, 0xFF},
		},
	}
	buf := make([]byte, MaxADULen)
	n, err := FormatRequest(buf, adu)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	got, m, err := ParseRequest(buf[:n])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m != n {
		t.Fatalf("consumed %d of %d bytes", m, n)
	}
	adu.Length = uint16(n - HeaderLen + 1)
	if !reflect.DeepEqual(got, adu) {
		t.Fatalf("parsed %#v, want %#v", got, adu)
	}
}

func TestFormatError(t *testing.T) {
	buf := make([]byte, MaxADULen)
	h := Header{TransactionID: 5, UnitID: UnitTCP}
	n, err := FormatError(buf, h, 0x41, ExceptionIllegalFunction)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := unhex(t, "0005 0000 0003 FF C1 01")
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("formatted % X, want % X", buf[:n], want)
	}
	if _, err := FormatError(buf, h, 0x03, 0x07); err == nil {
		t.Fatal("accepted undefined exception code")
	}
	if _, err := FormatError(buf[:8], h, 0x03, ExceptionIllegalFunction); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestADUStringWithoutPDU(t *testing.T) {
	const want = "trans_id=0x0002 proto_id=0x0000 len=0x0002 unit_id=0x01 func=none data=[]"
	header := Header{TransactionID: 2, Length: 2, UnitID: 1}
	tests := []struct {
		name string
		pdu  PDU
	}{
		{"nil", nil},
		{"nil response", (*ReadCoilsResponse)(nil)},
		{"nil request", (*WriteFileRecordRequest)(nil)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			adu := &ADU{Header: header, PDU: test.pdu}
			if got := adu.String(); got != want {
				t.Fatalf("String() = %q, want %q", got, want)
			}
		})
	}
}
