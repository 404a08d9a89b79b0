package modbus

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// minimalStorage implements Storage only.
type minimalStorage struct {
	Storage
}

func newTestHandler(t *testing.T, identity *Identity) (*Handler, *Data) {
	t.Helper()
	d := newTestData(t, DataModel{
		Ranges: []DataRange{
			{Type: DataTypeCoils, StartAddress: 0, Len: 32},
			{Type: DataTypeDiscreteInputs, StartAddress: 0, Len: 16},
			{Type: DataTypeHoldingRegisters, StartAddress: 0, Len: 32},
			{Type: DataTypeInputRegisters, StartAddress: 0, Len: 8},
		},
		Files: []FileRange{{Number: 4, Records: 16}},
		FIFOs: []uint16{0x04DE, 0x0500},
	})
	return NewHandler(d, identity), d
}

// call dispatches p to h and returns the response or error.
func call(h *Handler, p RequestPDU) (ResponsePDU, error) {
	return h.FunctionHandler(context.Background(), request(UnitTCP, p), nil)
}

func TestHandlerFunctions(t *testing.T) {
	h, d := newTestHandler(t, nil)
	got := h.Functions()
	want := []FunctionCode{1, 2, 3, 4, 5, 6, 7, 8, 11, 12, 15, 16, 20, 21, 22, 23, 24}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("functions %v, want %v", got, want)
	}
	h = NewHandler(minimalStorage{d}, &Identity{})
	want = []FunctionCode{1, 2, 3, 4, 5, 6, 7, 8, 11, 12, 15, 16, 22, 23, 43}
	if got := h.Functions(); !reflect.DeepEqual(got, want) {
		t.Fatalf("functions %v, want %v", got, want)
	}
}

func TestHandlerAddToServer(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	srv := NewServer()
	if err := h.AddToServer(srv, 1, FunctionReadCoils, FunctionReadCoils); err == nil {
		t.Fatal("duplicate function accepted")
	}
	if err := h.AddToServer(srv, 1, FunctionEncapsulatedInterfaceTransport); err == nil {
		t.Fatal("function without identity accepted")
	}
	if err := h.AddToServer(nil, 1); err == nil {
		t.Fatal("nil server accepted")
	}
	if err := h.AddToServer(srv, 1, FunctionReadHoldingRegisters, FunctionReadCoils); err != nil {
		t.Fatalf("add: %v", err)
	}
	resp, err := srv.Serve(context.Background(), request(1, &ReadHoldingRegistersRequest{Quantity: 2}))
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if _, ok := resp.(*ReadHoldingRegistersResponse); !ok {
		t.Fatalf("got %#v", resp)
	}
	resp, _ = srv.Serve(context.Background(), request(1, &WriteSingleRegisterRequest{}))
	if e, ok := resp.(*ExceptionResponse); !ok || e.Exception != ExceptionIllegalFunction {
		t.Fatalf("unregistered function: got %#v", resp)
	}
}

func TestHandlerData(t *testing.T) {
	h, d := newTestHandler(t, nil)
	if err := SetUint16(d, DataTypeInputRegisters, 2, 0x1234); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteData(DataTypeDiscreteInputs, 0, 8, []byte{0xA5}); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		req  RequestPDU
		want ResponsePDU
	}{
		{"write single coil",
			&WriteSingleCoilRequest{Address: 3, Value: true},
			&WriteSingleCoilResponse{Address: 3, Value: true}},
		{"write multiple coils",
			&WriteMultipleCoilsRequest{Address: 8, Quantity: 10, Values: []byte{0xCD, 0x01}},
			&WriteMultipleCoilsResponse{Address: 8, Quantity: 10}},
		{"read coils",
			&ReadCoilsRequest{Address: 0, Quantity: 20},
			&ReadCoilsResponse{Status: []byte{0x08, 0xCD, 0x01}}},
		{"read discrete inputs",
			&ReadDiscreteInputsRequest{Address: 0, Quantity: 8},
			&ReadDiscreteInputsResponse{Status: []byte{0xA5}}},
		{"write single register",
			&WriteSingleRegisterRequest{Address: 1, Value: 3},
			&WriteSingleRegisterResponse{Address: 1, Value: 3}},
		{"write multiple registers",
			&WriteMultipleRegistersRequest{Address: 4, Values: []uint16{0x12, 0x0102}},
			&WriteMultipleRegistersResponse{Address: 4, Quantity: 2}},
		{"mask write register",
			&MaskWriteRegisterRequest{Address: 4, AndMask: 0xF2, OrMask: 0x25},
			&MaskWriteRegisterResponse{Address: 4, AndMask: 0xF2, OrMask: 0x25}},
		{"read holding registers",
			&ReadHoldingRegistersRequest{Address: 0, Quantity: 6},
			&ReadHoldingRegistersResponse{Values: []uint16{0, 3, 0, 0, 0x17, 0x0102}}},
		{"read input registers",
			&ReadInputRegistersRequest{Address: 2, Quantity: 1},
			&ReadInputRegistersResponse{Values: []uint16{0x1234}}},
		{"read write multiple registers",
			&ReadWriteMultipleRegistersRequest{ReadAddress: 0, ReadQuantity: 3,
				WriteAddress: 2, Values: []uint16{0xFF}},
			&ReadWriteMultipleRegistersResponse{Values: []uint16{0, 3, 0xFF}}},
	}
	for _, test := range tests {
		resp, err := call(h, test.req)
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if !reflect.DeepEqual(resp, test.want) {
			t.Fatalf("%s: got %#v, want %#v", test.name, resp, test.want)
		}
	}
}

func TestHandlerDataErrors(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	tests := []struct {
		name string
		req  RequestPDU
		want ExceptionCode
	}{
		{"coils out of range", &ReadCoilsRequest{Address: 30, Quantity: 3}, ExceptionIllegalDataAddress},
		{"inputs out of range", &ReadInputRegistersRequest{Address: 8, Quantity: 1}, ExceptionIllegalDataAddress},
		{"write out of range", &WriteSingleRegisterRequest{Address: 32}, ExceptionIllegalDataAddress},
		{"fifo missing", &ReadFIFOQueueRequest{Address: 1}, ExceptionIllegalDataAddress},
		{"file missing", &ReadFileRecordRequest{Records: []FileRecordRef{
			{RefType: FileReferenceType, File: 5, Length: 1},
		}}, ExceptionIllegalDataAddress},
		{"records beyond file", &WriteFileRecordRequest{Records: []FileRecord{
			{RefType: FileReferenceType, File: 4, Record: 15, Data: []uint16{1, 2}},
		}}, ExceptionIllegalDataAddress},
		{"device id without identity", (&DeviceIDRequest{Code: DeviceIDBasic}).PDU(), ExceptionIllegalFunction},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resp, err := call(h, test.req)
			if resp != nil {
				t.Fatalf("got response %#v", resp)
			}
			wantException(t, err, test.want)
		})
	}
}

func TestHandlerFilesAndFIFO(t *testing.T) {
	h, d := newTestHandler(t, nil)
	records := []FileRecord{
		{RefType: FileReferenceType, File: 4, Record: 7, Data: []uint16{0x06AF, 0x04BE, 0x100D}},
	}
	resp, err := call(h, &WriteFileRecordRequest{Records: records})
	if err != nil {
		t.Fatalf("write file record: %v", err)
	}
	if want := (&WriteFileRecordResponse{Records: records}); !reflect.DeepEqual(resp, want) {
		t.Fatalf("got %#v, want echo", resp)
	}
	resp, err = call(h, &ReadFileRecordRequest{Records: []FileRecordRef{
		{RefType: FileReferenceType, File: 4, Record: 8, Length: 2},
		{RefType: FileReferenceType, File: 4, Record: 0, Length: 1},
	}})
	if err != nil {
		t.Fatalf("read file record: %v", err)
	}
	want := &ReadFileRecordResponse{Records: []FileRecordData{
		{RefType: FileReferenceType, Data: []uint16{0x04BE, 0x100D}},
		{RefType: FileReferenceType, Data: []uint16{0}},
	}}
	if !reflect.DeepEqual(resp, want) {
		t.Fatalf("got %#v, want %#v", resp, want)
	}

	if err := d.PushFIFO(0x04DE, 0x01B8, 0x1284); err != nil {
		t.Fatal(err)
	}
	resp, err = call(h, &ReadFIFOQueueRequest{Address: 0x04DE})
	if err != nil {
		t.Fatalf("read fifo: %v", err)
	}
	if want := (&ReadFIFOQueueResponse{Values: []uint16{0x01B8, 0x1284}}); !reflect.DeepEqual(resp, want) {
		t.Fatalf("got %#v, want %#v", resp, want)
	}
	resp, err = call(h, &ReadFIFOQueueRequest{Address: 0x0500})
	if err != nil {
		t.Fatalf("read empty fifo: %v", err)
	}
	if r := resp.(*ReadFIFOQueueResponse); len(r.Values) != 0 {
		t.Fatalf("empty fifo returned %v", r.Values)
	}
	if err := d.PushFIFO(0x0500, make([]uint16, 32)...); err != nil {
		t.Fatal(err)
	}
	_, err = call(h, &ReadFIFOQueueRequest{Address: 0x0500})
	wantException(t, err, ExceptionIllegalDataValue)

	h = NewHandler(minimalStorage{d}, nil)
	_, err = call(h, &ReadFIFOQueueRequest{Address: 0x04DE})
	wantException(t, err, ExceptionIllegalFunction)
	_, err = call(h, &ReadFileRecordRequest{Records: []FileRecordRef{
		{RefType: FileReferenceType, File: 4, Length: 1},
	}})
	wantException(t, err, ExceptionIllegalFunction)
}

func diag(t *testing.T, h *Handler, sub uint16, data ...byte) []byte {
	t.Helper()
	resp, err := call(h, &DiagnosticRequest{SubFunction: sub, Data: data})
	if err != nil {
		t.Fatalf("diagnostic 0x%04X: %v", sub, err)
	}
	r := resp.(*DiagnosticResponse)
	if r.SubFunction != sub {
		t.Fatalf("sub-function 0x%04X, want 0x%04X", r.SubFunction, sub)
	}
	return r.Data
}

func TestHandlerDiagnostics(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	h.SetExceptionStatus(0x6D)
	resp, err := call(h, &ReadExceptionStatusRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if r := resp.(*ReadExceptionStatusResponse); r.Status != 0x6D {
		t.Fatalf("exception status 0x%02X", r.Status)
	}

	if got := diag(t, h, DiagReturnQueryData, 0xA5, 0x37); !reflect.DeepEqual(got, []byte{0xA5, 0x37}) {
		t.Fatalf("echo returned % X", got)
	}
	if _, err := call(h, &ReadCoilsRequest{Address: 100, Quantity: 1}); err == nil {
		t.Fatal("expected exception")
	}
	// Three requests so far, one of them failed; the counter query itself
	// is counted once it completes.
	if got := diag(t, h, DiagReturnBusMessageCount, 0, 0); !reflect.DeepEqual(got, []byte{0, 3}) {
		t.Fatalf("bus message count % X", got)
	}
	if got := diag(t, h, DiagReturnServerMessageCount, 0, 0); !reflect.DeepEqual(got, []byte{0, 4}) {
		t.Fatalf("server message count % X", got)
	}
	if got := diag(t, h, DiagReturnBusExceptionCount, 0, 0); !reflect.DeepEqual(got, []byte{0, 1}) {
		t.Fatalf("bus exception count % X", got)
	}
	if got := diag(t, h, DiagReturnDiagnosticRegister, 0, 0); !reflect.DeepEqual(got, []byte{0, 0}) {
		t.Fatalf("diagnostic register % X", got)
	}
	for _, sub := range []uint16{
		DiagReturnBusCommErrorCount, DiagReturnServerNoResponseCount,
		DiagReturnServerNAKCount, DiagReturnServerBusyCount, DiagReturnBusOverrunCount,
	} {
		if got := diag(t, h, sub, 0, 0); !reflect.DeepEqual(got, []byte{0, 0}) {
			t.Fatalf("counter 0x%04X = % X", sub, got)
		}
	}
	diag(t, h, DiagClearCounters, 0, 0)
	if got := diag(t, h, DiagReturnBusMessageCount, 0, 0); !reflect.DeepEqual(got, []byte{0, 1}) {
		t.Fatalf("bus message count after clear % X", got)
	}
	diag(t, h, DiagClearOverrunCounter, 0, 0)

	tests := []struct {
		name string
		sub  uint16
		data []byte
		want ExceptionCode
	}{
		{"counter with data", DiagReturnBusMessageCount, []byte{0, 1}, ExceptionIllegalDataValue},
		{"counter without data", DiagReturnBusMessageCount, nil, ExceptionIllegalDataValue},
		{"restart data", DiagRestartCommunications, []byte{0x12, 0x34}, ExceptionIllegalDataValue},
		{"unknown sub-function", 0x0003, []byte{0, 0}, ExceptionIllegalFunction},
		{"listen only mode", 0x0004, []byte{0, 0}, ExceptionIllegalFunction},
	}
	for _, test := range tests {
		_, err := call(h, &DiagnosticRequest{SubFunction: test.sub, Data: test.data})
		if ec, _ := ExceptionOf(err); ec != test.want {
			t.Fatalf("%s: got %v, want %s", test.name, err, test.want)
		}
	}
}

func TestHandlerEventLog(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	if _, err := call(h, &WriteSingleRegisterRequest{Address: 1, Value: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := call(h, &ReadHoldingRegistersRequest{Address: 40, Quantity: 1}); err == nil {
		t.Fatal("expected exception")
	}
	resp, err := call(h, &GetComEventCounterRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if r := resp.(*GetComEventCounterResponse); r.EventCount != 1 || r.Status != StatusReady {
		t.Fatalf("event counter %+v, want 1", r)
	}
	resp, err = call(h, &GetComEventLogRequest{})
	if err != nil {
		t.Fatal(err)
	}
	// The log reflects the requests completed before this one.
	log := resp.(*GetComEventLogResponse)
	if log.EventCount != 1 || log.MessageCount != 3 {
		t.Fatalf("event log counters %+v", log)
	}
	wantEvents := []byte{
		eventSend,                   // event counter response
		eventReceive,                // event counter request
		eventSend | eventSendReadEx, // exception response
		eventReceive,                // read request
		eventSend,                   // write response
		eventReceive,                // write request
	}
	if !reflect.DeepEqual(log.Events, wantEvents) {
		t.Fatalf("events % X, want % X", log.Events, wantEvents)
	}

	for i := 0; i < 40; i++ {
		call(h, &ReadExceptionStatusRequest{})
	}
	resp, _ = call(h, &GetComEventLogRequest{})
	if n := len(resp.(*GetComEventLogResponse).Events); n != maxEventLogEvents {
		t.Fatalf("%d events, want %d", n, maxEventLogEvents)
	}

	diag(t, h, DiagRestartCommunications, 0xFF, 0x00)
	resp, _ = call(h, &GetComEventLogRequest{})
	log = resp.(*GetComEventLogResponse)
	wantEvents = []byte{eventSend, eventReceive, eventCommRestart}
	if !reflect.DeepEqual(log.Events, wantEvents) {
		t.Fatalf("events after restart % X, want % X", log.Events, wantEvents)
	}
	if log.MessageCount != 1 {
		t.Fatalf("message count after restart %d, want 1", log.MessageCount)
	}
}

func TestHandlerBusyException(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	h.record(FunctionReadCoils, ExceptionServerDeviceBusy)
	h.record(FunctionReadCoils, errors.New("storage failure"))
	h.mx.Lock()
	events := append([]byte(nil), h.events...)
	h.mx.Unlock()
	want := []byte{eventSend | eventSendAbortEx, eventReceive, eventSend | eventSendBusyEx, eventReceive}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events % X, want % X", events, want)
	}
	if got := diag(t, h, DiagReturnServerBusyCount, 0, 0); !reflect.DeepEqual(got, []byte{0, 1}) {
		t.Fatalf("busy count % X", got)
	}
}

func testIdentity() *Identity {
	return &Identity{
		VendorName:         "Acme",
		ProductCode:        "MB-1",
		MajorMinorRevision: "1.2",
		ProductName:        "Gateway",
		Extended:           map[uint8]string{0x81: "x", 0x80: "y"},
	}
}

func readDeviceID(t *testing.T, h *Handler, code, objectID uint8) *DeviceIDResponse {
	t.Helper()
	resp, err := call(h, (&DeviceIDRequest{Code: code, ObjectID: objectID}).PDU())
	if err != nil {
		t.Fatalf("read device id %d/%d: %v", code, objectID, err)
	}
	id, err := ParseDeviceIDResponse(resp.(*EncapsulatedInterfaceResponse))
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return id
}

func TestHandlerDeviceIdentification(t *testing.T) {
	h, _ := newTestHandler(t, testIdentity())
	id := readDeviceID(t, h, DeviceIDBasic, 0)
	want := &DeviceIDResponse{
		Code:       DeviceIDBasic,
		Conformity: 0x83,
		Objects: []DeviceIDObject{
			{ID: 0, Value: "Acme"}, {ID: 1, Value: "MB-1"}, {ID: 2, Value: "1.2"},
		},
	}
	if !reflect.DeepEqual(id, want) {
		t.Fatalf("basic: got %+v, want %+v", id, want)
	}

	id = readDeviceID(t, h, DeviceIDRegular, 0)
	if len(id.Objects) != 4 || id.Objects[3].ID != ObjectProductName {
		t.Fatalf("regular: %+v", id.Objects)
	}

	id = readDeviceID(t, h, DeviceIDExtended, 0x80)
	if len(id.Objects) != 2 || id.Objects[0].Value != "y" || id.Objects[1].Value != "x" {
		t.Fatalf("extended from 0x80: %+v", id.Objects)
	}

	// Unknown start objects restart the stream.
	id = readDeviceID(t, h, DeviceIDBasic, 0x42)
	if len(id.Objects) != 3 {
		t.Fatalf("unknown start: %+v", id.Objects)
	}

	id = readDeviceID(t, h, DeviceIDIndividual, ObjectProductName)
	if len(id.Objects) != 1 || id.Objects[0].Value != "Gateway" {
		t.Fatalf("individual: %+v", id.Objects)
	}
	_, err := call(h, (&DeviceIDRequest{Code: DeviceIDIndividual, ObjectID: ObjectModelName}).PDU())
	wantException(t, err, ExceptionIllegalDataAddress)

	_, err = call(h, &EncapsulatedInterfaceRequest{MEIType: MEIReadDeviceIdentification, Data: []byte{5, 0}})
	wantException(t, err, ExceptionIllegalDataValue)
	_, err = call(h, &EncapsulatedInterfaceRequest{MEIType: MEICANopenGeneralReference})
	wantException(t, err, ExceptionIllegalFunction)
}

func TestHandlerDeviceIdentificationStreaming(t *testing.T) {
	identity := testIdentity()
	identity.Extended = map[uint8]string{
		0x80: strings.Repeat("a", 200),
		0x81: strings.Repeat("b", 200),
		0x82: strings.Repeat("c", 300),
	}
	h, _ := newTestHandler(t, identity)
	id := readDeviceID(t, h, DeviceIDExtended, 0)
	if !id.MoreFollows || id.NextObjectID != 0x81 {
		t.Fatalf("first part: more=%v next=0x%02X", id.MoreFollows, id.NextObjectID)
	}
	if last := id.Objects[len(id.Objects)-1]; last.ID != 0x80 {
		t.Fatalf("first part ends with 0x%02X", last.ID)
	}
	id = readDeviceID(t, h, DeviceIDExtended, id.NextObjectID)
	if !id.MoreFollows || id.NextObjectID != 0x82 || len(id.Objects) != 1 {
		t.Fatalf("second part: %+v", id)
	}
	id = readDeviceID(t, h, DeviceIDExtended, id.NextObjectID)
	if id.MoreFollows || len(id.Objects) != 1 || len(id.Objects[0].Value) != maxObjectLen {
		t.Fatalf("third part: more=%v objects=%d", id.MoreFollows, len(id.Objects))
	}
}

func TestIdentityValidate(t *testing.T) {
	if err := testIdentity().Validate(); err != nil {
		t.Fatalf("valid identity: %v", err)
	}
	id := testIdentity()
	id.ProductCode = ""
	if err := id.Validate(); err == nil {
		t.Fatal("missing product code accepted")
	}
	id = testIdentity()
	id.Extended[0x10] = "reserved"
	if err := id.Validate(); err == nil {
		t.Fatal("extended object in regular range accepted")
	}
}
