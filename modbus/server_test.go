package modbus

import (
	"context"
	"errors"
	"testing"
)

// testAddress is a fixed Address.
type testAddress string

func (a testAddress) Protocol() string { return "mbap" }
func (a testAddress) String() string   { return "mbap://" + string(a) }

// testMessage wraps a request PDU for direct dispatch.
type testMessage struct {
	adu *ADU
}

func (m *testMessage) From() Address { return testAddress("127.0.0.1:50000") }
func (m *testMessage) To() Address   { return testAddress("127.0.0.1:502") }
func (m *testMessage) ADU() *ADU     { return m.adu }

func request(unit UnitID, p RequestPDU) Message {
	return &testMessage{adu: &ADU{Header: Header{UnitID: unit}, PDU: p}}
}

func TestServerDispatch(t *testing.T) {
	srv := NewServer()
	ctx := context.Background()
	msg := request(1, &ReadCoilsRequest{Quantity: 1})

	resp, err := srv.Serve(ctx, msg)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if e, ok := resp.(*ExceptionResponse); !ok || e.Exception != ExceptionIllegalFunction {
		t.Fatalf("unregistered function: got %#v", resp)
	}

	handler := func(context.Context, Message, *Server) (ResponsePDU, error) {
		return &ReadCoilsResponse{Status: []byte{1}}, nil
	}
	if err := srv.SetFunctionHandler(handler, 1, FunctionReadCoils); err != nil {
		t.Fatalf("set handler: %v", err)
	}
	if err := srv.SetFunctionHandler(handler, 1, FunctionReadCoils); err == nil {
		t.Fatal("duplicate handler accepted")
	}
	if err := srv.SetFunctionHandler(handler, 1, 0x41); err == nil {
		t.Fatal("unsupported function accepted")
	}
	resp, err = srv.Serve(ctx, msg)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if _, ok := resp.(*ReadCoilsResponse); !ok {
		t.Fatalf("got %#v", resp)
	}

	// Other units use the fallback.
	resp, _ = srv.Serve(ctx, request(2, &ReadCoilsRequest{Quantity: 1}))
	if _, ok := resp.(*ExceptionResponse); !ok {
		t.Fatalf("unit 2: got %#v", resp)
	}

	if err := srv.SetFunctionHandler(nil, 1, FunctionReadCoils); err != nil {
		t.Fatalf("remove handler: %v", err)
	}
	resp, _ = srv.Serve(ctx, msg)
	if _, ok := resp.(*ExceptionResponse); !ok {
		t.Fatalf("removed handler still called: %#v", resp)
	}
}

func TestServerServeErrors(t *testing.T) {
	ctx := context.Background()
	msg := request(1, &ReadHoldingRegistersRequest{Quantity: 1})
	tests := []struct {
		name      string
		handler   FunctionHandler
		exception ExceptionCode
		wantErr   bool
	}{
		{"exception code", func(context.Context, Message, *Server) (ResponsePDU, error) {
			return nil, ExceptionIllegalDataAddress
		}, ExceptionIllegalDataAddress, false},
		{"wrapped codec error", func(context.Context, Message, *Server) (ResponsePDU, error) {
			return nil, illegalValue(FunctionReadHoldingRegisters, "quantity", "test")
		}, ExceptionIllegalDataValue, false},
		{"plain error", func(context.Context, Message, *Server) (ResponsePDU, error) {
			return nil, errors.New("disk on fire")
		}, ExceptionServerDeviceFailure, true},
		{"mismatched response", func(context.Context, Message, *Server) (ResponsePDU, error) {
			return &ReadCoilsResponse{Status: []byte{0}}, nil
		}, ExceptionServerDeviceFailure, true},
		{"exception response", func(context.Context, Message, *Server) (ResponsePDU, error) {
			return exceptionResponse(FunctionReadHoldingRegisters, ExceptionServerDeviceBusy), nil
		}, ExceptionServerDeviceBusy, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv := NewServer()
			srv.SetFallbackFunctionHandler(test.handler)
			resp, err := srv.Serve(ctx, msg)
			if (err != nil) != test.wantErr {
				t.Fatalf("error %v, want error: %v", err, test.wantErr)
			}
			e, ok := resp.(*ExceptionResponse)
			if !ok {
				t.Fatalf("got %#v, want exception response", resp)
			}
			if e.Code != 0x83 || e.Exception != test.exception {
				t.Fatalf("got %+v, want exception %s", e, test.exception)
			}
		})
	}
}

func TestServerNoResponse(t *testing.T) {
	srv := NewServer()
	srv.SetFallbackFunctionHandler(func(context.Context, Message, *Server) (ResponsePDU, error) {
		return nil, nil
	})
	resp, err := srv.Serve(context.Background(), request(1, &ReadExceptionStatusRequest{}))
	if resp != nil || err != nil {
		t.Fatalf("got %v, %v", resp, err)
	}
}
