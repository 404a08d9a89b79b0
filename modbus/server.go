package modbus

import (
	"context"
	"fmt"
	"sync"
)

// unitAndFunction combines unit identifier and function code.
type unitAndFunction struct {
	// unitID is the Modbus unit identifier.
	unitID UnitID

	// functionCode is the Modbus function code.
	functionCode FunctionCode
}

// FunctionHandler is the handler function type to handle Modbus functions.
// The handler should return the response PDU on success. The function code of
// the response must match the request. On error, the returned error should
// normally be an ExceptionCode; handlers may also return an *ExceptionResponse
// directly. If the error is not an ExceptionCode, the server frontend responds
// with ExceptionServerDeviceFailure. If both response and error are nil, no
// response is sent.
//
// A Server may invoke multiple handlers concurrently. Therefore, handlers are
// responsible for protecting shared resources from concurrent access.
// Handlers should return once ctx is done: listeners answer timed out
// requests with ExceptionServerDeviceBusy, but wait for running handlers
// when closed.
type FunctionHandler func(
	ctx context.Context, request Message, srv *Server,
) (ResponsePDU, error)

// Server describes a Modbus server.
type Server struct {
	// mx protects direct access to the server fields.
	mx sync.RWMutex

	// functionHandlers maps unit ID and function code to their handler.
	functionHandlers map[unitAndFunction]FunctionHandler

	// fallbackFunctionHandler is used for unit-function-combinations not in
	// functionHandlers.
	fallbackFunctionHandler FunctionHandler
}

// defaultFunctionHandler is the initial fallback handler for Modbus functions
// used by servers returned by NewServer. It simply returns
// ExceptionIllegalFunction.
func defaultFunctionHandler(context.Context, Message, *Server) (ResponsePDU, error) {
	return nil, ExceptionIllegalFunction
}

// NewServer returns a new server.
// Initially, the response to all incoming requests would be
// ExceptionIllegalFunction.
func NewServer() *Server {
	return &Server{
		functionHandlers:        make(map[unitAndFunction]FunctionHandler),
		fallbackFunctionHandler: defaultFunctionHandler,
	}
}

// SetFallbackFunctionHandler sets the function handler to be called by this
// server for incoming requests without a specific function handler set by
// s.SetFunctionHandler. If the argument is nil, a default handler, which
// simply returns ExceptionIllegalFunction for all requests, will be used.
func (s *Server) SetFallbackFunctionHandler(h FunctionHandler) {
	if h == nil {
		h = defaultFunctionHandler
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.fallbackFunctionHandler = h
}

// SetFunctionHandler sets a function handler in this server for the specified
// unit and functions. If the given handler is nil, any existing handlers at
// the specified unit and functions will be deleted instead. Further requests
// matching the unit and functions will use the fallback handler instead.
//
// Only function codes supported by the PDU codec can be handled, since the
// server never passes undecoded requests to handlers.
func (s *Server) SetFunctionHandler(
	h FunctionHandler, unit UnitID, functions ...FunctionCode,
) error {
	key := unitAndFunction{
		unitID: unit,
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if h == nil {
		for _, key.functionCode = range functions {
			delete(s.functionHandlers, key)
		}
		return nil
	}
	// Check for collisions and illegal values first, and then add the new
	// handlers.
	for _, key.functionCode = range functions {
		if !key.functionCode.IsSupported() {
			return fmt.Errorf("function code %d not supported",
				key.functionCode)
		}
		if s.functionHandlers[key] != nil {
			return fmt.Errorf(
				"handler for unit %d and function code %d already present",
				key.unitID, key.functionCode)
		}
	}
	for _, key.functionCode = range functions {
		s.functionHandlers[key] = h
	}
	return nil
}

// Request performs a low-level request on this server by calling the handler
// registered for the unit and function of msg. Most callers want Serve, which
// also converts errors into exception responses.
func (s *Server) Request(ctx context.Context, msg Message) (ResponsePDU, error) {
	if msg == nil {
		panic("nil request message")
	}
	adu := msg.ADU()
	if adu == nil || adu.PDU == nil {
		panic("nil request ADU")
	}
	key := unitAndFunction{adu.UnitID, adu.PDU.Function()}
	s.mx.RLock()
	h := s.functionHandlers[key]
	if h == nil {
		h = s.fallbackFunctionHandler
	}
	s.mx.RUnlock()
	return h(ctx, msg, s)
}

// Serve dispatches msg like Request and returns the response to send back.
// Handler errors are turned into an *ExceptionResponse: an ExceptionCode
// error becomes that exception, any other error becomes
// ExceptionServerDeviceFailure and is returned alongside for logging. A
// response whose function code does not match the request is treated the
// same way. A nil response means no answer is to be sent.
func (s *Server) Serve(ctx context.Context, msg Message) (ResponsePDU, error) {
	fc := msg.ADU().PDU.Function()
	resp, err := s.Request(ctx, msg)
	if err != nil {
		if ec, ok := ExceptionOf(err); ok && ec.IsValid() {
			return exceptionResponse(fc, ec), nil
		}
		return exceptionResponse(fc, ExceptionServerDeviceFailure), err
	}
	if resp == nil {
		return nil, nil
	}
	if resp.Function().Base() != fc {
		return exceptionResponse(fc, ExceptionServerDeviceFailure),
			fmt.Errorf("handler returned %s response to %s request",
				resp.Function(), fc)
	}
	return resp, nil
}

// exceptionResponse returns the exception response for a request with
// function code fc.
func exceptionResponse(fc FunctionCode, exception ExceptionCode) *ExceptionResponse {
	return &ExceptionResponse{
		Code:      fc.AsError(),
		Exception: exception,
	}
}
