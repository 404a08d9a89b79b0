package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// dataFunctions is the list of function codes which affect the Modbus data
// model. Must be sorted in ascending order.
var dataFunctions = [...]FunctionCode{
	FunctionReadCoils,
	FunctionReadDiscreteInputs,
	FunctionReadHoldingRegisters,
	FunctionReadInputRegisters,
	FunctionWriteSingleCoil,
	FunctionWriteSingleRegister,
	FunctionWriteMultipleCoils,
	FunctionWriteMultipleRegisters,
	FunctionMaskWriteRegister,
	FunctionReadWriteMultipleRegisters,
}

// diagnosticFunctions is the list of diagnostic function codes served by every
// handler. Must be sorted in ascending order.
var diagnosticFunctions = [...]FunctionCode{
	FunctionReadExceptionStatus,
	FunctionDiagnostic,
	FunctionGetComEventCounter,
	FunctionGetComEventLog,
}

// Handler is an application handler serving the Modbus data model from a
// Storage backend. Besides the data functions, it serves the file record and
// FIFO functions if the backend implements FileStorage or FIFOStorage, the
// diagnostic functions, and Read Device Identification if an Identity is
// set.
type Handler struct {
	// storage is the data backend.
	storage Storage

	// identity is served by Read Device Identification. May be nil.
	identity *Identity

	// mx protects the fields below.
	mx sync.Mutex

	// exceptionStatus is returned by Read Exception Status.
	exceptionStatus uint8

	// counters holds the diagnostic counters.
	counters diagCounters

	// eventCount counts successfully completed requests.
	eventCount uint16

	// events is the communication event log, most recent first.
	events []byte
}

// NewHandler returns a handler serving the given storage. identity may be nil.
func NewHandler(storage Storage, identity *Identity) *Handler {
	return &Handler{
		storage:  storage,
		identity: identity,
	}
}

// Functions returns the function codes this handler serves, in ascending
// order.
func (h *Handler) Functions() []FunctionCode {
	result := append([]FunctionCode(nil), dataFunctions[:]...)
	result = append(result, diagnosticFunctions[:]...)
	if _, ok := h.storage.(FileStorage); ok {
		result = append(result, FunctionReadFileRecord, FunctionWriteFileRecord)
	}
	if _, ok := h.storage.(FIFOStorage); ok {
		result = append(result, FunctionReadFIFOQueue)
	}
	if h.identity != nil {
		result = append(result, FunctionEncapsulatedInterfaceTransport)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i] < result[j]
	})
	return result
}

// AddToServer adds this handler to the specified server for the given
// unit. Normally, the handler will be added for all functions it serves.
// Optionally, if it is desired to add the handler only for a restricted set
// of function codes (e. g. because the server already uses other handlers
// for some function codes), these can be given as arguments.
// It is permissible to add a single handler to multiple servers.
func (h *Handler) AddToServer(
	srv *Server, unit UnitID, functions ...FunctionCode,
) error {
	all := h.Functions()
	if len(functions) == 0 {
		functions = all
	} else {
		functions = append([]FunctionCode(nil), functions...)
		sort.Slice(functions, func(i, j int) bool {
			return functions[i] < functions[j]
		})
		for i := 1; i < len(functions); i++ {
			if functions[i-1] == functions[i] {
				return fmt.Errorf("duplicate function code %d", functions[i])
			}
		}
		for _, f := range functions {
			idx := sort.Search(len(all), func(i int) bool {
				return f <= all[i]
			})
			if idx == len(all) || f != all[idx] {
				return fmt.Errorf("function code %d not served by handler", f)
			}
		}
	}
	if srv == nil {
		return errors.New("nil server")
	}
	return srv.SetFunctionHandler(h.FunctionHandler, unit, functions...)
}

// FunctionHandler is the Modbus function handler for this handler's storage.
func (h *Handler) FunctionHandler(
	ctx context.Context, request Message, srv *Server,
) (ResponsePDU, error) {
	req := RequestOf(request)
	if req == nil {
		return nil, ExceptionServerDeviceFailure
	}
	resp, err := h.handle(ctx, req)
	h.record(req.Function(), err)
	return resp, err
}

// handle serves a single request.
func (h *Handler) handle(ctx context.Context, req RequestPDU) (ResponsePDU, error) {
	switch p := req.(type) {
	case *ReadCoilsRequest:
		status, err := h.readBits(DataTypeCoils, p.Address, p.Quantity)
		if err != nil {
			return nil, err
		}
		return &ReadCoilsResponse{Status: status}, nil
	case *ReadDiscreteInputsRequest:
		status, err := h.readBits(DataTypeDiscreteInputs, p.Address, p.Quantity)
		if err != nil {
			return nil, err
		}
		return &ReadDiscreteInputsResponse{Status: status}, nil
	case *ReadHoldingRegistersRequest:
		values, err := h.readWords(DataTypeHoldingRegisters, p.Address, p.Quantity)
		if err != nil {
			return nil, err
		}
		return &ReadHoldingRegistersResponse{Values: values}, nil
	case *ReadInputRegistersRequest:
		values, err := h.readWords(DataTypeInputRegisters, p.Address, p.Quantity)
		if err != nil {
			return nil, err
		}
		return &ReadInputRegistersResponse{Values: values}, nil
	case *WriteSingleCoilRequest:
		src := []byte{0}
		if p.Value {
			src[0] = 1
		}
		if err := h.storage.WriteData(DataTypeCoils, p.Address, 1, src); err != nil {
			return nil, err
		}
		return &WriteSingleCoilResponse{Address: p.Address, Value: p.Value}, nil
	case *WriteSingleRegisterRequest:
		src := WordsToBytes([]uint16{p.Value})
		if err := h.storage.WriteData(
			DataTypeHoldingRegisters, p.Address, 1, src,
		); err != nil {
			return nil, err
		}
		return &WriteSingleRegisterResponse{Address: p.Address, Value: p.Value}, nil
	case *WriteMultipleCoilsRequest:
		if err := h.storage.WriteData(
			DataTypeCoils, p.Address, int(p.Quantity), p.Values,
		); err != nil {
			return nil, err
		}
		return &WriteMultipleCoilsResponse{
			Address:  p.Address,
			Quantity: p.Quantity,
		}, nil
	case *WriteMultipleRegistersRequest:
		if err := h.storage.WriteData(
			DataTypeHoldingRegisters, p.Address, len(p.Values),
			WordsToBytes(p.Values),
		); err != nil {
			return nil, err
		}
		return &WriteMultipleRegistersResponse{
			Address:  p.Address,
			Quantity: uint16(len(p.Values)),
		}, nil
	case *MaskWriteRegisterRequest:
		if err := h.storage.MaskRegister(p.Address, p.AndMask, p.OrMask); err != nil {
			return nil, err
		}
		return &MaskWriteRegisterResponse{
			Address: p.Address,
			AndMask: p.AndMask,
			OrMask:  p.OrMask,
		}, nil
	case *ReadWriteMultipleRegistersRequest:
		n := int(p.ReadQuantity)
		data, err := h.storage.WriteReadRegisters(make([]byte, 0, 2*n),
			p.WriteAddress, WordsToBytes(p.Values), p.ReadAddress, n)
		if err != nil {
			return nil, err
		}
		return &ReadWriteMultipleRegistersResponse{Values: BytesToWords(data)}, nil
	case *ReadFIFOQueueRequest:
		return h.readFIFO(p)
	case *ReadFileRecordRequest:
		return h.readFileRecord(p)
	case *WriteFileRecordRequest:
		return h.writeFileRecord(p)
	case *ReadExceptionStatusRequest:
		h.mx.Lock()
		defer h.mx.Unlock()
		return &ReadExceptionStatusResponse{Status: h.exceptionStatus}, nil
	case *DiagnosticRequest:
		return h.diagnostic(p)
	case *GetComEventCounterRequest:
		h.mx.Lock()
		defer h.mx.Unlock()
		return &GetComEventCounterResponse{
			Status:     StatusReady,
			EventCount: h.eventCount,
		}, nil
	case *GetComEventLogRequest:
		h.mx.Lock()
		defer h.mx.Unlock()
		return &GetComEventLogResponse{
			Status:       StatusReady,
			EventCount:   h.eventCount,
			MessageCount: h.counters.busMessages,
			Events:       append([]byte(nil), h.events...),
		}, nil
	case *EncapsulatedInterfaceRequest:
		return h.encapsulatedInterface(p)
	default:
		return nil, ExceptionIllegalFunction
	}
}

// readBits reads n bits of type dt from storage.
func (h *Handler) readBits(dt DataType, addr, n uint16) ([]byte, error) {
	return h.storage.ReadData(make([]byte, 0, bitBytes(int(n))), dt, addr, int(n))
}

// readWords reads n registers of type dt from storage.
func (h *Handler) readWords(dt DataType, addr, n uint16) ([]uint16, error) {
	data, err := h.storage.ReadData(make([]byte, 0, 2*int(n)), dt, addr, int(n))
	if err != nil {
		return nil, err
	}
	return BytesToWords(data), nil
}

func (h *Handler) readFIFO(p *ReadFIFOQueueRequest) (ResponsePDU, error) {
	fs, ok := h.storage.(FIFOStorage)
	if !ok {
		return nil, ExceptionIllegalFunction
	}
	values, err := fs.ReadFIFO(p.Address)
	if err != nil {
		return nil, err
	}
	if len(values) > maxFIFOCount {
		return nil, ExceptionIllegalDataValue
	}
	return &ReadFIFOQueueResponse{Values: values}, nil
}

func (h *Handler) readFileRecord(p *ReadFileRecordRequest) (ResponsePDU, error) {
	fs, ok := h.storage.(FileStorage)
	if !ok {
		return nil, ExceptionIllegalFunction
	}
	data, err := fs.ReadFileRecords(p.Records)
	if err != nil {
		return nil, err
	}
	resp := &ReadFileRecordResponse{Records: make([]FileRecordData, len(data))}
	for i, values := range data {
		resp.Records[i] = FileRecordData{RefType: FileReferenceType, Data: values}
	}
	return resp, nil
}

func (h *Handler) writeFileRecord(p *WriteFileRecordRequest) (ResponsePDU, error) {
	fs, ok := h.storage.(FileStorage)
	if !ok {
		return nil, ExceptionIllegalFunction
	}
	if err := fs.WriteFileRecords(p.Records); err != nil {
		return nil, err
	}
	return &WriteFileRecordResponse{Records: p.Records}, nil
}

// SetExceptionStatus sets the status returned by Read Exception Status.
func (h *Handler) SetExceptionStatus(status uint8) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.exceptionStatus = status
}

// WordsToBytes converts register values to their big endian wire form.
func WordsToBytes(values []uint16) []byte {
	result := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(result[2*i:], v)
	}
	return result
}

// BytesToWords converts big endian register data to register values. A
// trailing odd byte is ignored.
func BytesToWords(data []byte) []uint16 {
	result := make([]uint16, len(data)/2)
	for i := range result {
		result[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return result
}
