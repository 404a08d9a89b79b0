package modbus

import (
	"errors"
	"sort"
)

// Diagnostics sub-function codes.
const (
	DiagReturnQueryData             uint16 = 0x0000
	DiagRestartCommunications       uint16 = 0x0001
	DiagReturnDiagnosticRegister    uint16 = 0x0002
	DiagClearCounters               uint16 = 0x000A
	DiagReturnBusMessageCount       uint16 = 0x000B
	DiagReturnBusCommErrorCount     uint16 = 0x000C
	DiagReturnBusExceptionCount     uint16 = 0x000D
	DiagReturnServerMessageCount    uint16 = 0x000E
	DiagReturnServerNoResponseCount uint16 = 0x000F
	DiagReturnServerNAKCount        uint16 = 0x0010
	DiagReturnServerBusyCount       uint16 = 0x0011
	DiagReturnBusOverrunCount       uint16 = 0x0012
	DiagClearOverrunCounter         uint16 = 0x0014
)

// Communication event log entries.
const (
	eventReceive         byte = 0x80
	eventSend            byte = 0x40
	eventSendReadEx      byte = 0x01
	eventSendAbortEx     byte = 0x02
	eventSendBusyEx      byte = 0x04
	eventCommRestart     byte = 0x00
	restartClearEventLog      = 0xFF00
)

// diagCounters holds the diagnostic counters. Counters wrap around at
// 0xFFFF.
type diagCounters struct {
	busMessages    uint16
	busCommErrors  uint16
	busExceptions  uint16
	serverMessages uint16
	noResponse     uint16
	serverNAK      uint16 // no negative acknowledge is ever sent
	serverBusy     uint16
	busOverrun     uint16
}

// get returns the counter for the given diagnostics sub-function.
func (c *diagCounters) get(sub uint16) uint16 {
	switch sub {
	case DiagReturnBusMessageCount:
		return c.busMessages
	case DiagReturnBusCommErrorCount:
		return c.busCommErrors
	case DiagReturnBusExceptionCount:
		return c.busExceptions
	case DiagReturnServerMessageCount:
		return c.serverMessages
	case DiagReturnServerNoResponseCount:
		return c.noResponse
	case DiagReturnServerNAKCount:
		return c.serverNAK
	case DiagReturnServerBusyCount:
		return c.serverBusy
	default:
		return c.busOverrun
	}
}

// record updates counters and event log after a request with function code
// fc completed with err.
func (h *Handler) record(fc FunctionCode, err error) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.counters.busMessages++
	h.counters.serverMessages++
	h.logEvent(eventReceive)
	if err == nil {
		if fc != FunctionGetComEventCounter && fc != FunctionGetComEventLog {
			h.eventCount++
		}
		h.logEvent(eventSend)
		return
	}
	h.counters.busExceptions++
	ec, _ := ExceptionOf(err)
	switch ec {
	case ExceptionIllegalFunction, ExceptionIllegalDataAddress,
		ExceptionIllegalDataValue:
		h.logEvent(eventSend | eventSendReadEx)
	case ExceptionServerDeviceBusy:
		h.counters.serverBusy++
		h.logEvent(eventSend | eventSendBusyEx)
	case ExceptionAcknowledge:
		h.logEvent(eventSend | eventSendBusyEx)
	default:
		h.logEvent(eventSend | eventSendAbortEx)
	}
}

// logEvent prepends an event to the event log. Must be called with h.mx held.
func (h *Handler) logEvent(event byte) {
	if len(h.events) < maxEventLogEvents {
		h.events = append(h.events, 0)
	}
	copy(h.events[1:], h.events)
	h.events[0] = event
}

// diagnostic serves the Diagnostics function.
func (h *Handler) diagnostic(p *DiagnosticRequest) (ResponsePDU, error) {
	echo := &DiagnosticResponse{SubFunction: p.SubFunction, Data: p.Data}
	h.mx.Lock()
	defer h.mx.Unlock()
	switch sub := p.SubFunction; {
	case sub == DiagReturnQueryData:
		return echo, nil
	case sub == DiagRestartCommunications:
		v, err := diagWord(p.Data)
		if err != nil {
			return nil, err
		}
		if v != 0 && v != restartClearEventLog {
			return nil, ExceptionIllegalDataValue
		}
		h.counters = diagCounters{}
		if v == restartClearEventLog {
			h.events = h.events[:0]
		}
		h.logEvent(eventCommRestart)
		return echo, nil
	case sub == DiagReturnDiagnosticRegister:
		if err := diagZero(p.Data); err != nil {
			return nil, err
		}
		return &DiagnosticResponse{SubFunction: sub, Data: []byte{0, 0}}, nil
	case sub == DiagClearCounters:
		if err := diagZero(p.Data); err != nil {
			return nil, err
		}
		h.counters = diagCounters{}
		return echo, nil
	case sub >= DiagReturnBusMessageCount && sub <= DiagReturnBusOverrunCount:
		if err := diagZero(p.Data); err != nil {
			return nil, err
		}
		v := h.counters.get(sub)
		return &DiagnosticResponse{
			SubFunction: sub,
			Data:        []byte{byte(v >> 8), byte(v)},
		}, nil
	case sub == DiagClearOverrunCounter:
		if err := diagZero(p.Data); err != nil {
			return nil, err
		}
		h.counters.busOverrun = 0
		return echo, nil
	default:
		return nil, ExceptionIllegalFunction
	}
}

// diagWord returns the single data word of a diagnostics request.
func diagWord(data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, ExceptionIllegalDataValue
	}
	return uint16(data[0])<<8 | uint16(data[1]), nil
}

// diagZero checks that the diagnostics request data is the single word 0.
func diagZero(data []byte) error {
	v, err := diagWord(data)
	if err != nil {
		return err
	}
	if v != 0 {
		return ExceptionIllegalDataValue
	}
	return nil
}

// Identity holds the device identification objects. The basic objects are
// mandatory.
type Identity struct {
	VendorName          string
	ProductCode         string
	MajorMinorRevision  string
	VendorURL           string
	ProductName         string
	ModelName           string
	UserApplicationName string

	// Extended holds private objects with IDs from ObjectExtendedMin.
	Extended map[uint8]string
}

// maxObjectLen is the maximum length of an object value which fits into a
// single response.
const maxObjectLen = maxMEIData - 5 - 2

// Validate checks whether this identity can be served.
func (id *Identity) Validate() error {
	if id.VendorName == "" || id.ProductCode == "" ||
		id.MajorMinorRevision == "" {
		return errors.New("basic device identification objects missing")
	}
	for objID := range id.Extended {
		if objID < ObjectExtendedMin {
			return errors.New("extended object ID below extended range")
		}
	}
	return nil
}

// objects returns all non-empty objects in ascending ID order, with values
// truncated to fit into a response.
func (id *Identity) objects() []DeviceIDObject {
	regular := [...]string{
		id.VendorName, id.ProductCode, id.MajorMinorRevision,
		id.VendorURL, id.ProductName, id.ModelName, id.UserApplicationName,
	}
	var result []DeviceIDObject
	for i, value := range regular {
		if value != "" || i <= int(ObjectMajorMinorRevision) {
			result = append(result, DeviceIDObject{ID: uint8(i), Value: value})
		}
	}
	ext := make([]DeviceIDObject, 0, len(id.Extended))
	for objID, value := range id.Extended {
		if objID >= ObjectExtendedMin {
			ext = append(ext, DeviceIDObject{ID: objID, Value: value})
		}
	}
	sort.Slice(ext, func(i, j int) bool {
		return ext[i].ID < ext[j].ID
	})
	result = append(result, ext...)
	for i := range result {
		if len(result[i].Value) > maxObjectLen {
			result[i].Value = result[i].Value[:maxObjectLen]
		}
	}
	return result
}

// conformity returns the conformity level of this identity. Individual
// access is always supported.
func (id *Identity) conformity(objects []DeviceIDObject) uint8 {
	level := DeviceIDBasic
	for _, obj := range objects {
		switch {
		case obj.ID >= ObjectExtendedMin:
			level = DeviceIDExtended
		case obj.ID > ObjectMajorMinorRevision && level < DeviceIDRegular:
			level = DeviceIDRegular
		}
	}
	return 0x80 | level
}

// categoryLimit returns the highest object ID streamed for the given read
// device ID code.
func categoryLimit(code uint8) uint8 {
	switch code {
	case DeviceIDBasic:
		return ObjectMajorMinorRevision
	case DeviceIDRegular:
		return ObjectExtendedMin - 1
	default:
		return 0xFF
	}
}

// encapsulatedInterface serves the Encapsulated Interface Transport function.
func (h *Handler) encapsulatedInterface(
	p *EncapsulatedInterfaceRequest,
) (ResponsePDU, error) {
	if h.identity == nil || p.MEIType != MEIReadDeviceIdentification {
		return nil, ExceptionIllegalFunction
	}
	req, err := ParseDeviceIDRequest(p)
	if err != nil {
		return nil, err
	}
	resp, err := h.identity.read(req)
	if err != nil {
		return nil, err
	}
	return resp.PDU()
}

// read answers a Read Device Identification request.
func (id *Identity) read(req *DeviceIDRequest) (*DeviceIDResponse, error) {
	objects := id.objects()
	resp := &DeviceIDResponse{
		Code:       req.Code,
		Conformity: id.conformity(objects),
	}
	if req.Code == DeviceIDIndividual {
		for _, obj := range objects {
			if obj.ID == req.ObjectID {
				resp.Objects = []DeviceIDObject{obj}
				return resp, nil
			}
		}
		return nil, ExceptionIllegalDataAddress
	}
	limit := categoryLimit(req.Code)
	start := -1
	for i, obj := range objects {
		if obj.ID == req.ObjectID && obj.ID <= limit {
			start = i
			break
		}
	}
	// An unknown starting object restarts the stream at the first object.
	if start < 0 {
		start = 0
	}
	size := 5
	for _, obj := range objects[start:] {
		if obj.ID > limit {
			break
		}
		if size+2+len(obj.Value) > maxMEIData {
			resp.MoreFollows = true
			resp.NextObjectID = obj.ID
			break
		}
		size += 2 + len(obj.Value)
		resp.Objects = append(resp.Objects, obj)
	}
	return resp, nil
}
