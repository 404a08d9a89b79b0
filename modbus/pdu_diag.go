package modbus

// Serial line style diagnostic functions, which Modbus/TCP servers may
// implement as well: Read Exception Status, Diagnostics, Get Comm Event
// Counter, and Get Comm Event Log.

// Communication status words.
const (
	StatusReady uint16 = 0x0000
	StatusBusy  uint16 = 0xFFFF
)

// maxDiagnosticData is the maximum length of the data of a Diagnostics PDU.
const maxDiagnosticData = maxPayloadLen - 2

// checkStatus checks a communication status word.
func checkStatus(fc FunctionCode, status uint16) error {
	if status != StatusReady && status != StatusBusy {
		return illegalValue(fc, "status", "invalid status word 0x%04X", status)
	}
	return nil
}

// ReadExceptionStatusRequest is the request PDU of the Read Exception Status
// function. It has no fields.
type ReadExceptionStatusRequest struct{}

// Function implements PDU.
func (p *ReadExceptionStatusRequest) Function() FunctionCode {
	return FunctionReadExceptionStatus
}

// Len implements PDU.
func (p *ReadExceptionStatusRequest) Len() int { return 1 }

func (p *ReadExceptionStatusRequest) isRequest() {}

func (p *ReadExceptionStatusRequest) validate() error { return nil }

func (p *ReadExceptionStatusRequest) put(w *writer) {}

func decodeReadExceptionStatusRequest(r *reader) RequestPDU {
	return &ReadExceptionStatusRequest{}
}

// ReadExceptionStatusResponse is the response PDU of the Read Exception Status
// function.
type ReadExceptionStatusResponse struct {
	// Status holds eight device specific exception status bits.
	Status uint8
}

// Function implements PDU.
func (p *ReadExceptionStatusResponse) Function() FunctionCode {
	return FunctionReadExceptionStatus
}

// Len implements PDU.
func (p *ReadExceptionStatusResponse) Len() int { return 2 }

func (p *ReadExceptionStatusResponse) isResponse() {}

func (p *ReadExceptionStatusResponse) validate() error { return nil }

func (p *ReadExceptionStatusResponse) put(w *writer) {
	w.uint8(p.Status)
}

func decodeReadExceptionStatusResponse(r *reader) ResponsePDU {
	return &ReadExceptionStatusResponse{Status: r.uint8("status")}
}

// checkDiagnosticData checks the data length of a Diagnostics PDU. The data
// consists of 16-bit words.
func checkDiagnosticData(data []byte) error {
	const fc = FunctionDiagnostic
	if len(data)%2 != 0 {
		return illegalValue(fc, "data", "odd data length %d", len(data))
	}
	if len(data) > maxDiagnosticData {
		return illegalValue(fc, "data", "data length %d exceeds %d",
			len(data), maxDiagnosticData)
	}
	return nil
}

// DiagnosticRequest is the request PDU of the Diagnostics function.
type DiagnosticRequest struct {
	// SubFunction selects the diagnostic.
	SubFunction uint16

	// Data holds sub-function specific data.
	Data []byte
}

// Function implements PDU.
func (p *DiagnosticRequest) Function() FunctionCode { return FunctionDiagnostic }

// Len implements PDU.
func (p *DiagnosticRequest) Len() int { return 3 + len(p.Data) }

func (p *DiagnosticRequest) isRequest() {}

func (p *DiagnosticRequest) validate() error {
	return checkDiagnosticData(p.Data)
}

func (p *DiagnosticRequest) put(w *writer) {
	w.uint16(p.SubFunction)
	w.bytes(p.Data)
}

func decodeDiagnosticRequest(r *reader) RequestPDU {
	return &DiagnosticRequest{
		SubFunction: r.uint16("sub-function"),
		Data:        r.rest(),
	}
}

// DiagnosticResponse is the response PDU of the Diagnostics function.
type DiagnosticResponse struct {
	// SubFunction echoes the request sub-function.
	SubFunction uint16

	// Data holds sub-function specific data.
	Data []byte
}

// Function implements PDU.
func (p *DiagnosticResponse) Function() FunctionCode { return FunctionDiagnostic }

// Len implements PDU.
func (p *DiagnosticResponse) Len() int { return 3 + len(p.Data) }

func (p *DiagnosticResponse) isResponse() {}

func (p *DiagnosticResponse) validate() error {
	return checkDiagnosticData(p.Data)
}

func (p *DiagnosticResponse) put(w *writer) {
	w.uint16(p.SubFunction)
	w.bytes(p.Data)
}

func decodeDiagnosticResponse(r *reader) ResponsePDU {
	return &DiagnosticResponse{
		SubFunction: r.uint16("sub-function"),
		Data:        r.rest(),
	}
}

// GetComEventCounterRequest is the request PDU of the Get Comm Event Counter
// function. It has no fields.
type GetComEventCounterRequest struct{}

// Function implements PDU.
func (p *GetComEventCounterRequest) Function() FunctionCode {
	return FunctionGetComEventCounter
}

// Len implements PDU.
func (p *GetComEventCounterRequest) Len() int { return 1 }

func (p *GetComEventCounterRequest) isRequest() {}

func (p *GetComEventCounterRequest) validate() error { return nil }

func (p *GetComEventCounterRequest) put(w *writer) {}

func decodeGetComEventCounterRequest(r *reader) RequestPDU {
	return &GetComEventCounterRequest{}
}

// GetComEventCounterResponse is the response PDU of the Get Comm Event
// Counter function.
type GetComEventCounterResponse struct {
	// Status is StatusReady or StatusBusy.
	Status uint16

	// EventCount is the number of successfully completed requests.
	EventCount uint16
}

// Function implements PDU.
func (p *GetComEventCounterResponse) Function() FunctionCode {
	return FunctionGetComEventCounter
}

// Len implements PDU.
func (p *GetComEventCounterResponse) Len() int { return 5 }

func (p *GetComEventCounterResponse) isResponse() {}

func (p *GetComEventCounterResponse) validate() error {
	return checkStatus(FunctionGetComEventCounter, p.Status)
}

func (p *GetComEventCounterResponse) put(w *writer) {
	w.uint16(p.Status)
	w.uint16(p.EventCount)
}

func decodeGetComEventCounterResponse(r *reader) ResponsePDU {
	return &GetComEventCounterResponse{
		Status:     r.uint16("status"),
		EventCount: r.uint16("event count"),
	}
}

// GetComEventLogRequest is the request PDU of the Get Comm Event Log
// function. It has no fields.
type GetComEventLogRequest struct{}

// Function implements PDU.
func (p *GetComEventLogRequest) Function() FunctionCode {
	return FunctionGetComEventLog
}

// Len implements PDU.
func (p *GetComEventLogRequest) Len() int { return 1 }

func (p *GetComEventLogRequest) isRequest() {}

func (p *GetComEventLogRequest) validate() error { return nil }

func (p *GetComEventLogRequest) put(w *writer) {}

func decodeGetComEventLogRequest(r *reader) RequestPDU {
	return &GetComEventLogRequest{}
}

// GetComEventLogResponse is the response PDU of the Get Comm Event Log
// function.
type GetComEventLogResponse struct {
	// Status is StatusReady or StatusBusy.
	Status uint16

	// EventCount is the number of successfully completed requests.
	EventCount uint16

	// MessageCount is the number of messages processed.
	MessageCount uint16

	// Events holds up to 64 event bytes, most recent first.
	Events []byte
}

// Function implements PDU.
func (p *GetComEventLogResponse) Function() FunctionCode {
	return FunctionGetComEventLog
}

// Len implements PDU.
func (p *GetComEventLogResponse) Len() int { return 8 + len(p.Events) }

func (p *GetComEventLogResponse) isResponse() {}

func (p *GetComEventLogResponse) validate() error {
	const fc = FunctionGetComEventLog
	if err := checkStatus(fc, p.Status); err != nil {
		return err
	}
	if len(p.Events) > maxEventLogEvents {
		return illegalValue(fc, "events", "%d events exceed %d",
			len(p.Events), maxEventLogEvents)
	}
	return nil
}

func (p *GetComEventLogResponse) put(w *writer) {
	w.uint8(uint8(6 + len(p.Events)))
	w.uint16(p.Status)
	w.uint16(p.EventCount)
	w.uint16(p.MessageCount)
	w.bytes(p.Events)
}

func decodeGetComEventLogResponse(r *reader) ResponsePDU {
	p := &GetComEventLogResponse{}
	count := int(r.uint8("byte count"))
	if r.err != nil {
		return p
	}
	if count < 6 || count > 6+maxEventLogEvents {
		r.fail(illegalValue(r.fc, "byte count", "%d not in [6,%d]",
			count, 6+maxEventLogEvents))
		return p
	}
	p.Status = r.uint16("status")
	p.EventCount = r.uint16("event count")
	p.MessageCount = r.uint16("message count")
	p.Events = r.bytes("events", count-6)
	return p
}
