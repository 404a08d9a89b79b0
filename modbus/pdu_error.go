package modbus

// ExceptionResponse is the error response PDU: the function code of the
// failed request with FunctionError set, followed by an exception code.
type ExceptionResponse struct {
	// Code is the function code with FunctionError set.
	Code FunctionCode

	// Exception is the reason for the failure.
	Exception ExceptionCode
}

// NewExceptionResponse returns the exception response for a request with the
// given base function code. The base function code must not have FunctionError
// set and must be supported by the codec. The exception code must be valid.
// Use FormatError to reject requests with other function codes.
func NewExceptionResponse(
	fc FunctionCode, exception ExceptionCode,
) (*ExceptionResponse, error) {
	if fc.IsError() {
		return nil, illegalValue(fc, "function", "already an error function code")
	}
	result := &ExceptionResponse{
		Code:      fc.AsError(),
		Exception: exception,
	}
	if err := result.validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// Function implements PDU.
func (p *ExceptionResponse) Function() FunctionCode { return p.Code }

// Len implements PDU.
func (p *ExceptionResponse) Len() int { return 2 }

func (p *ExceptionResponse) isResponse() {}

// Error implements error, so exception responses received by a client can be
// returned as errors.
func (p *ExceptionResponse) Error() string {
	return p.Code.Base().String() + ": " + p.Exception.Error()
}

// Unwrap returns the exception code.
func (p *ExceptionResponse) Unwrap() error {
	return p.Exception
}

func (p *ExceptionResponse) validate() error {
	if !p.Code.IsError() {
		return illegalValue(p.Code, "function", "error bit not set")
	}
	if !p.Code.Base().IsSupported() {
		return illegalValue(p.Code, "function", "unsupported base function code")
	}
	if !p.Exception.IsValid() {
		return illegalValue(p.Code, "exception",
			"undefined exception code 0x%02X", uint8(p.Exception))
	}
	return nil
}

func (p *ExceptionResponse) put(w *writer) {
	w.uint8(uint8(p.Exception))
}

// EncodeError writes the error response PDU consisting of fc, which must have
// FunctionError set, and exception into dst. It returns the number of bytes
// written.
func EncodeError(dst []byte, fc FunctionCode, exception ExceptionCode) (int, error) {
	return encode(dst, &ExceptionResponse{Code: fc, Exception: exception})
}

// DecodeError decodes an error response PDU from data. It returns the decoded
// response and the number of bytes consumed.
func DecodeError(data []byte) (*ExceptionResponse, int, error) {
	if len(data) < minPDULen {
		return nil, 0, illegalValue(0, "function", "empty PDU")
	}
	r := &reader{fc: FunctionCode(data[0]), data: data[1:]}
	p := &ExceptionResponse{
		Code:      r.fc,
		Exception: ExceptionCode(r.uint8("exception")),
	}
	if r.err != nil {
		return nil, 0, r.err
	}
	if err := p.validate(); err != nil {
		return nil, 0, err
	}
	return p, 1 + r.off, nil
}
