package modbus

// MEI types of the Encapsulated Interface Transport function.
const (
	MEICANopenGeneralReference  uint8 = 0x0D
	MEIReadDeviceIdentification uint8 = 0x0E
)

// maxMEIData is the maximum length of the data following the MEI type.
const maxMEIData = maxPayloadLen - 1

// checkMEI validates the MEI type and data length.
func checkMEI(meiType uint8, data []byte) error {
	const fc = FunctionEncapsulatedInterfaceTransport
	if meiType != MEICANopenGeneralReference &&
		meiType != MEIReadDeviceIdentification {
		return illegalValue(fc, "MEI type", "unknown MEI type 0x%02X", meiType)
	}
	if len(data) > maxMEIData {
		return illegalValue(fc, "data", "data length %d exceeds %d",
			len(data), maxMEIData)
	}
	return nil
}

// EncapsulatedInterfaceRequest is the request PDU of the Encapsulated
// Interface Transport function.
type EncapsulatedInterfaceRequest struct {
	// MEIType selects the encapsulated interface.
	MEIType uint8

	// Data holds the MEI type specific data.
	Data []byte
}

// Function implements PDU.
func (p *EncapsulatedInterfaceRequest) Function() FunctionCode {
	return FunctionEncapsulatedInterfaceTransport
}

// Len implements PDU.
func (p *EncapsulatedInterfaceRequest) Len() int { return 2 + len(p.Data) }

func (p *EncapsulatedInterfaceRequest) isRequest() {}

func (p *EncapsulatedInterfaceRequest) validate() error {
	return checkMEI(p.MEIType, p.Data)
}

func (p *EncapsulatedInterfaceRequest) put(w *writer) {
	w.uint8(p.MEIType)
	w.bytes(p.Data)
}

func decodeEncapsulatedInterfaceRequest(r *reader) RequestPDU {
	return &EncapsulatedInterfaceRequest{
		MEIType: r.uint8("MEI type"),
		Data:    r.rest(),
	}
}

// EncapsulatedInterfaceResponse is the response PDU of the Encapsulated
// Interface Transport function.
type EncapsulatedInterfaceResponse struct {
	// MEIType echoes the request MEI type.
	MEIType uint8

	// Data holds the MEI type specific data.
	Data []byte
}

// Function implements PDU.
func (p *EncapsulatedInterfaceResponse) Function() FunctionCode {
	return FunctionEncapsulatedInterfaceTransport
}

// Len implements PDU.
func (p *EncapsulatedInterfaceResponse) Len() int { return 2 + len(p.Data) }

func (p *EncapsulatedInterfaceResponse) isResponse() {}

func (p *EncapsulatedInterfaceResponse) validate() error {
	return checkMEI(p.MEIType, p.Data)
}

func (p *EncapsulatedInterfaceResponse) put(w *writer) {
	w.uint8(p.MEIType)
	w.bytes(p.Data)
}

func decodeEncapsulatedInterfaceResponse(r *reader) ResponsePDU {
	return &EncapsulatedInterfaceResponse{
		MEIType: r.uint8("MEI type"),
		Data:    r.rest(),
	}
}
