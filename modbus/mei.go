package modbus

// Read Device Identification access codes.
const (
	DeviceIDBasic      uint8 = 1
	DeviceIDRegular    uint8 = 2
	DeviceIDExtended   uint8 = 3
	DeviceIDIndividual uint8 = 4
)

// Standard device identification object IDs.
const (
	ObjectVendorName          uint8 = 0x00
	ObjectProductCode         uint8 = 0x01
	ObjectMajorMinorRevision  uint8 = 0x02
	ObjectVendorURL           uint8 = 0x03
	ObjectProductName         uint8 = 0x04
	ObjectModelName           uint8 = 0x05
	ObjectUserApplicationName uint8 = 0x06

	// ObjectExtendedMin is the first object ID of the extended category.
	ObjectExtendedMin uint8 = 0x80
)

// moreFollows is the MoreFollows value indicating a continuation.
const moreFollows = 0xFF

// DeviceIDRequest is the structured form of a Read Device Identification
// request.
type DeviceIDRequest struct {
	// Code is one of DeviceIDBasic, DeviceIDRegular, DeviceIDExtended, or
	// DeviceIDIndividual.
	Code uint8

	// ObjectID is the first object to return, or the single object for
	// DeviceIDIndividual.
	ObjectID uint8
}

// PDU returns the encapsulated request PDU for this request.
func (d *DeviceIDRequest) PDU() *EncapsulatedInterfaceRequest {
	return &EncapsulatedInterfaceRequest{
		MEIType: MEIReadDeviceIdentification,
		Data:    []byte{d.Code, d.ObjectID},
	}
}

// ParseDeviceIDRequest extracts a Read Device Identification request from
// an encapsulated interface request.
func ParseDeviceIDRequest(p *EncapsulatedInterfaceRequest) (*DeviceIDRequest, error) {
	const fc = FunctionEncapsulatedInterfaceTransport
	if p.MEIType != MEIReadDeviceIdentification {
		return nil, illegalValue(fc, "MEI type", "0x%02X is not device identification",
			p.MEIType)
	}
	if len(p.Data) != 2 {
		return nil, illegalValue(fc, "data", "%d bytes, want 2", len(p.Data))
	}
	d := &DeviceIDRequest{Code: p.Data[0], ObjectID: p.Data[1]}
	if d.Code < DeviceIDBasic || d.Code > DeviceIDIndividual {
		return nil, illegalValue(fc, "read device ID code", "%d not in [1,4]", d.Code)
	}
	return d, nil
}

// DeviceIDObject is a single device identification object.
type DeviceIDObject struct {
	// ID is the object ID, e. g., ObjectVendorName.
	ID uint8

	// Value is the object value. It must fit into a single response.
	Value string
}

// DeviceIDResponse is the structured form of a Read Device Identification
// response.
type DeviceIDResponse struct {
	// Code echoes the request access code.
	Code uint8

	// Conformity is the conformity level of the device.
	Conformity uint8

	// MoreFollows reports whether further objects have to be requested,
	// starting at NextObjectID.
	MoreFollows bool

	// NextObjectID is the next object to request if MoreFollows is set.
	NextObjectID uint8

	// Objects lists the returned objects.
	Objects []DeviceIDObject
}

// dataLen returns the length of the MEI data of this response.
func (d *DeviceIDResponse) dataLen() int {
	n := 5
	for _, obj := range d.Objects {
		n += 2 + len(obj.Value)
	}
	return n
}

// PDU returns the encapsulated response PDU for this response.
func (d *DeviceIDResponse) PDU() (*EncapsulatedInterfaceResponse, error) {
	const fc = FunctionEncapsulatedInterfaceTransport
	if len(d.Objects) > 0xFF {
		return nil, illegalValue(fc, "objects", "%d objects", len(d.Objects))
	}
	if n := d.dataLen(); n > maxMEIData {
		return nil, illegalValue(fc, "objects", "data length %d exceeds %d",
			n, maxMEIData)
	}
	data := make([]byte, 0, d.dataLen())
	var more uint8
	if d.MoreFollows {
		more = moreFollows
	}
	data = append(data, d.Code, d.Conformity, more, d.NextObjectID,
		uint8(len(d.Objects)))
	for _, obj := range d.Objects {
		if len(obj.Value) > 0xFF {
			return nil, illegalValue(fc, "object", "object 0x%02X too long", obj.ID)
		}
		data = append(data, obj.ID, uint8(len(obj.Value)))
		data = append(data, obj.Value...)
	}
	return &EncapsulatedInterfaceResponse{
		MEIType: MEIReadDeviceIdentification,
		Data:    data,
	}, nil
}

// ParseDeviceIDResponse extracts a Read Device Identification response from
// an encapsulated interface response.
func ParseDeviceIDResponse(p *EncapsulatedInterfaceResponse) (*DeviceIDResponse, error) {
	const fc = FunctionEncapsulatedInterfaceTransport
	if p.MEIType != MEIReadDeviceIdentification {
		return nil, illegalValue(fc, "MEI type", "0x%02X is not device identification",
			p.MEIType)
	}
	r := &reader{fc: fc, data: p.Data}
	d := &DeviceIDResponse{
		Code:       r.uint8("read device ID code"),
		Conformity: r.uint8("conformity level"),
	}
	switch more := r.uint8("more follows"); more {
	case 0:
	case moreFollows:
		d.MoreFollows = true
	default:
		r.fail(illegalValue(fc, "more follows", "invalid value 0x%02X", more))
	}
	d.NextObjectID = r.uint8("next object ID")
	n := int(r.uint8("number of objects"))
	for i := 0; i < n && r.err == nil; i++ {
		obj := DeviceIDObject{ID: r.uint8("object ID")}
		obj.Value = string(r.bytes("object value", int(r.uint8("object length"))))
		d.Objects = append(d.Objects, obj)
	}
	if r.err == nil && r.remaining() != 0 {
		r.fail(illegalValue(fc, "data", "%d trailing bytes", r.remaining()))
	}
	if r.err != nil {
		return nil, r.err
	}
	return d, nil
}
