package modbus

const (
	// minPDULen is the minimum PDU length, in bytes.
	minPDULen = 1

	// maxPDULen is the maximum PDU length, in bytes.
	maxPDULen = 253
)

// Address describes the endpoint of a connection a message was received on.
type Address interface {
	// Protocol returns "mbap" for plain Modbus/TCP or "mbaps" for Modbus/TCP
	// Security.
	Protocol() string

	// String returns the address as protocol://host:port.
	String() string
}

// Message describes a Modbus request message (i. e., ADU and its provenance).
type Message interface {
	// From returns the low level address of the sender of this message.
	From() Address

	// To returns the low level address of the receiver of this message.
	To() Address

	// ADU returns the decoded application data unit. Its PDU is a RequestPDU.
	ADU() *ADU
}

// RequestOf returns the request PDU of msg.
func RequestOf(msg Message) RequestPDU {
	p, _ := msg.ADU().PDU.(RequestPDU)
	return p
}
