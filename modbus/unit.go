package modbus

import "fmt"

// UnitID describes a Modbus unit identifier. On Modbus/TCP it addresses a
// device behind a gateway; a server answering for itself ignores it.
type UnitID uint8

// Unit identifier constants.
const (
	// UnitBroadcast is the broadcast address of serial lines behind a
	// gateway.
	UnitBroadcast UnitID = 0

	// UnitIndividualMin and UnitIndividualMax bound the addresses of
	// individual serial devices behind a gateway.
	UnitIndividualMin UnitID = 1
	UnitIndividualMax UnitID = 247

	// UnitTCP is the unit identifier of a Modbus/TCP server addressed
	// directly. Responses carry it unless configured otherwise.
	UnitTCP UnitID = 255
)

// String renders the unit identifier in hex, as in ADU diagnostics.
func (uid UnitID) String() string {
	return fmt.Sprintf("0x%02X", uint8(uid))
}
