package modbus

// Storage is the data backend used by Handler. Data items are exchanged in
// their wire representation: bits packed as by PackBits, registers as big
// endian words.
//
// Addresses without backing storage must be reported as
// ExceptionIllegalDataAddress. Implementations must be safe for concurrent
// use.
type Storage interface {
	// ReadData reads n data items of type dt starting at addr and appends them
	// to dst.
	ReadData(dst []byte, dt DataType, addr uint16, n int) ([]byte, error)

	// WriteData writes n data items of type dt starting at addr from src.
	WriteData(dt DataType, addr uint16, n int, src []byte) error

	// MaskRegister replaces the holding register at addr with
	// (value & and) | (or &^ and).
	MaskRegister(addr, and, or uint16) error

	// WriteReadRegisters atomically writes the holding registers in src
	// starting at writeAddr, then reads n holding registers starting at
	// readAddr, appending them to dst.
	WriteReadRegisters(
		dst []byte, writeAddr uint16, src []byte, readAddr uint16, n int,
	) ([]byte, error)
}

// FileStorage is implemented by storage backends supporting the file record
// functions. Multiple sub-requests are processed atomically.
type FileStorage interface {
	// ReadFileRecords returns the record values for each reference.
	ReadFileRecords(refs []FileRecordRef) ([][]uint16, error)

	// WriteFileRecords writes the given records.
	WriteFileRecords(records []FileRecord) error
}

// FIFOStorage is implemented by storage backends supporting Read FIFO Queue.
type FIFOStorage interface {
	// ReadFIFO returns the current contents of the FIFO queue at addr, oldest
	// value first.
	ReadFIFO(addr uint16) ([]uint16, error)
}
