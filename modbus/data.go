package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"
)

// DataType enumerates data types for the Modbus data model.
type DataType uint8

// Data types
const (
	DataTypeDiscreteInputs DataType = iota
	DataTypeCoils
	DataTypeInputRegisters
	DataTypeHoldingRegisters
	numDataTypes = 4
)

// IsReadOnly returns true if and only if this data type is read-only for the
// Modbus client (i. e., discrete inputs or input registers).
func (dt DataType) IsReadOnly() bool {
	return dt == DataTypeDiscreteInputs || dt == DataTypeInputRegisters
}

// dataTypeNames are the names of the data types.
var dataTypeNames = [numDataTypes]string{
	"Discrete Inputs",
	"Coils",
	"Input Registers",
	"Holding Registers",
}

// dataTypeKeys are the configuration names of the data types.
var dataTypeKeys = [numDataTypes]string{
	"discrete_inputs",
	"coils",
	"input_registers",
	"holding_registers",
}

// numBits is the number of addressed bits per address for the data types.
var numBits = [numDataTypes]int{1, 1, 16, 16}

// String renders this data type as a string.
func (dt DataType) String() string {
	if int(dt) < len(dataTypeNames) {
		return dataTypeNames[dt]
	}
	return fmt.Sprintf("unknown data type %d", dt)
}

// ParseDataType parses the configuration name of a data type, e. g.,
// "holding_registers".
func ParseDataType(name string) (DataType, error) {
	for i, n := range dataTypeKeys {
		if n == name {
			return DataType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown data type '%s'", name)
}

// NumBits returns the number of addressed bits per address for this data type.
// It panics if the data type is not known.
func (dt DataType) NumBits() int {
	return numBits[dt]
}

// DataModel describes a Modbus data model (see § 4.3 of the Modbus Application
// protocol specification).
type DataModel struct {
	// Ranges is the list of data ranges in the data model. Each range is
	// allocated its own block of memory which can be changed atomically.
	Ranges []DataRange

	// Aliases is a list of data aliases, which must alias memory defined in
	// Ranges.
	Aliases []DataAlias

	// Files lists the files available to the file record functions.
	Files []FileRange

	// FIFOs lists the FIFO pointer addresses available to Read FIFO Queue.
	FIFOs []uint16
}

// DataRange defines a continuous stretch of memory addresses in the Modbus
// data model.
type DataRange struct {
	// Type is the type of data for this range.
	Type DataType

	// StartAddress is the address of the first data element in the range
	// (indexed from zero).
	StartAddress uint16

	// Len is the length of the data range. Must be positive.
	Len uint16
}

// Validate checks whether this data range is valid.
func (dr DataRange) Validate() error {
	if dr.Type >= numDataTypes {
		return errors.New("unknown data type")
	}
	if dr.Len == 0 {
		return errors.New("zero length range")
	}
	end := dr.StartAddress + dr.Len
	if end > 0 && end < dr.StartAddress {
		return errors.New("length exceeds address space")
	}
	return nil
}

// DataAlias defines a continuous stretch of mirrored memory addresses in the
// Modbus data model.
type DataAlias struct {
	// Range is the data range defined by this alias.
	Range DataRange

	// Type is the data type of the original memory.
	Type DataType

	// StartAddress is the start address of the original memory.
	// StartAddress may point into the middle of an original data range, but
	// the length in Range must fit into the original range.
	StartAddress uint16

	// StartBit is the bit at StartAddress where to start the aliasing.
	// This field is used only if the defined range uses a bit type (discrete
	// inputs or coils) while the original memory uses a word type (input or
	// holding registers). Bits are counted in wire order: bits 0 to 7 are the
	// least to most significant bits of the high byte, bits 8 to 15 those of
	// the low byte.
	StartBit uint8
}

// Validate validates this data alias.
func (da *DataAlias) Validate() error {
	if err := da.Range.Validate(); err != nil {
		return fmt.Errorf("alias range: %w", err)
	}
	if da.Type >= numDataTypes {
		return fmt.Errorf("unknown original type %d", da.Type)
	}
	if da.Range.Type.NumBits()%8 != 0 && da.Type.NumBits()%8 == 0 {
		if da.StartBit >= 16 {
			return errors.New("start bit must be in [0,16)")
		}
	} else {
		if da.StartBit != 0 {
			return errors.New("cannot use StartBit in this context")
		}
	}
	return nil
}

// dataBlock describes a basic block of memory in the Modbus data model.
type dataBlock struct {
	// mx synchronises access to this data block.
	mx sync.RWMutex

	// data is the raw data of this data block.
	data []byte
}

// dataRef references data in a data block.
type dataRef struct {
	// block points to the referenced data block.
	block *dataBlock

	// blockOffset is the number of bits into block where startBit is located.
	blockOffset int

	// startBit is the start of the range of this reference.
	startBit int

	// numBits is the length of the referenced data in bits. Must fit in block,
	// i. e., blockOffset + numBits must be smaller than the length of
	// block in bits.
	numBits int
}

// Data represents Modbus data model data installed in a Modbus server.
type Data struct {
	// refs is the lists of data references according to the DataModel from
	// which this Data was created. There is one list for each data type.
	refs [numDataTypes][]dataRef

	// files maps file numbers to their records.
	files map[uint16]*fileBlock

	// fifos maps FIFO pointer addresses to their queues.
	fifos map[uint16]*fifoQueue
}

// NewData creates a new data backend specified by the given model.
func NewData(model DataModel) (*Data, error) {
	d := &Data{}
	if err := d.addRanges(model.Ranges); err != nil {
		return nil, err
	}
	if err := d.addAliases(model.Aliases); err != nil {
		return nil, err
	}
	for dt := DataType(0); dt != numDataTypes; dt++ {
		if err := d.checkOverlap(dt); err != nil {
			return nil, err
		}
	}
	if err := d.addFiles(model.Files); err != nil {
		return nil, err
	}
	if err := d.addFIFOs(model.FIFOs); err != nil {
		return nil, err
	}
	return d, nil
}

// sortRefs sorts the references of dt by start bit.
func (d *Data) sortRefs(dt DataType) {
	refs := d.refs[dt]
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].startBit < refs[j].startBit
	})
}

// addRanges allocates a dedicated block for each range. Afterwards, the
// references of each type are sorted.
func (d *Data) addRanges(ranges []DataRange) error {
	for i, dr := range ranges {
		if err := dr.Validate(); err != nil {
			return fmt.Errorf("data range %d invalid: %w", i, err)
		}
		bits := dr.Type.NumBits()
		ref := dataRef{
			startBit: bits * int(dr.StartAddress),
			numBits:  bits * int(dr.Len),
		}
		ref.block = &dataBlock{data: make([]byte, (ref.numBits+7)/8)}
		d.refs[dr.Type] = append(d.refs[dr.Type], ref)
	}
	for dt := DataType(0); dt != numDataTypes; dt++ {
		d.sortRefs(dt)
	}
	return nil
}

// addAliases adds references into existing blocks. It must be called after
// addRanges and before any other alias has been added, since aliases may
// only point into original ranges.
func (d *Data) addAliases(aliases []DataAlias) error {
	var originals [numDataTypes][]dataRef
	copy(originals[:], d.refs[:])
	for i, da := range aliases {
		if err := da.Validate(); err != nil {
			return fmt.Errorf("alias range %d invalid: %w", i, err)
		}
		// The original range is the last one starting at or before the
		// aliased address.
		origin := da.Type.NumBits() * int(da.StartAddress)
		refs := originals[da.Type]
		idx := sort.Search(len(refs), func(j int) bool {
			return refs[j].startBit > origin
		})
		if idx == 0 {
			return fmt.Errorf("alias range %d points before first data range", i)
		}
		target := refs[idx-1]
		bits := da.Range.Type.NumBits()
		alias := dataRef{
			block:       target.block,
			blockOffset: origin - target.startBit,
			startBit:    bits * int(da.Range.StartAddress),
			numBits:     bits * int(da.Range.Len),
		}
		if da.Type.NumBits()%8 == 0 && bits%8 != 0 {
			alias.blockOffset += int(da.StartBit)
		}
		if (alias.blockOffset+alias.numBits+7)/8 > len(target.block.data) {
			return fmt.Errorf("alias range %d overflows data range", i)
		}
		d.refs[da.Range.Type] = append(d.refs[da.Range.Type], alias)
	}
	return nil
}

// checkOverlap sorts the references of dt and makes sure no two of them
// cover the same address.
func (d *Data) checkOverlap(dt DataType) error {
	d.sortRefs(dt)
	end := 0
	for _, ref := range d.refs[dt] {
		if ref.startBit < end {
			return fmt.Errorf(
				"data range for %s starting at %d overlaps with previous range",
				dt, ref.startBit/dt.NumBits())
		}
		end = ref.startBit + ref.numBits
	}
	return nil
}

// getNeededRefs returns a list of needed references for the specified range
// in the specified data type.
func (d *Data) getNeededRefs(dt DataType, start, count int) ([]dataRef, error) {
	result := d.refs[dt]
	// strip start
	for {
		if len(result) == 0 {
			return nil, ExceptionIllegalDataAddress
		}
		if result[0].startBit+result[0].numBits > start {
			break
		}
		result = result[1:]
	}
	// strip end
	for {
		lastidx := len(result) - 1
		if result[lastidx].startBit < start+count {
			break
		}
		if lastidx == 0 {
			return nil, ExceptionIllegalDataAddress
		}
		result = result[:lastidx]
	}
	// Make sure the range is covered without gaps
	last := result[len(result)-1]
	if result[0].startBit > start || last.startBit+last.numBits < start+count {
		return nil, ExceptionIllegalDataAddress
	}
	for i := 0; i < len(result)-1; i++ {
		if result[i].startBit+result[i].numBits != result[i+1].startBit {
			return nil, ExceptionIllegalDataAddress
		}
	}
	return result, nil
}

// locker returns a locker atomically locking all blocks referenced by refs,
// for writing if write is set and for reading otherwise.
func locker(refs []dataRef, write bool) sync.Locker {
	seen := make(map[*dataBlock]bool, len(refs))
	lockers := make([]sync.Locker, 0, len(refs))
	for _, ref := range refs {
		if seen[ref.block] {
			continue
		}
		seen[ref.block] = true
		if write {
			lockers = append(lockers, &ref.block.mx)
		} else {
			lockers = append(lockers, ref.block.mx.RLocker())
		}
	}
	return multilocker.New(lockers...)
}

// copyOut appends count bits, starting at bit, from refs to dst. Bits are
// packed starting with the least significant bit of each byte.
func copyOut(dst []byte, refs []dataRef, bit, count int) []byte {
	spill := 0
	var current *byte
	for _, ref := range refs {
		for bit < ref.startBit+ref.numBits && count > 0 {
			if spill == 0 {
				dst = append(dst, 0)
				current = &dst[len(dst)-1]
				spill = 8
			}
			blockBit := ref.blockOffset - ref.startBit + bit
			blockByte, blockOffset := blockBit/8, blockBit%8
			*current |=
				((ref.block.data[blockByte] >> blockOffset) & 1) << (8 - spill)
			bit++
			count--
			spill--
		}
	}
	return dst
}

// copyIn copies count bits from src into refs, starting at bit.
func copyIn(refs []dataRef, bit, count int, src []byte) {
	srcBit := 0
	for _, ref := range refs {
		for bit < ref.startBit+ref.numBits && count > 0 {
			if srcBit == 8 {
				src = src[1:]
				srcBit = 0
			}
			blockBit := ref.blockOffset - ref.startBit + bit
			blockByte, blockOffset := blockBit/8, blockBit%8
			ref.block.data[blockByte] &^= 1 << blockOffset
			ref.block.data[blockByte] |= ((src[0] >> srcBit) & 1) << blockOffset
			bit++
			count--
			srcBit++
		}
	}
}

// ReadData implements Storage.
func (d *Data) ReadData(
	dst []byte, dt DataType, addr uint16, n int,
) ([]byte, error) {
	startBit := numBits[dt] * int(addr)
	count := numBits[dt] * n
	refs, err := d.getNeededRefs(dt, startBit, count)
	if err != nil {
		return nil, err
	}
	ml := locker(refs, false)
	ml.Lock()
	defer ml.Unlock()
	return copyOut(dst, refs, startBit, count), nil
}

// WriteData implements Storage.
func (d *Data) WriteData(dt DataType, addr uint16, n int, src []byte) error {
	startBit := numBits[dt] * int(addr)
	count := numBits[dt] * n
	if len(src) < (count+7)/8 {
		return fmt.Errorf("write %d %s: have %d bytes", n, dt, len(src))
	}
	refs, err := d.getNeededRefs(dt, startBit, count)
	if err != nil {
		return err
	}
	ml := locker(refs, true)
	ml.Lock()
	defer ml.Unlock()
	copyIn(refs, startBit, count, src)
	return nil
}

// MaskRegister implements Storage.
func (d *Data) MaskRegister(addr, and, or uint16) error {
	startBit := 16 * int(addr)
	refs, err := d.getNeededRefs(DataTypeHoldingRegisters, startBit, 16)
	if err != nil {
		return err
	}
	if len(refs) != 1 {
		// A register split across blocks can only come from an odd alias.
		return ExceptionIllegalDataAddress
	}
	ref := refs[0]
	ref.block.mx.Lock()
	defer ref.block.mx.Unlock()
	blockBit := ref.blockOffset - ref.startBit + startBit
	if blockBit%8 != 0 {
		return ExceptionIllegalDataAddress
	}
	data := ref.block.data[blockBit/8 : blockBit/8+2]
	word := binary.BigEndian.Uint16(data)
	word = (word & and) | (or &^ and)
	binary.BigEndian.PutUint16(data, word)
	return nil
}

// WriteReadRegisters implements Storage. The write and the read happen
// atomically with respect to other accesses.
func (d *Data) WriteReadRegisters(
	dst []byte, writeAddr uint16, src []byte, readAddr uint16, n int,
) ([]byte, error) {
	const dt = DataTypeHoldingRegisters
	writeStartBit := 16 * int(writeAddr)
	writeCount := 8 * len(src)
	readStartBit := 16 * int(readAddr)
	readCount := 16 * n
	writeRefs, err := d.getNeededRefs(dt, writeStartBit, writeCount)
	if err != nil {
		return nil, err
	}
	readRefs, err := d.getNeededRefs(dt, readStartBit, readCount)
	if err != nil {
		return nil, err
	}
	ml := locker(append(append([]dataRef(nil), writeRefs...), readRefs...), true)
	ml.Lock()
	defer ml.Unlock()
	copyIn(writeRefs, writeStartBit, writeCount, src)
	return copyOut(dst, readRefs, readStartBit, readCount), nil
}
