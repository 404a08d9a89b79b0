package modbus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"
)

// FileRange defines a file for the file record functions.
type FileRange struct {
	// Number is the file number. Must be positive.
	Number uint16

	// Records is the number of records in the file, at most
	// MaxRecordNumber+1. Records are numbered from zero.
	Records uint16
}

// Validate checks whether this file range is valid.
func (fr FileRange) Validate() error {
	if fr.Number == 0 {
		return errors.New("file number 0 is not addressable")
	}
	if fr.Records == 0 || fr.Records > MaxRecordNumber+1 {
		return fmt.Errorf("record count %d not in [1,%d]", fr.Records, MaxRecordNumber+1)
	}
	return nil
}

// fileBlock holds the records of a single file.
type fileBlock struct {
	// mx synchronises access to this file.
	mx sync.RWMutex

	// records holds the record values.
	records []uint16
}

// fifoQueue is a FIFO queue of register values.
type fifoQueue struct {
	// mx synchronises access to this queue.
	mx sync.Mutex

	// values holds the queued values, oldest first.
	values []uint16
}

// addFiles allocates the files of the data model.
func (d *Data) addFiles(files []FileRange) error {
	d.files = make(map[uint16]*fileBlock, len(files))
	for i, fr := range files {
		if err := fr.Validate(); err != nil {
			return fmt.Errorf("file range %d invalid: %w", i, err)
		}
		if d.files[fr.Number] != nil {
			return fmt.Errorf("duplicate file %d", fr.Number)
		}
		d.files[fr.Number] = &fileBlock{records: make([]uint16, fr.Records)}
	}
	return nil
}

// addFIFOs allocates the FIFO queues of the data model.
func (d *Data) addFIFOs(addrs []uint16) error {
	d.fifos = make(map[uint16]*fifoQueue, len(addrs))
	for _, addr := range addrs {
		if d.fifos[addr] != nil {
			return fmt.Errorf("duplicate FIFO at address %d", addr)
		}
		d.fifos[addr] = &fifoQueue{}
	}
	return nil
}

// fileLocker returns a locker which atomically locks the given files.
func fileLocker(files map[*fileBlock]struct{}, write bool) sync.Locker {
	lockers := make([]sync.Locker, 0, len(files))
	for f := range files {
		if write {
			lockers = append(lockers, &f.mx)
		} else {
			lockers = append(lockers, f.mx.RLocker())
		}
	}
	return multilocker.New(lockers...)
}

// fileRecords returns the file block holding n records starting at record in
// file.
func (d *Data) fileRecords(file, record uint16, n int) (*fileBlock, error) {
	f := d.files[file]
	if f == nil || int(record)+n > len(f.records) {
		return nil, ExceptionIllegalDataAddress
	}
	return f, nil
}

// ReadFileRecords implements FileStorage.
func (d *Data) ReadFileRecords(refs []FileRecordRef) ([][]uint16, error) {
	blocks := make([]*fileBlock, len(refs))
	set := make(map[*fileBlock]struct{})
	for i, ref := range refs {
		f, err := d.fileRecords(ref.File, ref.Record, int(ref.Length))
		if err != nil {
			return nil, err
		}
		blocks[i] = f
		set[f] = struct{}{}
	}
	ml := fileLocker(set, false)
	ml.Lock()
	defer ml.Unlock()
	result := make([][]uint16, len(refs))
	for i, ref := range refs {
		values := blocks[i].records[ref.Record : int(ref.Record)+int(ref.Length)]
		result[i] = append([]uint16(nil), values...)
	}
	return result, nil
}

// WriteFileRecords implements FileStorage.
func (d *Data) WriteFileRecords(records []FileRecord) error {
	blocks := make([]*fileBlock, len(records))
	set := make(map[*fileBlock]struct{})
	for i, rec := range records {
		f, err := d.fileRecords(rec.File, rec.Record, len(rec.Data))
		if err != nil {
			return err
		}
		blocks[i] = f
		set[f] = struct{}{}
	}
	ml := fileLocker(set, true)
	ml.Lock()
	defer ml.Unlock()
	for i, rec := range records {
		copy(blocks[i].records[rec.Record:], rec.Data)
	}
	return nil
}

// ReadFIFO implements FIFOStorage.
func (d *Data) ReadFIFO(addr uint16) ([]uint16, error) {
	q := d.fifos[addr]
	if q == nil {
		return nil, ExceptionIllegalDataAddress
	}
	q.mx.Lock()
	defer q.mx.Unlock()
	return append([]uint16(nil), q.values...), nil
}

// PushFIFO appends values to the FIFO queue at addr.
func (d *Data) PushFIFO(addr uint16, values ...uint16) error {
	q := d.fifos[addr]
	if q == nil {
		return fmt.Errorf("no FIFO at address %d", addr)
	}
	q.mx.Lock()
	defer q.mx.Unlock()
	q.values = append(q.values, values...)
	return nil
}

// PopFIFO removes and returns the oldest value of the FIFO queue at addr. The
// second return value is false if the queue is empty or does not exist.
func (d *Data) PopFIFO(addr uint16) (uint16, bool) {
	q := d.fifos[addr]
	if q == nil {
		return 0, false
	}
	q.mx.Lock()
	defer q.mx.Unlock()
	if len(q.values) == 0 {
		return 0, false
	}
	v := q.values[0]
	q.values = q.values[1:]
	return v, true
}
