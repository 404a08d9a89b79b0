package sqlstore

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/TheCount/go-modbus-tcp/modbus"
)

var testModel = modbus.DataModel{
	Ranges: []modbus.DataRange{
		{Type: modbus.DataTypeCoils, StartAddress: 0, Len: 16},
		{Type: modbus.DataTypeHoldingRegisters, StartAddress: 100, Len: 8},
	},
	Files: []modbus.FileRange{{Number: 4, Records: 10}},
	FIFOs: []uint16{0x04DE},
}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, testModel)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreData(t *testing.T) {
	s := openTestStore(t, ":memory:")
	const hr = modbus.DataTypeHoldingRegisters

	if err := s.WriteData(hr, 101, 2, modbus.WordsToBytes([]uint16{0x1234, 0xABCD})); err != nil {
		t.Fatalf("write registers: %v", err)
	}
	got, err := s.ReadData(nil, hr, 100, 4)
	if err != nil {
		t.Fatalf("read registers: %v", err)
	}
	if want := []uint16{0, 0x1234, 0xABCD, 0}; !reflect.DeepEqual(modbus.BytesToWords(got), want) {
		t.Fatalf("registers %04X, want %04X", modbus.BytesToWords(got), want)
	}
	if _, err := s.ReadData(nil, hr, 106, 3); !errors.Is(err, modbus.ExceptionIllegalDataAddress) {
		t.Fatalf("read past range: %v", err)
	}
	if err := s.WriteData(hr, 107, 2, make([]byte, 4)); !errors.Is(err, modbus.ExceptionIllegalDataAddress) {
		t.Fatalf("write past range: %v", err)
	}
	// The failed write must not have touched register 107.
	if got, _ := s.ReadData(nil, hr, 107, 1); !reflect.DeepEqual(got, []byte{0, 0}) {
		t.Fatalf("partial write committed: % X", got)
	}

	if err := s.WriteData(modbus.DataTypeCoils, 3, 10, []byte{0xCD, 0x01}); err != nil {
		t.Fatalf("write coils: %v", err)
	}
	got, err = s.ReadData(nil, modbus.DataTypeCoils, 0, 16)
	if err != nil {
		t.Fatalf("read coils: %v", err)
	}
	if want := []byte{0x68, 0x0E}; !reflect.DeepEqual(got, want) {
		t.Fatalf("coils % X, want % X", got, want)
	}

	if err := s.MaskRegister(100, 0xF2, 0x25); err != nil {
		t.Fatalf("mask: %v", err)
	}
	if err := s.WriteData(hr, 102, 1, []byte{0x00, 0x12}); err != nil {
		t.Fatal(err)
	}
	if err := s.MaskRegister(102, 0xF2, 0x25); err != nil {
		t.Fatalf("mask: %v", err)
	}
	if got, _ := s.ReadData(nil, hr, 102, 1); !reflect.DeepEqual(got, []byte{0x00, 0x17}) {
		t.Fatalf("masked register % X, want 00 17", got)
	}

	got, err = s.WriteReadRegisters(nil, 104, modbus.WordsToBytes([]uint16{7, 8}), 103, 3)
	if err != nil {
		t.Fatalf("write/read: %v", err)
	}
	if want := []uint16{0, 7, 8}; !reflect.DeepEqual(modbus.BytesToWords(got), want) {
		t.Fatalf("write/read %04X, want %04X", modbus.BytesToWords(got), want)
	}
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	s, err := Open(path, testModel)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.WriteData(modbus.DataTypeHoldingRegisters, 100, 1, []byte{0x02, 0x2B}); err != nil {
		t.Fatal(err)
	}
	if err := s.PushFIFO(0x04DE, 9); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, path)
	got, err := s.ReadData(nil, modbus.DataTypeHoldingRegisters, 100, 1)
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if !reflect.DeepEqual(got, []byte{0x02, 0x2B}) {
		t.Fatalf("register after reopen % X", got)
	}
	values, err := s.ReadFIFO(0x04DE)
	if err != nil || !reflect.DeepEqual(values, []uint16{9}) {
		t.Fatalf("FIFO after reopen %v, %v", values, err)
	}
}

func TestStoreFileRecords(t *testing.T) {
	s := openTestStore(t, ":memory:")
	err := s.WriteFileRecords([]modbus.FileRecord{
		{RefType: 6, File: 4, Record: 7, Data: []uint16{0x06AF, 0x04BE, 0x100D}},
	})
	if err != nil {
		t.Fatalf("write records: %v", err)
	}
	got, err := s.ReadFileRecords([]modbus.FileRecordRef{
		{RefType: 6, File: 4, Record: 8, Length: 2},
		{RefType: 6, File: 4, Record: 0, Length: 1},
	})
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if want := [][]uint16{{0x04BE, 0x100D}, {0}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("records %04X, want %04X", got, want)
	}

	// The second record range is out of bounds, so nothing is written.
	err = s.WriteFileRecords([]modbus.FileRecord{
		{RefType: 6, File: 4, Record: 0, Data: []uint16{1}},
		{RefType: 6, File: 4, Record: 9, Data: []uint16{2, 3}},
	})
	if !errors.Is(err, modbus.ExceptionIllegalDataAddress) {
		t.Fatalf("write out of bounds: %v", err)
	}
	got, _ = s.ReadFileRecords([]modbus.FileRecordRef{{RefType: 6, File: 4, Record: 0, Length: 1}})
	if !reflect.DeepEqual(got, [][]uint16{{0}}) {
		t.Fatalf("partial file write committed: %v", got)
	}
	if _, err := s.ReadFileRecords([]modbus.FileRecordRef{{RefType: 6, File: 5, Record: 0, Length: 1}}); !errors.Is(err, modbus.ExceptionIllegalDataAddress) {
		t.Fatalf("unknown file: %v", err)
	}
}

func TestStoreFIFO(t *testing.T) {
	s := openTestStore(t, ":memory:")
	if err := s.PushFIFO(0x04DE, 0x01B8, 0x1284); err != nil {
		t.Fatalf("push: %v", err)
	}
	for i := 0; i < 2; i++ {
		values, err := s.ReadFIFO(0x04DE)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if want := []uint16{0x01B8, 0x1284}; !reflect.DeepEqual(values, want) {
			t.Fatalf("read %d: %04X, want %04X", i, values, want)
		}
	}
	v, ok, err := s.PopFIFO(0x04DE)
	if err != nil || !ok || v != 0x01B8 {
		t.Fatalf("pop = 0x%04X, %v, %v", v, ok, err)
	}
	v, ok, err = s.PopFIFO(0x04DE)
	if err != nil || !ok || v != 0x1284 {
		t.Fatalf("pop = 0x%04X, %v, %v", v, ok, err)
	}
	if _, ok, err := s.PopFIFO(0x04DE); ok || err != nil {
		t.Fatalf("pop from empty queue: %v, %v", ok, err)
	}
	if values, err := s.ReadFIFO(0x04DE); err != nil || len(values) != 0 {
		t.Fatalf("empty queue: %v, %v", values, err)
	}
	if _, err := s.ReadFIFO(0x0500); !errors.Is(err, modbus.ExceptionIllegalDataAddress) {
		t.Fatalf("unknown queue: %v", err)
	}
	if err := s.PushFIFO(0x0500, 1); !errors.Is(err, modbus.ExceptionIllegalDataAddress) {
		t.Fatalf("push to unknown queue: %v", err)
	}
}

func TestOpenRejectsAliases(t *testing.T) {
	model := testModel
	model.Aliases = []modbus.DataAlias{{}}
	if _, err := Open(":memory:", model); err == nil {
		t.Fatal("aliases accepted")
	}
}

func TestOpenInvalidModel(t *testing.T) {
	model := modbus.DataModel{Files: []modbus.FileRange{{Number: 0, Records: 1}}}
	if _, err := Open(":memory:", model); err == nil {
		t.Fatal("file number zero accepted")
	}
}
