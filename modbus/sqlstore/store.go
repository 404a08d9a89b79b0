// Package sqlstore provides a persistent modbus.Storage backed by SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TheCount/go-modbus-tcp/modbus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS data (
	kind INTEGER NOT NULL,
	addr INTEGER NOT NULL,
	value INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (kind, addr)
);
CREATE TABLE IF NOT EXISTS file_records (
	file INTEGER NOT NULL,
	record INTEGER NOT NULL,
	value INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (file, record)
);
CREATE TABLE IF NOT EXISTS fifo_queues (
	addr INTEGER PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS fifo_values (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	addr INTEGER NOT NULL REFERENCES fifo_queues(addr),
	value INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fifo_addr ON fifo_values(addr, id);
`

// Store implements modbus.Storage, modbus.FileStorage and modbus.FIFOStorage
// on top of an SQLite database. Values survive restarts. Only the addresses
// provisioned from the data model are accessible; existing values are kept
// when the model is provisioned again.
type Store struct {
	// db is the database handle. Each operation runs in a transaction.
	db *sql.DB
}

// querier is implemented by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open opens the SQLite database at path and provisions the data model.
// Aliases are not supported.
func Open(path string, model modbus.DataModel) (*Store, error) {
	if len(model.Aliases) > 0 {
		return nil, errors.New("sqlstore: data aliases not supported")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Transactions are serialised; this also keeps ":memory:" databases
	// consistent across calls.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db}
	if err := s.init(model); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(model modbus.DataModel) error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return s.tx(func(tx *sql.Tx) error {
		for i, dr := range model.Ranges {
			if err := dr.Validate(); err != nil {
				return fmt.Errorf("data range %d invalid: %w", i, err)
			}
			for a := 0; a < int(dr.Len); a++ {
				if _, err := tx.Exec(
					`INSERT OR IGNORE INTO data (kind, addr) VALUES (?, ?)`,
					int(dr.Type), int(dr.StartAddress)+a,
				); err != nil {
					return err
				}
			}
		}
		for i, fr := range model.Files {
			if err := fr.Validate(); err != nil {
				return fmt.Errorf("file range %d invalid: %w", i, err)
			}
			for r := 0; r < int(fr.Records); r++ {
				if _, err := tx.Exec(
					`INSERT OR IGNORE INTO file_records (file, record) VALUES (?, ?)`,
					int(fr.Number), r,
				); err != nil {
					return err
				}
			}
		}
		for _, addr := range model.FIFOs {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO fifo_queues (addr) VALUES (?)`, int(addr),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// tx runs fn in a transaction. The transaction is rolled back if fn fails.
func (s *Store) tx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// readValues reads n consecutive values of kind dt starting at addr. Gaps are
// reported as modbus.ExceptionIllegalDataAddress.
func readValues(q querier, dt modbus.DataType, addr uint16, n int) ([]uint16, error) {
	if int(addr)+n > 1<<16 {
		return nil, modbus.ExceptionIllegalDataAddress
	}
	rows, err := q.QueryContext(context.Background(),
		`SELECT value FROM data WHERE kind = ? AND addr >= ? AND addr < ? ORDER BY addr`,
		int(dt), int(addr), int(addr)+n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := make([]uint16, 0, n)
	for rows.Next() {
		var v uint16
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(values) != n {
		return nil, modbus.ExceptionIllegalDataAddress
	}
	return values, nil
}

// writeValues writes consecutive values of kind dt starting at addr. All
// addresses must be provisioned.
func writeValues(q querier, dt modbus.DataType, addr uint16, values []uint16) error {
	for i, v := range values {
		res, err := q.ExecContext(context.Background(),
			`UPDATE data SET value = ? WHERE kind = ? AND addr = ?`,
			int(v), int(dt), int(addr)+i)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return modbus.ExceptionIllegalDataAddress
		}
	}
	return nil
}

// encode appends values of kind dt to dst in wire representation.
func encode(dst []byte, dt modbus.DataType, values []uint16) []byte {
	if dt.NumBits() == 1 {
		bits := make([]bool, len(values))
		for i, v := range values {
			bits[i] = v != 0
		}
		return append(dst, modbus.PackBits(bits)...)
	}
	return append(dst, modbus.WordsToBytes(values)...)
}

// decode converts n items of kind dt in wire representation to values.
func decode(dt modbus.DataType, n int, src []byte) ([]uint16, error) {
	if len(src) < (n*dt.NumBits()+7)/8 {
		return nil, fmt.Errorf("write %d %s: have %d bytes", n, dt, len(src))
	}
	if dt.NumBits() != 1 {
		return modbus.BytesToWords(src[:2*n]), nil
	}
	values := make([]uint16, n)
	for i, bit := range modbus.UnpackBits(src, n) {
		if bit {
			values[i] = 1
		}
	}
	return values, nil
}

// ReadData implements modbus.Storage.
func (s *Store) ReadData(
	dst []byte, dt modbus.DataType, addr uint16, n int,
) ([]byte, error) {
	values, err := readValues(s.db, dt, addr, n)
	if err != nil {
		return nil, err
	}
	return encode(dst, dt, values), nil
}

// WriteData implements modbus.Storage.
func (s *Store) WriteData(dt modbus.DataType, addr uint16, n int, src []byte) error {
	values, err := decode(dt, n, src)
	if err != nil {
		return err
	}
	return s.tx(func(tx *sql.Tx) error {
		return writeValues(tx, dt, addr, values)
	})
}

// MaskRegister implements modbus.Storage.
func (s *Store) MaskRegister(addr, and, or uint16) error {
	const dt = modbus.DataTypeHoldingRegisters
	return s.tx(func(tx *sql.Tx) error {
		values, err := readValues(tx, dt, addr, 1)
		if err != nil {
			return err
		}
		values[0] = (values[0] & and) | (or &^ and)
		return writeValues(tx, dt, addr, values)
	})
}

// WriteReadRegisters implements modbus.Storage.
func (s *Store) WriteReadRegisters(
	dst []byte, writeAddr uint16, src []byte, readAddr uint16, n int,
) ([]byte, error) {
	const dt = modbus.DataTypeHoldingRegisters
	var result []byte
	err := s.tx(func(tx *sql.Tx) error {
		if err := writeValues(tx, dt, writeAddr, modbus.BytesToWords(src)); err != nil {
			return err
		}
		values, err := readValues(tx, dt, readAddr, n)
		if err != nil {
			return err
		}
		result = encode(dst, dt, values)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReadFileRecords implements modbus.FileStorage.
func (s *Store) ReadFileRecords(refs []modbus.FileRecordRef) ([][]uint16, error) {
	result := make([][]uint16, len(refs))
	err := s.tx(func(tx *sql.Tx) error {
		for i, ref := range refs {
			values, err := readRecords(tx, ref.File, ref.Record, int(ref.Length))
			if err != nil {
				return err
			}
			result[i] = values
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// readRecords reads n consecutive records of file starting at record.
func readRecords(tx *sql.Tx, file, record uint16, n int) ([]uint16, error) {
	rows, err := tx.Query(
		`SELECT value FROM file_records WHERE file = ? AND record >= ? AND record < ?
		ORDER BY record`, int(file), int(record), int(record)+n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := make([]uint16, 0, n)
	for rows.Next() {
		var v uint16
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(values) != n {
		return nil, modbus.ExceptionIllegalDataAddress
	}
	return values, nil
}

// WriteFileRecords implements modbus.FileStorage.
func (s *Store) WriteFileRecords(records []modbus.FileRecord) error {
	return s.tx(func(tx *sql.Tx) error {
		for _, rec := range records {
			for i, v := range rec.Data {
				res, err := tx.Exec(
					`UPDATE file_records SET value = ? WHERE file = ? AND record = ?`,
					int(v), int(rec.File), int(rec.Record)+i)
				if err != nil {
					return err
				}
				if n, err := res.RowsAffected(); err != nil {
					return err
				} else if n != 1 {
					return modbus.ExceptionIllegalDataAddress
				}
			}
		}
		return nil
	})
}

// ReadFIFO implements modbus.FIFOStorage.
func (s *Store) ReadFIFO(addr uint16) ([]uint16, error) {
	var values []uint16
	err := s.tx(func(tx *sql.Tx) error {
		if err := checkFIFO(tx, addr); err != nil {
			return err
		}
		rows, err := tx.Query(
			`SELECT value FROM fifo_values WHERE addr = ? ORDER BY id`, int(addr))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v uint16
			if err := rows.Scan(&v); err != nil {
				return err
			}
			values = append(values, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// PushFIFO appends values to the FIFO queue at addr.
func (s *Store) PushFIFO(addr uint16, values ...uint16) error {
	return s.tx(func(tx *sql.Tx) error {
		if err := checkFIFO(tx, addr); err != nil {
			return err
		}
		for _, v := range values {
			if _, err := tx.Exec(
				`INSERT INTO fifo_values (addr, value) VALUES (?, ?)`, int(addr), int(v),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// PopFIFO removes and returns the oldest value of the FIFO queue at addr. The
// second return value is false if the queue is empty.
func (s *Store) PopFIFO(addr uint16) (uint16, bool, error) {
	var (
		value uint16
		ok    bool
	)
	err := s.tx(func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRow(
			`SELECT id, value FROM fifo_values WHERE addr = ? ORDER BY id LIMIT 1`,
			int(addr)).Scan(&id, &value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		_, err = tx.Exec(`DELETE FROM fifo_values WHERE id = ?`, id)
		return err
	})
	return value, ok, err
}

// checkFIFO checks that a FIFO queue exists at addr.
func checkFIFO(tx *sql.Tx, addr uint16) error {
	var n int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM fifo_queues WHERE addr = ?`, int(addr),
	).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return modbus.ExceptionIllegalDataAddress
	}
	return nil
}
