package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/TheCount/go-modbus-tcp/modbus"
)

// setter writes a parsed initial value to storage.
type setter func(s modbus.Storage) error

// setter parses the value and returns the function writing it.
func (vc ValueConfig) setter() (setter, error) {
	dt, err := modbus.ParseDataType(vc.Type)
	if err != nil {
		return nil, err
	}
	order, err := modbus.ParseWordOrder(vc.Order)
	if err != nil {
		return nil, err
	}
	addr := vc.Address
	switch vc.Format {
	case "uint16":
		v, err := strconv.ParseUint(vc.Value, 0, 16)
		if err != nil {
			return nil, err
		}
		return func(s modbus.Storage) error {
			return modbus.SetUint16(s, dt, addr, uint16(v))
		}, nil
	case "uint32":
		v, err := strconv.ParseUint(vc.Value, 0, 32)
		if err != nil {
			return nil, err
		}
		return func(s modbus.Storage) error {
			return modbus.SetUint32(s, dt, addr, uint32(v), order)
		}, nil
	case "uint64":
		v, err := strconv.ParseUint(vc.Value, 0, 64)
		if err != nil {
			return nil, err
		}
		return func(s modbus.Storage) error {
			return modbus.SetUint64(s, dt, addr, v, order)
		}, nil
	case "float32":
		v, err := strconv.ParseFloat(vc.Value, 32)
		if err != nil {
			return nil, err
		}
		return func(s modbus.Storage) error {
			return modbus.SetFloat32(s, dt, addr, float32(v), order)
		}, nil
	case "float64":
		v, err := strconv.ParseFloat(vc.Value, 64)
		if err != nil {
			return nil, err
		}
		return func(s modbus.Storage) error {
			return modbus.SetFloat64(s, dt, addr, v, order)
		}, nil
	case "string":
		n, value := vc.Length, vc.Value
		return func(s modbus.Storage) error {
			return modbus.SetString(s, dt, addr, n, value)
		}, nil
	default:
		return nil, fmt.Errorf("unknown value format '%s'", vc.Format)
	}
}

// fifoPusher is implemented by storage with FIFO queues.
type fifoPusher interface {
	PushFIFO(addr uint16, values ...uint16) error
}

// Apply writes the configured initial values and FIFO contents to s.
func (dc *DataConfig) Apply(s modbus.Storage) error {
	for _, fc := range dc.FIFOs {
		if len(fc.Values) == 0 {
			continue
		}
		p, ok := s.(fifoPusher)
		if !ok {
			return errors.New("storage has no FIFO queues")
		}
		if err := p.PushFIFO(fc.Address, fc.Values...); err != nil {
			return fmt.Errorf("FIFO at %d: %w", fc.Address, err)
		}
	}
	for i, vc := range dc.Values {
		set, err := vc.setter()
		if err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
		if err := set(s); err != nil {
			return fmt.Errorf("value %d at %s %d: %w", i, vc.Type, vc.Address, err)
		}
	}
	return nil
}
