package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/TheCount/go-modbus-tcp/modbus"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("parse marshalled default: %v\n%s", err, data)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("round trip changed config:\n%s", data)
	}
}

const sampleConfig = `
listen:
  address: 0.0.0.0:1502
  timeout: 30s
  allowed_hosts: [127.0.0.1, 10.0.0.0/8]
  max_connections: 4
server:
  unit_id: 1
data:
  ranges:
    - {type: holding_registers, start: 0, length: 10}
    - {type: coils, start: 100, length: 16}
  aliases:
    - {type: coils, start: 200, length: 16, of: holding_registers, at: 2}
  files:
    - {number: 1, records: 100}
  fifos:
    - {address: 1246, values: [440, 4740]}
  values:
    - {type: holding_registers, address: 0, format: float32, value: "1.5"}
    - {type: holding_registers, address: 4, format: string, length: 2, value: AB}
identity:
  vendor_name: Acme
  product_code: MB-1
  revision: "1.0"
  extended:
    128: serial
logging:
  level: debug
  format: json
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Listen.Address != "0.0.0.0:1502" || cfg.Listen.Timeout != 30*time.Second {
		t.Fatalf("listen config %+v", cfg.Listen)
	}
	if !cfg.Listen.Insecure {
		t.Fatal("default insecure flag lost")
	}
	if cfg.Server.Storage != "memory" {
		t.Fatalf("storage %q, want default", cfg.Server.Storage)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Output != "stderr" {
		t.Fatalf("logging config %+v", cfg.Logging)
	}
	if cfg.Identity == nil || cfg.Identity.Identity().Extended[128] != "serial" {
		t.Fatalf("identity %+v", cfg.Identity)
	}

	model, err := cfg.Data.Model()
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if len(model.Ranges) != 2 || len(model.Aliases) != 1 || len(model.Files) != 1 {
		t.Fatalf("model %+v", model)
	}
	if model.Aliases[0].Type != modbus.DataTypeHoldingRegisters || model.Aliases[0].StartAddress != 2 {
		t.Fatalf("alias %+v", model.Aliases[0])
	}
	if !reflect.DeepEqual(model.FIFOs, []uint16{1246}) {
		t.Fatalf("FIFOs %v", model.FIFOs)
	}
}

func TestApply(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	model, err := cfg.Data.Model()
	if err != nil {
		t.Fatal(err)
	}
	d, err := modbus.NewData(model)
	if err != nil {
		t.Fatalf("new data: %v", err)
	}
	if err := cfg.Data.Apply(d); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if v, err := modbus.Float32(d, modbus.DataTypeHoldingRegisters, 0, modbus.HighWordFirst); err != nil || v != 1.5 {
		t.Fatalf("float value %v, %v", v, err)
	}
	regs, err := d.ReadData(nil, modbus.DataTypeHoldingRegisters, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(regs, []byte{'A', 'B', 0, 0}) {
		t.Fatalf("string value % X", regs)
	}
	values, err := d.ReadFIFO(1246)
	if err != nil || !reflect.DeepEqual(values, []uint16{440, 4740}) {
		t.Fatalf("FIFO %v, %v", values, err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"bad yaml", "listen: [\n"},
		{"missing address", "listen: {address: ''}"},
		{"zero timeout", "listen: {timeout: 0s}"},
		{"tls required", "listen: {insecure: false}"},
		{"bad host", "listen: {allowed_hosts: [example]}"},
		{"bad storage", "server: {storage: redis}"},
		{"sqlite without path", "server: {storage: sqlite}"},
		{"bad range type", "data: {ranges: [{type: outputs, length: 1}]}"},
		{"range overflow", "data: {ranges: [{type: coils, start: 65535, length: 2}]}"},
		{"file zero", "data: {files: [{number: 0, records: 1}]}"},
		{"bad value", "data: {values: [{type: coils, format: uint16, value: x}]}"},
		{"bad format", "data: {values: [{type: coils, format: int8, value: '1'}]}"},
		{"too many FIFO values", "data: {fifos: [{address: 1, values: [" +
			strings.Repeat("1, ", 31) + "1]}]}"},
		{"identity missing vendor", "identity: {product_code: x, revision: '1'}"},
		{"identity extended id", "identity: {vendor_name: a, product_code: b, revision: c, extended: {7: x}}"},
		{"bad log level", "logging: {level: loud}"},
		{"bad metrics path", "metrics: {path: metrics}"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Parse([]byte(test.config)); err == nil {
				t.Fatalf("accepted:\n%s", test.config)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mbtcpd.yaml")
	if err := os.WriteFile(path, []byte("server: {unit_id: 7}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.UnitID != 7 {
		t.Fatalf("unit ID %d", cfg.Server.UnitID)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
