// Package config handles the daemon configuration file.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/TheCount/go-modbus-tcp/internal/logging"
	"github.com/TheCount/go-modbus-tcp/internal/metrics"
	"github.com/TheCount/go-modbus-tcp/modbus"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Listen   ListenConfig    `yaml:"listen"`
	Server   ServerConfig    `yaml:"server"`
	Data     DataConfig      `yaml:"data"`
	Identity *IdentityConfig `yaml:"identity,omitempty"`
	Logging  logging.Config  `yaml:"logging"`
	Metrics  metrics.Config  `yaml:"metrics"`
}

// ListenConfig configures the Modbus/TCP listener.
type ListenConfig struct {
	// Address is the TCP listen address.
	Address string `yaml:"address" validate:"required,hostname_port"`

	// Timeout is the idle and request timeout.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// Insecure selects plain mbap. Otherwise TLS must be configured.
	Insecure bool `yaml:"insecure"`

	// TLS configures mbaps.
	TLS *TLSConfig `yaml:"tls,omitempty" validate:"required_if=Insecure false,excluded_if=Insecure true"`

	// AllowedHosts lists IP addresses or CIDR networks allowed to connect.
	// Empty allows everyone.
	AllowedHosts []string `yaml:"allowed_hosts,omitempty" validate:"dive,ip|cidr"`

	// MaxConnections limits concurrent connections. Zero means no limit.
	MaxConnections int `yaml:"max_connections" validate:"gte=0"`

	// ResponseUnitID is the unit identifier put into responses.
	ResponseUnitID uint8 `yaml:"response_unit_id"`
}

// TLSConfig names the server certificate files.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" validate:"required,file"`
	KeyFile  string `yaml:"key_file" validate:"required,file"`
}

// Load loads the certificate and returns the server TLS configuration.
func (tc *TLSConfig) Load() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ServerConfig configures the served unit and its storage.
type ServerConfig struct {
	// UnitID is the unit identifier the data is served on.
	UnitID uint8 `yaml:"unit_id"`

	// Storage is memory or sqlite.
	Storage string `yaml:"storage" validate:"oneof=memory sqlite"`

	// SQLitePath is the database file for sqlite storage.
	SQLitePath string `yaml:"sqlite_path,omitempty" validate:"required_if=Storage sqlite"`

	// ExceptionStatus is returned by Read Exception Status.
	ExceptionStatus uint8 `yaml:"exception_status"`
}

// DataConfig describes the data model.
type DataConfig struct {
	Ranges  []RangeConfig `yaml:"ranges" validate:"dive"`
	Aliases []AliasConfig `yaml:"aliases,omitempty" validate:"dive"`
	Files   []FileConfig  `yaml:"files,omitempty" validate:"dive"`
	FIFOs   []FIFOConfig  `yaml:"fifos,omitempty" validate:"dive"`
	Values  []ValueConfig `yaml:"values,omitempty" validate:"dive"`
}

// RangeConfig describes a data range.
type RangeConfig struct {
	Type   string `yaml:"type" validate:"oneof=discrete_inputs coils input_registers holding_registers"`
	Start  uint16 `yaml:"start"`
	Length int    `yaml:"length" validate:"min=1,max=65535"`
}

// AliasConfig describes a data alias.
type AliasConfig struct {
	RangeConfig `yaml:",inline"`

	// Of is the data type of the aliased memory.
	Of string `yaml:"of" validate:"oneof=discrete_inputs coils input_registers holding_registers"`

	// At is the start address of the aliased memory.
	At uint16 `yaml:"at"`

	// Bit is the start bit for bit aliases of registers.
	Bit int `yaml:"bit" validate:"min=0,max=15"`
}

// FileConfig describes a file for the file record functions.
type FileConfig struct {
	Number  uint16 `yaml:"number" validate:"min=1"`
	Records int    `yaml:"records" validate:"min=1,max=10000"`
}

// FIFOConfig describes a FIFO queue and its initial contents.
type FIFOConfig struct {
	Address uint16   `yaml:"address"`
	Values  []uint16 `yaml:"values,omitempty" validate:"max=31"`
}

// ValueConfig is an initial value written at startup.
type ValueConfig struct {
	Type    string `yaml:"type" validate:"oneof=discrete_inputs coils input_registers holding_registers"`
	Address uint16 `yaml:"address"`

	// Format is uint16, uint32, uint64, float32, float64, or string.
	Format string `yaml:"format" validate:"oneof=uint16 uint32 uint64 float32 float64 string"`

	// Order is the word order of multi-register values.
	Order string `yaml:"order,omitempty" validate:"omitempty,oneof=high_first low_first"`

	// Length is the number of addresses for strings.
	Length int `yaml:"length,omitempty" validate:"required_if=Format string,gte=0"`

	Value string `yaml:"value"`
}

// IdentityConfig holds the device identification objects.
type IdentityConfig struct {
	VendorName          string           `yaml:"vendor_name" validate:"required,max=244"`
	ProductCode         string           `yaml:"product_code" validate:"required,max=244"`
	MajorMinorRevision  string           `yaml:"revision" validate:"required,max=244"`
	VendorURL           string           `yaml:"vendor_url,omitempty" validate:"max=244"`
	ProductName         string           `yaml:"product_name,omitempty" validate:"max=244"`
	ModelName           string           `yaml:"model_name,omitempty" validate:"max=244"`
	UserApplicationName string           `yaml:"user_application_name,omitempty" validate:"max=244"`
	Extended            map[uint8]string `yaml:"extended,omitempty" validate:"dive,keys,min=128,endkeys,max=244"`
}

// Identity converts the configuration into a modbus.Identity.
func (ic *IdentityConfig) Identity() *modbus.Identity {
	return &modbus.Identity{
		VendorName:          ic.VendorName,
		ProductCode:         ic.ProductCode,
		MajorMinorRevision:  ic.MajorMinorRevision,
		VendorURL:           ic.VendorURL,
		ProductName:         ic.ProductName,
		ModelName:           ic.ModelName,
		UserApplicationName: ic.UserApplicationName,
		Extended:            ic.Extended,
	}
}

// Default returns the default configuration: an insecure listener on the
// loopback interface serving 100 of each data type from memory.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Address:        "127.0.0.1:502",
			Timeout:        75 * time.Second,
			Insecure:       true,
			ResponseUnitID: uint8(modbus.UnitTCP),
		},
		Server: ServerConfig{
			UnitID:  uint8(modbus.UnitTCP),
			Storage: "memory",
		},
		Data: DataConfig{
			Ranges: []RangeConfig{
				{Type: "discrete_inputs", Start: 0, Length: 100},
				{Type: "coils", Start: 0, Length: 100},
				{Type: "input_registers", Start: 0, Length: 100},
				{Type: "holding_registers", Start: 0, Length: 100},
			},
		},
		Logging: logging.Default(),
		Metrics: metrics.Default(),
	}
}

// Load reads the configuration file at path on top of the defaults and
// validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses YAML configuration data on top of the defaults and validates
// it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration, including the data model.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if _, err := cfg.Data.Model(); err != nil {
		return err
	}
	for i, vc := range cfg.Data.Values {
		if _, err := vc.setter(); err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
	}
	return nil
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Model converts the data configuration into a modbus.DataModel.
func (dc *DataConfig) Model() (modbus.DataModel, error) {
	var model modbus.DataModel
	for i, rc := range dc.Ranges {
		dr, err := rc.dataRange()
		if err != nil {
			return model, fmt.Errorf("range %d: %w", i, err)
		}
		model.Ranges = append(model.Ranges, dr)
	}
	for i, ac := range dc.Aliases {
		dr, err := ac.dataRange()
		if err != nil {
			return model, fmt.Errorf("alias %d: %w", i, err)
		}
		of, err := modbus.ParseDataType(ac.Of)
		if err != nil {
			return model, fmt.Errorf("alias %d: %w", i, err)
		}
		da := modbus.DataAlias{
			Range:        dr,
			Type:         of,
			StartAddress: ac.At,
			StartBit:     uint8(ac.Bit),
		}
		if err := da.Validate(); err != nil {
			return model, fmt.Errorf("alias %d: %w", i, err)
		}
		model.Aliases = append(model.Aliases, da)
	}
	for i, fc := range dc.Files {
		fr := modbus.FileRange{Number: fc.Number, Records: uint16(fc.Records)}
		if err := fr.Validate(); err != nil {
			return model, fmt.Errorf("file %d: %w", i, err)
		}
		model.Files = append(model.Files, fr)
	}
	for _, fc := range dc.FIFOs {
		model.FIFOs = append(model.FIFOs, fc.Address)
	}
	return model, nil
}

// dataRange converts the range configuration into a modbus.DataRange.
func (rc RangeConfig) dataRange() (modbus.DataRange, error) {
	dt, err := modbus.ParseDataType(rc.Type)
	if err != nil {
		return modbus.DataRange{}, err
	}
	if int(rc.Start)+rc.Length > 1<<16 {
		return modbus.DataRange{}, fmt.Errorf("range %d+%d exceeds address space",
			rc.Start, rc.Length)
	}
	dr := modbus.DataRange{Type: dt, StartAddress: rc.Start, Len: uint16(rc.Length)}
	return dr, dr.Validate()
}
