// Package config supplies the immutable configuration tree consumed by the
// polling engine: AppConfig -> []PortConfig -> []DeviceConfig -> []RegisterConfig.
// Loading and validation live here; nothing below the engine boundary ever
// mutates a config value after LoadYAML returns.
package config

import (
	"time"

	"github.com/fieldwire/modbus-gateway/internal/model"
)

// TransportKind selects which of the three wire variants a port speaks.
type TransportKind int

const (
	TCP TransportKind = iota
	RtuOverTCP
	RtuSerial
)

// Parity mirrors the three serial parity modes a PortConfig can request.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// PortConfig is the immutable description of one Modbus transport and the
// devices polled over it.
type PortConfig struct {
	Name             string
	Transport        TransportKind
	Host             string // TCP, RtuOverTCP
	Port             int    // TCP, RtuOverTCP
	Device           string // RtuSerial: e.g. /dev/ttyUSB0
	BaudRate         int    // RtuSerial
	Parity           Parity // RtuSerial
	StopBits         int    // RtuSerial: 1 or 2
	ByteSize         int    // RtuSerial: 5..8
	Timeout          time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	Enabled          bool
	DefaultByteOrder model.ByteOrder
	DefaultWordOrder model.WordOrder
	Devices          []DeviceConfig
}

// DeviceConfig is the immutable description of one slave device on a port.
type DeviceConfig struct {
	Name         string
	UnitAddress  uint8
	PollInterval time.Duration
	Timeout      time.Duration
	Enabled      bool
	Registers    []RegisterConfig
}

// RegisterConfig is the immutable description of one polled register.
type RegisterConfig struct {
	Kind       model.RegisterKind
	Address    uint16
	Name       string
	Unit       string
	DataType   model.DataType
	Scale      float64
	Offset     float64
	Precision  int
	ByteOrder  model.ByteOrder
	WordOrder  model.WordOrder
	ReadOnly   bool
	hasByteOrd bool
	hasWordOrd bool
}

// AppConfig is the full, validated configuration tree for one engine instance.
type AppConfig struct {
	Ports []PortConfig
}

// EffectiveByteOrder resolves the register's byte order, falling back to the
// port default when the register didn't specify one.
func (r RegisterConfig) EffectiveByteOrder(portDefault model.ByteOrder) model.ByteOrder {
	if r.hasByteOrd {
		return r.ByteOrder
	}
	return portDefault
}

// EffectiveWordOrder resolves the register's word order, falling back to the
// port default when the register didn't specify one.
func (r RegisterConfig) EffectiveWordOrder(portDefault model.WordOrder) model.WordOrder {
	if r.hasWordOrd {
		return r.WordOrder
	}
	return portDefault
}
