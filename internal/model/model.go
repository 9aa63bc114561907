// Package model holds the runtime entities shared across the polling engine:
// decoded samples, device/port status, and the per-port statistics snapshot.
// These are the types the Device Poller produces, the Write-Buffer stores,
// the fan-out bus publishes, and the Statistics Recorder tracks.
package model

import (
	"fmt"
	"time"
)

// RegisterKind identifies which of the four Modbus register address spaces a
// RegisterConfig refers to.
type RegisterKind int

const (
	Holding RegisterKind = iota
	Input
	Coil
	Discrete
)

func (k RegisterKind) String() string {
	switch k {
	case Holding:
		return "holding"
	case Input:
		return "input"
	case Coil:
		return "coil"
	case Discrete:
		return "discrete"
	default:
		return "unknown"
	}
}

// DataType is the typed interpretation applied to one or two raw 16-bit words.
type DataType int

const (
	Int16 DataType = iota
	UInt16
	Int32
	UInt32
	Float32
	Bool
)

func (d DataType) String() string {
	switch d {
	case Int16:
		return "int16"
	case UInt16:
		return "uint16"
	case Int32:
		return "int32"
	case UInt32:
		return "uint32"
	case Float32:
		return "float32"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// WordCount reports how many consecutive 16-bit registers this data type occupies.
func (d DataType) WordCount() int {
	switch d {
	case Int32, UInt32, Float32:
		return 2
	default:
		return 1
	}
}

// ByteOrder is the arrangement of the two bytes within a single 16-bit word.
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// WordOrder is the arrangement of the high/low halves of a 32-bit value.
type WordOrder int

const (
	WordBigEndian WordOrder = iota
	WordLittleEndian
)

// Quality marks how much to trust a decoded value.
type Quality int

const (
	Good Quality = iota
	Bad
	Uncertain
)

func (q Quality) String() string {
	switch q {
	case Good:
		return "good"
	case Bad:
		return "bad"
	default:
		return "uncertain"
	}
}

// DeviceStatus is the per-poll-cycle health of a single device.
type DeviceStatus int

const (
	Online DeviceStatus = iota
	Offline
	DeviceError
	DeviceTimeout
)

func (s DeviceStatus) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	case DeviceError:
		return "error"
	case DeviceTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// RegKey formats the map key used inside a Sample: "<kind>_<address:05d>".
func RegKey(kind RegisterKind, address uint16) string {
	return fmt.Sprintf("%s_%05d", kind, address)
}

// DecodedValue is the output of the Numeric Decoder for one register.
type DecodedValue struct {
	Value       any // bool for the Bool type, float64 for every numeric type
	Raw         any // uint16 for 16-bit types, [2]uint16 for 32-bit types
	Unit        string
	Description string
	Quality     Quality
	DataType    DataType
}

// Sample is one decoded device reading at a single timestamp.
type Sample struct {
	DeviceName     string
	PortName       string
	CapturedAt     time.Time
	Registers      map[string]DecodedValue
	DeviceStatus   DeviceStatus
	PollDurationMs int64
}
