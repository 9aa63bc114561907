// Package transport adapts the Modbus client behind one capability set
// shared by the three wire variants (TCP/MBAP, RTU-over-TCP, RTU-serial),
// built on github.com/simonvetter/modbus so no MBAP or RTU/CRC-16 framing
// is hand-rolled here.
package transport

import "github.com/fieldwire/modbus-gateway/internal/model"

// ReadResult carries back whichever of Words/Bits applies to the kind that
// was read.
type ReadResult struct {
	Words []uint16
	Bits  []bool
}

// Transport is the capability set the Port Runner and Device Poller depend
// on. Never auto-retries; retry policy belongs to the Port Runner.
type Transport interface {
	Connect() error
	Close() error
	IsConnected() bool

	// ReadBlock reads count consecutive registers/bits of the given kind
	// starting at start, from the slave at unit.
	ReadBlock(unit uint8, kind model.RegisterKind, start, count uint16) (ReadResult, error)

	// WriteRegister writes a single Holding register.
	WriteRegister(unit uint8, address uint16, value uint16) error

	// WriteCoil writes a single Coil.
	WriteCoil(unit uint8, address uint16, value bool) error
}
