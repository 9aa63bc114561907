// Package sim hosts a Modbus slave simulator used to exercise the gateway
// end to end without field hardware: an in-memory register store served over
// Modbus/TCP (MBAP) or RTU framing (over TCP or a serial line), seeded and
// periodically refreshed from the same register configuration the gateway
// polls.
package sim

import (
	"sync"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/decode"
	"github.com/fieldwire/modbus-gateway/internal/model"
)

// Store holds one simulated slave's four register address spaces.
type Store struct {
	mu             sync.RWMutex
	holding        []uint16
	input          []uint16
	coils          []bool
	discreteInputs []bool
}

// NewStore allocates a store covering the full 16-bit address space.
func NewStore() *Store {
	return &Store{
		holding:        make([]uint16, 65536),
		input:          make([]uint16, 65536),
		coils:          make([]bool, 65536),
		discreteInputs: make([]bool, 65536),
	}
}

// SetWord writes one register word into the holding or input space.
func (s *Store) SetWord(kind model.RegisterKind, addr uint16, v uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case model.Holding:
		s.holding[addr] = v
	case model.Input:
		s.input[addr] = v
	}
}

// SetBit writes one bit into the coil or discrete-input space.
func (s *Store) SetBit(kind model.RegisterKind, addr uint16, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case model.Coil:
		s.coils[addr] = v
	case model.Discrete:
		s.discreteInputs[addr] = v
	}
}

// Word reads one register word back; used by tests and status output.
func (s *Store) Word(kind model.RegisterKind, addr uint16) uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case model.Holding:
		return s.holding[addr]
	case model.Input:
		return s.input[addr]
	}
	return 0
}

// Bit reads one bit back.
func (s *Store) Bit(kind model.RegisterKind, addr uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case model.Coil:
		return s.coils[addr]
	case model.Discrete:
		return s.discreteInputs[addr]
	}
	return false
}

// SetValue encodes an engineering value per the register's data type and
// byte/word order and writes the resulting word(s) or bit, so the gateway's
// decoder reads the same value back.
func (s *Store) SetValue(value float64, reg config.RegisterConfig, portByteOrder model.ByteOrder, portWordOrder model.WordOrder) error {
	if reg.Kind == model.Coil || reg.Kind == model.Discrete {
		s.SetBit(reg.Kind, reg.Address, value != 0)
		return nil
	}
	words, err := decode.Encode(value, reg, portByteOrder, portWordOrder)
	if err != nil {
		return err
	}
	for i, w := range words {
		s.SetWord(reg.Kind, reg.Address+uint16(i), w)
	}
	return nil
}
