package sim

import (
	"encoding/binary"
	"errors"
)

// Modbus function codes served by the simulator: the four reads the gateway
// polls with plus the two single writes its control plane issues.
const (
	fnReadCoils          = 0x01
	fnReadDiscreteInputs = 0x02
	fnReadHoldingRegs    = 0x03
	fnReadInputRegs      = 0x04
	fnWriteSingleCoil    = 0x05
	fnWriteSingleReg     = 0x06

	exIllegalFunction = 0x01
	exIllegalDataAddr = 0x02
	exIllegalDataVal  = 0x03
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidValue  = errors.New("invalid value")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// HandlePDU executes one request PDU (function code + data, no framing)
// against the store and returns the response PDU. Protocol violations come
// back as Modbus exception responses, never as Go errors.
func (s *Store) HandlePDU(pdu []byte) []byte {
	if len(pdu) == 0 {
		return exceptionResponse(0, exIllegalFunction)
	}
	fn := pdu[0]
	switch fn {
	case fnReadCoils:
		data, err := s.readBits(s.coils, pdu)
		if err != nil {
			return exceptionResponse(fn, errToCode(err))
		}
		return append([]byte{fn, byte(len(data))}, data...)
	case fnReadDiscreteInputs:
		data, err := s.readBits(s.discreteInputs, pdu)
		if err != nil {
			return exceptionResponse(fn, errToCode(err))
		}
		return append([]byte{fn, byte(len(data))}, data...)
	case fnReadHoldingRegs:
		data, err := s.readRegisters(s.holding, pdu)
		if err != nil {
			return exceptionResponse(fn, errToCode(err))
		}
		return append([]byte{fn, byte(len(data))}, data...)
	case fnReadInputRegs:
		data, err := s.readRegisters(s.input, pdu)
		if err != nil {
			return exceptionResponse(fn, errToCode(err))
		}
		return append([]byte{fn, byte(len(data))}, data...)
	case fnWriteSingleCoil:
		if err := s.writeSingleCoil(pdu); err != nil {
			return exceptionResponse(fn, errToCode(err))
		}
		// A successful single write echoes the request back.
		return append([]byte{fn}, pdu[1:5]...)
	case fnWriteSingleReg:
		if err := s.writeSingleRegister(pdu); err != nil {
			return exceptionResponse(fn, errToCode(err))
		}
		return append([]byte{fn}, pdu[1:5]...)
	default:
		return exceptionResponse(fn, exIllegalFunction)
	}
}

func (s *Store) readBits(source []bool, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 2000 {
		return nil, errInvalidQty
	}
	if int(start)+int(quantity) > len(source) {
		return nil, errOutOfRange
	}

	byteCount := (int(quantity) + 7) / 8
	result := make([]byte, byteCount)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 0; i < int(quantity); i++ {
		if source[int(start)+i] {
			result[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return result, nil
}

func (s *Store) readRegisters(source []uint16, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 125 {
		return nil, errInvalidQty
	}
	if int(start)+int(quantity) > len(source) {
		return nil, errOutOfRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]byte, quantity*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:(i+1)*2], source[int(start)+i])
	}
	return result, nil
}

func (s *Store) writeSingleCoil(pdu []byte) error {
	if len(pdu) < 5 {
		return errInvalidPDULen
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])
	if value != 0xFF00 && value != 0x0000 {
		return errInvalidValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(addr) >= len(s.coils) {
		return errOutOfRange
	}
	s.coils[addr] = value == 0xFF00
	return nil
}

func (s *Store) writeSingleRegister(pdu []byte) error {
	if len(pdu) < 5 {
		return errInvalidPDULen
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(addr) >= len(s.holding) {
		return errOutOfRange
	}
	s.holding[addr] = value
	return nil
}

func exceptionResponse(fn byte, code byte) []byte {
	if fn == 0 {
		fn = 0x80
	} else {
		fn |= 0x80
	}
	return []byte{fn, code}
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return exIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidValue), errors.Is(err, errInvalidPDULen):
		return exIllegalDataVal
	default:
		return exIllegalFunction
	}
}
