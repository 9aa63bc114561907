package decode

import (
	"fmt"
	"math"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/gwerrors"
	"github.com/fieldwire/modbus-gateway/internal/model"
)

// Encode is the inverse of Decode: it converts an engineering value into the
// raw word(s) a slave would serve so that Decode with the same register
// config yields the value back (modulo scale/precision rounding). Used by
// the slave simulator to seed registers and by round-trip tests.
func Encode(value float64, reg config.RegisterConfig, portByteOrder model.ByteOrder, portWordOrder model.WordOrder) ([]uint16, error) {
	byteOrder := reg.EffectiveByteOrder(portByteOrder)
	wordOrder := reg.EffectiveWordOrder(portWordOrder)

	// Undo scaling: value = raw*scale + offset.
	raw := value
	if reg.DataType != model.Bool {
		scale := reg.Scale
		if scale == 0 {
			scale = 1
		}
		raw = (value - reg.Offset) / scale
	}

	switch reg.DataType {
	case model.Bool:
		if value != 0 {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil

	case model.Int16:
		w := uint16(int16(math.Round(raw)))
		if byteOrder == model.LittleEndian {
			w = swapBytes(w)
		}
		return []uint16{w}, nil

	case model.UInt16:
		w := uint16(math.Round(raw))
		if byteOrder == model.LittleEndian {
			w = swapBytes(w)
		}
		return []uint16{w}, nil

	case model.Int32, model.UInt32, model.Float32:
		var u32 uint32
		switch reg.DataType {
		case model.Int32:
			u32 = uint32(int32(math.Round(raw)))
		case model.UInt32:
			u32 = uint32(math.Round(raw))
		case model.Float32:
			u32 = math.Float32bits(float32(raw))
		}
		w0 := uint16(u32 >> 16)
		w1 := uint16(u32)
		if byteOrder == model.LittleEndian {
			w0, w1 = swapBytes(w0), swapBytes(w1)
		}
		if wordOrder == model.WordLittleEndian {
			w0, w1 = w1, w0
		}
		return []uint16{w0, w1}, nil

	default:
		return nil, gwerrors.New(gwerrors.DecodeError, fmt.Sprintf("unsupported data type %s", reg.DataType))
	}
}
