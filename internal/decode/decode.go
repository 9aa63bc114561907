// Package decode converts raw Modbus words into typed, scaled DecodedValues
// under two independent layout axes: byte order (bytes within one 16-bit
// word) and word order (word halves within a 32-bit value).
package decode

import (
	"fmt"
	"math"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/gwerrors"
	"github.com/fieldwire/modbus-gateway/internal/model"
)

// swapBytes reverses the two bytes of a 16-bit word.
func swapBytes(w uint16) uint16 {
	return (w << 8) | (w >> 8)
}

// Decode converts raw 16-bit words into a DecodedValue according to reg's
// data type, scale, offset, precision, and resolved byte/word order.
//
// words must contain exactly 1 word for 16-bit/bool types or exactly 2 words
// for 32-bit types, in the order they arrived off the wire (no reordering
// applied yet) — Decode owns all reordering.
func Decode(words []uint16, reg config.RegisterConfig, portByteOrder model.ByteOrder, portWordOrder model.WordOrder) (model.DecodedValue, error) {
	byteOrder := reg.EffectiveByteOrder(portByteOrder)
	wordOrder := reg.EffectiveWordOrder(portWordOrder)

	switch reg.DataType {
	case model.Bool:
		if len(words) < 1 {
			return model.DecodedValue{}, gwerrors.New(gwerrors.DecodeError, "bool decode needs 1 word")
		}
		w := words[0]
		return model.DecodedValue{
			Value:    w != 0,
			Raw:      w,
			Unit:     reg.Unit,
			Quality:  model.Good,
			DataType: model.Bool,
		}, nil

	case model.Int16, model.UInt16:
		if len(words) < 1 {
			return model.DecodedValue{}, gwerrors.New(gwerrors.DecodeError, "16-bit decode needs 1 word")
		}
		raw := words[0]
		w := raw
		if byteOrder == model.LittleEndian {
			w = swapBytes(w)
		}

		var numeric float64
		if reg.DataType == model.Int16 {
			numeric = float64(int16(w))
		} else {
			numeric = float64(w)
		}
		scaled := applyScale(numeric, reg.Scale, reg.Offset, reg.Precision)
		return model.DecodedValue{
			Value:    scaled,
			Raw:      raw,
			Unit:     reg.Unit,
			Quality:  model.Good,
			DataType: reg.DataType,
		}, nil

	case model.Int32, model.UInt32, model.Float32:
		if len(words) < 2 {
			return model.DecodedValue{}, gwerrors.New(gwerrors.DecodeError, fmt.Sprintf("%s decode needs 2 words, got %d", reg.DataType, len(words)))
		}
		w0, w1 := words[0], words[1]
		raw := [2]uint16{w0, w1}

		if wordOrder == model.WordLittleEndian {
			w0, w1 = w1, w0
		}
		if byteOrder == model.LittleEndian {
			w0, w1 = swapBytes(w0), swapBytes(w1)
		}

		u32 := uint32(w0)<<16 | uint32(w1)

		var numeric float64
		switch reg.DataType {
		case model.Int32:
			numeric = float64(int32(u32))
		case model.UInt32:
			numeric = float64(u32)
		case model.Float32:
			numeric = float64(math.Float32frombits(u32))
		}
		scaled := applyScale(numeric, reg.Scale, reg.Offset, reg.Precision)
		return model.DecodedValue{
			Value:    scaled,
			Raw:      raw,
			Unit:     reg.Unit,
			Quality:  model.Good,
			DataType: reg.DataType,
		}, nil

	default:
		return model.DecodedValue{}, gwerrors.New(gwerrors.DecodeError, fmt.Sprintf("unsupported data type %s", reg.DataType))
	}
}

// applyScale applies value*scale+offset and, for a requested precision,
// rounds half-to-even to that many fractional digits.
func applyScale(value, scale, offset float64, precision int) float64 {
	v := value*scale + offset
	if precision < 0 {
		return v
	}
	return roundHalfToEven(v, precision)
}

// roundHalfToEven rounds v to the given number of fractional digits using
// banker's rounding (math.RoundToEven), so exact ties round to the nearest
// even digit rather than always away from zero.
func roundHalfToEven(v float64, precision int) float64 {
	pow := math.Pow(10, float64(precision))
	return math.RoundToEven(v*pow) / pow
}
