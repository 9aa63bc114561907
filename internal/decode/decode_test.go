package decode

import (
	"math"
	"testing"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/gwerrors"
	"github.com/fieldwire/modbus-gateway/internal/model"
)

func reg(dt model.DataType, scale, offset float64, precision int) config.RegisterConfig {
	return config.RegisterConfig{
		Kind:      model.Holding,
		DataType:  dt,
		Scale:     scale,
		Offset:    offset,
		Precision: precision,
	}
}

func TestDecodeFloat32BigBig(t *testing.T) {
	// 0x40490FDB is the IEEE-754 binary32 pattern closest to pi.
	dv, err := Decode([]uint16{0x4049, 0x0FDB}, reg(model.Float32, 1, 0, 3), model.BigEndian, model.WordBigEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := dv.Value.(float64); got != 3.142 {
		t.Fatalf("value = %v, want 3.142", got)
	}
	if raw := dv.Raw.([2]uint16); raw != [2]uint16{0x4049, 0x0FDB} {
		t.Fatalf("raw = %v, want original word pair", raw)
	}
}

func TestDecodeFloat32LittleWordOrder(t *testing.T) {
	dv, err := Decode([]uint16{0x0FDB, 0x4049}, reg(model.Float32, 1, 0, 3), model.BigEndian, model.WordLittleEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := dv.Value.(float64); got != 3.142 {
		t.Fatalf("value = %v, want 3.142", got)
	}
}

func TestDecodeInt16ByteSwapped(t *testing.T) {
	// 0x00FF byte-swapped is 0xFF00 = -256 signed; scaled by 0.1 -> -25.6.
	dv, err := Decode([]uint16{0x00FF}, reg(model.Int16, 0.1, 0, 2), model.LittleEndian, model.WordBigEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := dv.Value.(float64); got != -25.6 {
		t.Fatalf("value = %v, want -25.6", got)
	}
	if raw := dv.Raw.(uint16); raw != 0x00FF {
		t.Fatalf("raw = %#04x, want 0x00FF (pre-swap)", raw)
	}
}

func TestDecodeBool(t *testing.T) {
	dv, err := Decode([]uint16{1}, reg(model.Bool, 1, 0, 0), model.BigEndian, model.WordBigEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if dv.Value.(bool) != true {
		t.Fatalf("value = %v, want true", dv.Value)
	}

	dv, err = Decode([]uint16{0}, reg(model.Bool, 1, 0, 0), model.BigEndian, model.WordBigEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if dv.Value.(bool) != false {
		t.Fatalf("value = %v, want false", dv.Value)
	}
}

func TestDecodeScaleOffset(t *testing.T) {
	dv, err := Decode([]uint16{100}, reg(model.UInt16, 2, 5, 0), model.BigEndian, model.WordBigEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := dv.Value.(float64); got != 205 {
		t.Fatalf("value = %v, want 205 (100*2+5)", got)
	}
}

func TestDecodeRoundHalfToEven(t *testing.T) {
	// 0.5 at precision 0 rounds to the even neighbour, 0.
	dv, err := Decode([]uint16{5}, reg(model.UInt16, 0.1, 0, 0), model.BigEndian, model.WordBigEndian)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := dv.Value.(float64); got != 0 {
		t.Fatalf("value = %v, want 0 (banker's rounding of 0.5)", got)
	}
}

func TestDecodeInsufficientWords(t *testing.T) {
	_, err := Decode([]uint16{0x4048}, reg(model.Float32, 1, 0, 2), model.BigEndian, model.WordBigEndian)
	if !gwerrors.Is(err, gwerrors.DecodeError) {
		t.Fatalf("expected DecodeError for 1-word float32 input, got %v", err)
	}
}

// TestRoundTrip encodes a value for every data type under every
// byte/word-order combination and checks Decode recovers it.
func TestRoundTrip(t *testing.T) {
	orders := []struct {
		name string
		bo   model.ByteOrder
		wo   model.WordOrder
	}{
		{"big/big", model.BigEndian, model.WordBigEndian},
		{"big/little", model.BigEndian, model.WordLittleEndian},
		{"little/big", model.LittleEndian, model.WordBigEndian},
		{"little/little", model.LittleEndian, model.WordLittleEndian},
	}
	cases := []struct {
		name  string
		dt    model.DataType
		value float64
	}{
		{"int16 negative", model.Int16, -1234},
		{"uint16", model.UInt16, 54321},
		{"int32 negative", model.Int32, -123456},
		{"uint32", model.UInt32, 3000000000},
		{"float32", model.Float32, 3.142},
		{"bool", model.Bool, 1},
	}

	for _, ord := range orders {
		for _, tc := range cases {
			t.Run(ord.name+"/"+tc.name, func(t *testing.T) {
				rc := reg(tc.dt, 1, 0, 3)
				words, err := Encode(tc.value, rc, ord.bo, ord.wo)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				if want := tc.dt.WordCount(); len(words) != want {
					t.Fatalf("Encode produced %d words, want %d", len(words), want)
				}
				dv, err := Decode(words, rc, ord.bo, ord.wo)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if tc.dt == model.Bool {
					if dv.Value.(bool) != (tc.value != 0) {
						t.Fatalf("bool round trip = %v, want %v", dv.Value, tc.value != 0)
					}
					return
				}
				if got := dv.Value.(float64); math.Abs(got-tc.value) > 0.001 {
					t.Fatalf("round trip = %v, want %v", got, tc.value)
				}
			})
		}
	}
}
