package sim

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/model"
)

func TestHandlePDUReadHolding(t *testing.T) {
	store := NewStore()
	store.SetWord(model.Holding, 100, 0xABCD)
	store.SetWord(model.Holding, 101, 0x1234)

	pdu := []byte{fnReadHoldingRegs, 0x00, 0x64, 0x00, 0x02}
	resp := store.HandlePDU(pdu)

	if resp[0] != fnReadHoldingRegs || resp[1] != 4 {
		t.Fatalf("response header = % X, want fn=03 bytecount=4", resp[:2])
	}
	if binary.BigEndian.Uint16(resp[2:4]) != 0xABCD || binary.BigEndian.Uint16(resp[4:6]) != 0x1234 {
		t.Fatalf("payload = % X, want ABCD 1234", resp[2:])
	}
}

func TestHandlePDUWriteSingleRegister(t *testing.T) {
	store := NewStore()
	pdu := []byte{fnWriteSingleReg, 0x00, 0x05, 0x00, 0x2A}
	resp := store.HandlePDU(pdu)

	if resp[0] != fnWriteSingleReg {
		t.Fatalf("response = % X, want write echo", resp)
	}
	if got := store.Word(model.Holding, 5); got != 42 {
		t.Fatalf("holding 5 = %d, want 42", got)
	}
}

func TestHandlePDUWriteSingleCoil(t *testing.T) {
	store := NewStore()

	on := []byte{fnWriteSingleCoil, 0x00, 0x03, 0xFF, 0x00}
	store.HandlePDU(on)
	if !store.Bit(model.Coil, 3) {
		t.Fatal("coil 3 should be on after FF00 write")
	}

	bad := []byte{fnWriteSingleCoil, 0x00, 0x03, 0x12, 0x34}
	resp := store.HandlePDU(bad)
	if resp[0] != fnWriteSingleCoil|0x80 {
		t.Fatalf("response = % X, want exception for invalid coil value", resp)
	}
}

func TestHandlePDUExceptions(t *testing.T) {
	store := NewStore()

	// Unsupported function code.
	resp := store.HandlePDU([]byte{0x10, 0x00, 0x00, 0x00, 0x01})
	if resp[0] != 0x90 || resp[1] != exIllegalFunction {
		t.Fatalf("response = % X, want illegal-function exception", resp)
	}

	// Oversized register read.
	resp = store.HandlePDU([]byte{fnReadHoldingRegs, 0x00, 0x00, 0x00, 0xFF})
	if resp[0] != fnReadHoldingRegs|0x80 || resp[1] != exIllegalDataVal {
		t.Fatalf("response = % X, want illegal-value exception for qty > 125", resp)
	}
}

func TestServeRTUStreamRoundTrip(t *testing.T) {
	store := NewStore()
	store.SetWord(model.Holding, 10, 0xBEEF)

	client, server := net.Pipe()
	defer client.Close()
	go func() {
		defer server.Close()
		ServeRTUStream(server, store, 1)
	}()

	// Read one holding register at 10 from unit 1.
	req := []byte{0x01, fnReadHoldingRegs, 0x00, 0x0A, 0x00, 0x01}
	crc := make([]byte, 2)
	binary.LittleEndian.PutUint16(crc, CRC16(req))
	req = append(req, crc...)

	client.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	// Response: addr, fn, bytecount, 2 data bytes, 2 crc bytes.
	resp := make([]byte, 7)
	if _, err := io.ReadFull(client, resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp[0] != 0x01 || resp[1] != fnReadHoldingRegs || resp[2] != 2 {
		t.Fatalf("response header = % X", resp[:3])
	}
	if binary.BigEndian.Uint16(resp[3:5]) != 0xBEEF {
		t.Fatalf("value = % X, want BEEF", resp[3:5])
	}
	if CRC16(resp[:5]) != binary.LittleEndian.Uint16(resp[5:7]) {
		t.Fatal("response CRC mismatch")
	}
}

func TestServeRTUStreamIgnoresForeignUnit(t *testing.T) {
	store := NewStore()
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		defer server.Close()
		ServeRTUStream(server, store, 1)
	}()

	// Addressed to unit 9; a unit-1 slave must stay silent.
	req := []byte{0x09, fnReadHoldingRegs, 0x00, 0x00, 0x00, 0x01}
	crc := make([]byte, 2)
	binary.LittleEndian.PutUint16(crc, CRC16(req))
	req = append(req, crc...)

	client.SetDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	buf := make([]byte, 1)
	if n, _ := client.Read(buf); n != 0 {
		t.Fatalf("slave answered a frame addressed to another unit")
	}
}

func TestApplyValuesRoundTripsThroughStore(t *testing.T) {
	pc := config.PortConfig{
		Name:             "port1",
		DefaultByteOrder: model.BigEndian,
		DefaultWordOrder: model.WordBigEndian,
		Devices: []config.DeviceConfig{{
			Name: "dev", Enabled: true,
			Registers: []config.RegisterConfig{
				{Kind: model.Holding, Address: 30, DataType: model.UInt16, Scale: 1},
				{Kind: model.Coil, Address: 2, DataType: model.Bool},
			},
		}},
	}
	store := NewStore()
	ApplyValues(store, pc, 0)

	if got, want := store.Word(model.Holding, 30), uint16(SyntheticValue(pc.Devices[0].Registers[0], 0)+0.5); got != want {
		t.Fatalf("holding 30 = %d, want %d", got, want)
	}
}
