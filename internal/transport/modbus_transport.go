package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/gwerrors"
	"github.com/fieldwire/modbus-gateway/internal/model"
	mb "github.com/simonvetter/modbus"
	"go.bug.st/serial"
)

// modbusTransport adapts a github.com/simonvetter/modbus Client to the
// Transport capability set. One instance is owned exclusively by one Port
// Runner; it is not safe for concurrent use from multiple goroutines (the
// runner serializes all reads/writes onto one transaction at a time).
type modbusTransport struct {
	client    *mb.Client
	connected bool
}

// NewTCP builds a Transport speaking standard Modbus/TCP (MBAP framing) to
// host:port.
func NewTCP(host string, port int, timeout time.Duration) (Transport, error) {
	return newClientTransport(fmt.Sprintf("tcp://%s:%d", host, port), timeout, nil)
}

// NewRTUOverTCP builds a Transport speaking Modbus/RTU framing (address,
// function code, payload, CRC-16) carried directly over a TCP stream with no
// MBAP header.
func NewRTUOverTCP(host string, port int, timeout time.Duration) (Transport, error) {
	return newClientTransport(fmt.Sprintf("rtuovertcp://%s:%d", host, port), timeout, nil)
}

// NewRTUSerial builds a Transport speaking Modbus/RTU over a local serial
// line.
func NewRTUSerial(pc config.PortConfig) (Transport, error) {
	configure := func(conf *mb.Configuration) {
		conf.Speed = pc.BaudRate
		conf.DataBits = pc.ByteSize
		conf.StopBits = serialStopBits(pc.StopBits)
		conf.Parity = serialParity(pc.Parity)
	}
	return newClientTransport(fmt.Sprintf("rtu://%s", pc.Device), pc.Timeout, configure)
}

func serialParity(p config.Parity) serial.Parity {
	switch p {
	case config.ParityEven:
		return serial.EvenParity
	case config.ParityOdd:
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func serialStopBits(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

func newClientTransport(url string, timeout time.Duration, configure func(*mb.Configuration)) (Transport, error) {
	conf := &mb.Configuration{
		URL:     url,
		Timeout: timeout,
	}
	if configure != nil {
		configure(conf)
	}
	c, err := mb.NewClient(conf)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ConfigInvalid, "build modbus client", err)
	}
	return &modbusTransport{client: c}, nil
}

func (t *modbusTransport) Connect() error {
	if err := t.client.Open(); err != nil {
		t.connected = false
		return mapConnectError(err)
	}
	t.connected = true
	return nil
}

func (t *modbusTransport) Close() error {
	t.connected = false
	return t.client.Close()
}

func (t *modbusTransport) IsConnected() bool {
	return t.connected
}

func (t *modbusTransport) ReadBlock(unit uint8, kind model.RegisterKind, start, count uint16) (ReadResult, error) {
	opt := mb.WithUnitID(unit)
	switch kind {
	case model.Holding:
		b, err := t.client.ReadRawBytes(start, count, mb.HoldingRegister, opt)
		if err != nil {
			return ReadResult{}, t.mapIOError(err)
		}
		return ReadResult{Words: bytesToWords(b)}, nil
	case model.Input:
		b, err := t.client.ReadRawBytes(start, count, mb.InputRegister, opt)
		if err != nil {
			return ReadResult{}, t.mapIOError(err)
		}
		return ReadResult{Words: bytesToWords(b)}, nil
	case model.Coil:
		bits, err := t.client.ReadCoils(start, count, opt)
		if err != nil {
			return ReadResult{}, t.mapIOError(err)
		}
		return ReadResult{Bits: bits}, nil
	case model.Discrete:
		bits, err := t.client.ReadDiscreteInputs(start, count, opt)
		if err != nil {
			return ReadResult{}, t.mapIOError(err)
		}
		return ReadResult{Bits: bits}, nil
	default:
		return ReadResult{}, gwerrors.New(gwerrors.DecodeError, "unknown register kind")
	}
}

func (t *modbusTransport) WriteRegister(unit uint8, address uint16, value uint16) error {
	if err := t.client.WriteRegister(address, value, mb.WithUnitID(unit)); err != nil {
		return t.mapIOError(err)
	}
	return nil
}

func (t *modbusTransport) WriteCoil(unit uint8, address uint16, value bool) error {
	if err := t.client.WriteCoil(address, value, mb.WithUnitID(unit)); err != nil {
		return t.mapIOError(err)
	}
	return nil
}

func bytesToWords(b []byte) []uint16 {
	words := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		words = append(words, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return words
}

// mapIOError classifies a simonvetter/modbus error into the gateway's
// taxonomy; on anything that looks like a lost connection it also
// marks the transport disconnected so the Port Runner's state machine moves
// to Backoff rather than retrying reads on a dead socket.
func (t *modbusTransport) mapIOError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mb.ErrRequestTimedOut):
		return gwerrors.Wrap(gwerrors.Timeout, "modbus request timed out", err)
	case errors.Is(err, mb.ErrIllegalFunction),
		errors.Is(err, mb.ErrIllegalDataAddress),
		errors.Is(err, mb.ErrIllegalDataValue),
		errors.Is(err, mb.ErrServerDeviceFailure),
		errors.Is(err, mb.ErrServerDeviceBusy),
		errors.Is(err, mb.ErrAcknowledge),
		errors.Is(err, mb.ErrMemoryParityError),
		errors.Is(err, mb.ErrGWPathUnavailable),
		errors.Is(err, mb.ErrGWTargetFailedToRespond):
		return gwerrors.Wrap(gwerrors.ProtocolException, "modbus exception response", err)
	case errors.Is(err, mb.ErrBadCRC), errors.Is(err, mb.ErrShortFrame), errors.Is(err, mb.ErrProtocolError):
		return gwerrors.Wrap(gwerrors.DecodeError, "malformed modbus frame", err)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			t.connected = false
			return gwerrors.Wrap(gwerrors.ConnectionLost, "transport i/o error", err)
		}
		t.connected = false
		return gwerrors.Wrap(gwerrors.ConnectionLost, "transport error", err)
	}
}

func mapConnectError(err error) error {
	return gwerrors.Wrap(gwerrors.ConnectionLost, "connect failed", err)
}
