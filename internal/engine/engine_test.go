package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/gwerrors"
	"github.com/fieldwire/modbus-gateway/internal/model"
	"github.com/fieldwire/modbus-gateway/internal/transport"
)

// memTransport answers reads with zeroes and records writes.
type memTransport struct {
	mu        sync.Mutex
	connected bool
	writes    []writeOp
}

type writeOp struct {
	unit    uint8
	address uint16
	word    uint16
	coil    bool
	isCoil  bool
}

func (m *memTransport) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *memTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *memTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *memTransport) ReadBlock(unit uint8, kind model.RegisterKind, start, count uint16) (transport.ReadResult, error) {
	if kind == model.Coil || kind == model.Discrete {
		return transport.ReadResult{Bits: make([]bool, count)}, nil
	}
	return transport.ReadResult{Words: make([]uint16, count)}, nil
}

func (m *memTransport) WriteRegister(unit uint8, address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, writeOp{unit: unit, address: address, word: value})
	return nil
}

func (m *memTransport) WriteCoil(unit uint8, address uint16, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, writeOp{unit: unit, address: address, coil: value, isCoil: true})
	return nil
}

type memSink struct {
	mu      sync.Mutex
	samples []model.Sample
}

func (m *memSink) SaveReading(s model.Sample) error {
	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.mu.Unlock()
	return nil
}

type memBus struct {
	mu        sync.Mutex
	published int
}

func (m *memBus) Publish(string, model.Sample) {
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
}

func (m *memBus) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

type statsRecorderSink struct {
	mu    sync.Mutex
	calls int
}

func (s *statsRecorderSink) SavePortStats(string, time.Time, model.PortStatusView) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil
}

func testConfig() config.AppConfig {
	return config.AppConfig{
		Ports: []config.PortConfig{
			{
				Name:       "port1",
				Transport:  config.TCP,
				Host:       "127.0.0.1",
				Port:       1502,
				Timeout:    time.Second,
				MaxRetries: 3,
				RetryDelay: 10 * time.Millisecond,
				Enabled:    true,
				Devices: []config.DeviceConfig{
					{
						Name:         "meter",
						UnitAddress:  7,
						PollInterval: 20 * time.Millisecond,
						Timeout:      time.Second,
						Enabled:      true,
						Registers: []config.RegisterConfig{
							{Kind: model.Holding, Address: 0, Name: "r0", DataType: model.UInt16, Scale: 1},
							{Kind: model.Input, Address: 5, Name: "r5", DataType: model.UInt16, Scale: 1, ReadOnly: true},
							{Kind: model.Coil, Address: 2, Name: "c2", DataType: model.Bool},
						},
					},
				},
			},
		},
	}
}

func startTestEngine(t *testing.T, tx *memTransport) (*Handle, *memSink, *memBus) {
	t.Helper()
	sink := &memSink{}
	bus := &memBus{}
	h := StartEngine(context.Background(), testConfig(), sink, bus, nil,
		WithTransportFactory(func(config.PortConfig) (transport.Transport, error) { return tx, nil }))
	t.Cleanup(func() { StopEngine(h) })
	return h, sink, bus
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEnginePollsAndPublishes(t *testing.T) {
	tx := &memTransport{}
	h, _, bus := startTestEngine(t, tx)

	waitFor(t, "published samples", func() bool { return bus.count() >= 2 })

	view, ok := h.Status("port1")
	if !ok {
		t.Fatal("Status(port1) not found")
	}
	if view.State != model.Running {
		t.Fatalf("state = %v, want Running", view.State)
	}
	if view.SuccessfulPolls == 0 {
		t.Fatal("no successful polls recorded")
	}
	if len(view.ConnectedDevices) != 1 || view.ConnectedDevices[0] != "meter" {
		t.Fatalf("connected devices = %v, want [meter]", view.ConnectedDevices)
	}

	all := h.StatusAll()
	if len(all) != 1 {
		t.Fatalf("StatusAll returned %d ports, want 1", len(all))
	}
}

func TestEngineWriteRouting(t *testing.T) {
	tx := &memTransport{}
	h, _, bus := startTestEngine(t, tx)
	waitFor(t, "engine running", func() bool { return bus.count() >= 1 })

	err := h.WriteRegister(WriteRequest{
		PortName: "port1", DeviceName: "meter", Kind: model.Holding, Address: 3, Value: 99,
	})
	if err != nil {
		t.Fatalf("holding write failed: %v", err)
	}

	err = h.WriteRegister(WriteRequest{
		PortName: "port1", DeviceName: "meter", Kind: model.Coil, Address: 2, Value: true,
	})
	if err != nil {
		t.Fatalf("coil write failed: %v", err)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if len(tx.writes) != 2 {
		t.Fatalf("recorded %d writes, want 2", len(tx.writes))
	}
	if w := tx.writes[0]; w.unit != 7 || w.address != 3 || w.word != 99 {
		t.Fatalf("holding write = %+v, want unit=7 addr=3 value=99", w)
	}
	if w := tx.writes[1]; !w.isCoil || !w.coil {
		t.Fatalf("coil write = %+v, want coil on", w)
	}
}

func TestEngineWriteErrors(t *testing.T) {
	tx := &memTransport{}
	h, _, bus := startTestEngine(t, tx)
	waitFor(t, "engine running", func() bool { return bus.count() >= 1 })

	cases := []struct {
		name string
		req  WriteRequest
		kind gwerrors.Kind
	}{
		{"unknown port", WriteRequest{PortName: "nope", DeviceName: "meter", Kind: model.Holding, Value: 1}, gwerrors.UnknownPort},
		{"unknown device", WriteRequest{PortName: "port1", DeviceName: "nope", Kind: model.Holding, Value: 1}, gwerrors.UnknownDevice},
		{"input is read-only", WriteRequest{PortName: "port1", DeviceName: "meter", Kind: model.Input, Address: 5, Value: 1}, gwerrors.ReadOnlyRegister},
		{"discrete is read-only", WriteRequest{PortName: "port1", DeviceName: "meter", Kind: model.Discrete, Address: 0, Value: true}, gwerrors.ReadOnlyRegister},
		{"bad holding value", WriteRequest{PortName: "port1", DeviceName: "meter", Kind: model.Holding, Address: 0, Value: "nan"}, gwerrors.ConfigInvalid},
		{"holding value out of range", WriteRequest{PortName: "port1", DeviceName: "meter", Kind: model.Holding, Address: 0, Value: 70000}, gwerrors.ConfigInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.WriteRegister(tc.req)
			if !gwerrors.Is(err, tc.kind) {
				t.Fatalf("error = %v, want kind %s", err, tc.kind)
			}
		})
	}
}

func TestEngineStopFlushesBuffer(t *testing.T) {
	tx := &memTransport{}
	sink := &memSink{}
	bus := &memBus{}
	h := StartEngine(context.Background(), testConfig(), sink, bus, nil,
		WithTransportFactory(func(config.PortConfig) (transport.Transport, error) { return tx, nil }))

	waitFor(t, "published samples", func() bool { return bus.count() >= 2 })
	StopEngine(h)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.samples) == 0 {
		t.Fatal("no samples persisted after StopEngine's final flush")
	}
}

func TestEngineStatsSnapshots(t *testing.T) {
	tx := &memTransport{}
	sink := &memSink{}
	bus := &memBus{}
	stats := &statsRecorderSink{}
	h := StartEngine(context.Background(), testConfig(), sink, bus, nil,
		WithTransportFactory(func(config.PortConfig) (transport.Transport, error) { return tx, nil }),
		WithStatsSnapshots(stats, time.Second))
	defer StopEngine(h)

	waitFor(t, "stats snapshot", func() bool {
		stats.mu.Lock()
		defer stats.mu.Unlock()
		return stats.calls >= 1
	})
}

func TestEngineDisabledPortNotStarted(t *testing.T) {
	cfg := testConfig()
	cfg.Ports[0].Enabled = false
	h := StartEngine(context.Background(), cfg, &memSink{}, &memBus{}, nil,
		WithTransportFactory(func(config.PortConfig) (transport.Transport, error) {
			t.Fatal("transport built for disabled port")
			return nil, nil
		}))
	defer StopEngine(h)

	if _, ok := h.Status("port1"); ok {
		t.Fatal("disabled port appears in Status")
	}
	if len(h.StatusAll()) != 0 {
		t.Fatal("disabled port appears in StatusAll")
	}
}
