// Package engine implements the supervisor: it starts one Port Runner per
// enabled port, owns the single shared Write-Buffer, services
// write-register requests by routing them to the owning runner's transport,
// and exposes status.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/gwerrors"
	"github.com/fieldwire/modbus-gateway/internal/model"
	"github.com/fieldwire/modbus-gateway/internal/runner"
	"github.com/fieldwire/modbus-gateway/internal/transport"
	"github.com/fieldwire/modbus-gateway/internal/writebuffer"
)

// WriteRequest is one control-plane write issued through the supervisor.
type WriteRequest struct {
	PortName   string
	DeviceName string
	Kind       model.RegisterKind
	Address    uint16
	Value      any // bool for Coil/Discrete, numeric for Holding
}

// StatsSink receives the supervisor's periodic per-port statistics
// snapshots.
type StatsSink interface {
	SavePortStats(portName string, at time.Time, snapshot model.PortStatusView) error
}

// Handle is the external-facing handle returned by StartEngine.
type Handle struct {
	runners map[string]*runner.Runner
	devices map[string]map[string]config.DeviceConfig // port -> device name -> config
	buffer  *writebuffer.Buffer
	log     *zap.SugaredLogger

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures optional supervisor behavior at StartEngine.
type Option func(*startOptions)

type startOptions struct {
	statsSink     StatsSink
	statsInterval time.Duration
	bufferOpts    []writebuffer.Option
	newTransport  runner.TransportFactory
}

// WithTransportFactory overrides how port transports are built; tests use it
// to substitute instrumented fakes for real Modbus clients.
func WithTransportFactory(f runner.TransportFactory) Option {
	return func(o *startOptions) { o.newTransport = f }
}

// WithStatsSnapshots schedules a periodic snapshot of every port's
// statistics into sink, timestamped at snapshot time.
func WithStatsSnapshots(sink StatsSink, every time.Duration) Option {
	return func(o *startOptions) {
		o.statsSink = sink
		o.statsInterval = every
	}
}

// WithBufferOptions forwards options to the shared Write-Buffer.
func WithBufferOptions(opts ...writebuffer.Option) Option {
	return func(o *startOptions) { o.bufferOpts = append(o.bufferOpts, opts...) }
}

// newTransport builds the concrete transport.Transport for a port's
// configured wire variant.
func newTransport(pc config.PortConfig) (transport.Transport, error) {
	switch pc.Transport {
	case config.TCP:
		return transport.NewTCP(pc.Host, pc.Port, pc.Timeout)
	case config.RtuOverTCP:
		return transport.NewRTUOverTCP(pc.Host, pc.Port, pc.Timeout)
	case config.RtuSerial:
		return transport.NewRTUSerial(pc)
	default:
		return nil, gwerrors.New(gwerrors.ConfigInvalid, "unknown transport variant")
	}
}

// StartEngine starts one Port Runner per enabled port and the shared
// Write-Buffer's background flusher.
func StartEngine(ctx context.Context, cfg config.AppConfig, sink writebuffer.Persistence, bus runner.Bus, log *zap.SugaredLogger, opts ...Option) *Handle {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var so startOptions
	for _, opt := range opts {
		opt(&so)
	}
	engineCtx, cancel := context.WithCancel(ctx)

	bufOpts := append([]writebuffer.Option{writebuffer.WithLogger(log)}, so.bufferOpts...)
	h := &Handle{
		runners: make(map[string]*runner.Runner),
		devices: make(map[string]map[string]config.DeviceConfig),
		buffer:  writebuffer.New(engineCtx, sink, bufOpts...),
		log:     log,
		cancel:  cancel,
	}

	factory := so.newTransport
	if factory == nil {
		factory = newTransport
	}
	for _, pc := range cfg.Ports {
		if !pc.Enabled {
			continue
		}
		rn := runner.New(pc, factory, h.buffer, bus, log)
		h.runners[pc.Name] = rn

		byName := make(map[string]config.DeviceConfig, len(pc.Devices))
		for _, d := range pc.Devices {
			byName[d.Name] = d
		}
		h.devices[pc.Name] = byName

		h.wg.Add(1)
		go func(rn *runner.Runner) {
			defer h.wg.Done()
			rn.Run(engineCtx)
		}(rn)
	}

	if so.statsSink != nil {
		interval := so.statsInterval
		if interval <= 0 {
			interval = time.Minute
		}
		h.cron = cron.New()
		h.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
			h.snapshotStats(so.statsSink)
		})
		h.cron.Start()
	}

	return h
}

// snapshotStats copies every port's current statistics into the sink,
// timestamped at snapshot time.
func (h *Handle) snapshotStats(sink StatsSink) {
	at := time.Now()
	for name, view := range h.StatusAll() {
		if err := sink.SavePortStats(name, at, view); err != nil {
			h.log.Warnw("save port stats failed", "port", name, "err", err)
		}
	}
}

// StopEngine signals every Port Runner to stop, waits for all of them to
// exit, then performs the final Write-Buffer flush.
func StopEngine(h *Handle) {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
	h.cancel()
	for _, rn := range h.runners {
		rn.Stop()
	}
	h.wg.Wait()
	h.buffer.Stop()
}

// Status returns the named port's current health snapshot, or false if no
// such port is running.
func (h *Handle) Status(portName string) (model.PortStatusView, bool) {
	rn, ok := h.runners[portName]
	if !ok {
		return model.PortStatusView{}, false
	}
	return rn.Status(), true
}

// StatusAll returns every running port's current health snapshot.
func (h *Handle) StatusAll() map[string]model.PortStatusView {
	out := make(map[string]model.PortStatusView, len(h.runners))
	for name, rn := range h.runners {
		out[name] = rn.Status()
	}
	return out
}

// WriteRegister resolves the target port/device, serializes the write
// against that port's current poll cycle, and issues it through
// the port's transport. Writes to Input/Discrete kinds are rejected as
// ReadOnlyRegister.
func (h *Handle) WriteRegister(req WriteRequest) error {
	rn, ok := h.runners[req.PortName]
	if !ok {
		return gwerrors.New(gwerrors.UnknownPort, req.PortName)
	}
	dev, ok := h.devices[req.PortName][req.DeviceName]
	if !ok {
		return gwerrors.New(gwerrors.UnknownDevice, req.DeviceName)
	}
	if req.Kind == model.Input || req.Kind == model.Discrete {
		return gwerrors.New(gwerrors.ReadOnlyRegister, req.DeviceName)
	}

	rn.Lock()
	defer rn.Unlock()

	tx := rn.Transport()
	if tx == nil || !tx.IsConnected() {
		return gwerrors.New(gwerrors.ConnectionLost, "port has no live transport")
	}

	switch req.Kind {
	case model.Holding:
		word, err := coerceWord(req.Value)
		if err != nil {
			return err
		}
		return tx.WriteRegister(dev.UnitAddress, req.Address, word)
	case model.Coil:
		b, ok := req.Value.(bool)
		if !ok {
			return gwerrors.New(gwerrors.ConfigInvalid, "coil write requires a bool value")
		}
		return tx.WriteCoil(dev.UnitAddress, req.Address, b)
	default:
		return gwerrors.New(gwerrors.ReadOnlyRegister, req.DeviceName)
	}
}

// coerceWord accepts the numeric shapes a caller plausibly hands in (JSON
// decodes numbers as float64, CLI parsing yields ints) and narrows them to
// one register word.
func coerceWord(v any) (uint16, error) {
	switch n := v.(type) {
	case uint16:
		return n, nil
	case int:
		if n < 0 || n > 0xFFFF {
			return 0, gwerrors.New(gwerrors.ConfigInvalid, "register value outside 0..65535")
		}
		return uint16(n), nil
	case int64:
		if n < 0 || n > 0xFFFF {
			return 0, gwerrors.New(gwerrors.ConfigInvalid, "register value outside 0..65535")
		}
		return uint16(n), nil
	case float64:
		if n < 0 || n > 0xFFFF || n != float64(uint16(n)) {
			return 0, gwerrors.New(gwerrors.ConfigInvalid, "register value is not a 16-bit integer")
		}
		return uint16(n), nil
	default:
		return 0, gwerrors.New(gwerrors.ConfigInvalid, "holding write requires a numeric value")
	}
}
