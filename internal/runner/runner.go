// Package runner implements the per-port loop that owns one Modbus
// transport, cycles through its devices sequentially, enforces the port's
// poll interval, and handles reconnect/backoff.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/gwerrors"
	"github.com/fieldwire/modbus-gateway/internal/model"
	"github.com/fieldwire/modbus-gateway/internal/poller"
	"github.com/fieldwire/modbus-gateway/internal/stats"
	"github.com/fieldwire/modbus-gateway/internal/transport"
	"go.uber.org/zap"
)

// interDeviceGap is the fixed settle time between devices on the same port,
// sized for serial links.
const interDeviceGap = 10 * time.Millisecond

// Bus is the fan-out contract a Runner publishes completed Samples to.
type Bus interface {
	Publish(deviceName string, sample model.Sample)
}

// Sink is the subset of the Write-Buffer contract a Runner appends to.
type Sink interface {
	Append(sample model.Sample)
}

// TransportFactory builds a fresh Transport for a port; invoked on every
// Connecting attempt so a prior failed/closed connection is never reused.
type TransportFactory func(config.PortConfig) (transport.Transport, error)

// Runner owns one port's transport and device cycle.
type Runner struct {
	cfg     config.PortConfig
	newTx   TransportFactory
	sink    Sink
	bus     Bus
	stats   *stats.Recorder
	log     *zap.SugaredLogger

	mu      sync.Mutex
	state   model.RunnerState
	retries int
	tx      transport.Transport

	// txMu serializes every Modbus transaction on this port's transport:
	// reads from pollCycle and writes routed in by the Engine Supervisor.
	// At most one transaction is in flight per port.
	txMu sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Runner for one port. newTx is called to construct the
// transport on every connect attempt (so the three wire variants stay
// swappable without the runner knowing which one it got).
func New(cfg config.PortConfig, newTx TransportFactory, sink Sink, bus Bus, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{
		cfg:    cfg,
		newTx:  newTx,
		sink:   sink,
		bus:    bus,
		stats:  stats.New(cfg.Name),
		log:    log,
		state:  model.Stopped,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Status returns a consistent snapshot of this port's current state. While
// the loop is operationally Running, the reported state is the health
// derived from the counters, so an error-dominated or device-less port
// surfaces as Error/Disconnected rather than Running.
func (r *Runner) Status() model.PortStatusView {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state == model.Running {
		state = r.stats.DeriveState()
	}
	return r.stats.Status(state)
}

// State returns the runner's current position in the state machine.
func (r *Runner) State() model.RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s model.RunnerState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Transport returns the runner's current live transport, or nil if not
// connected. Used by the Engine Supervisor to route write-register requests
// under the same single-transaction discipline as reads.
func (r *Runner) Transport() transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx
}

// Lock/Unlock expose the port's single-transaction discipline to the Engine
// Supervisor, so a WriteRegister call is serialized against the current
// device poll: never concurrently, always before or between polls.
func (r *Runner) Lock()   { r.txMu.Lock() }
func (r *Runner) Unlock() { r.txMu.Unlock() }

// Run drives the state machine until ctx is canceled or Stop is called. It
// is intended to be the body of the goroutine the Engine Supervisor spawns
// per enabled port.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.doneCh)

	for {
		select {
		case <-ctx.Done():
			r.setState(model.Stopped)
			return
		case <-r.stopCh:
			r.setState(model.Stopped)
			return
		default:
		}

		r.setState(model.Connecting)
		tx, err := r.connect()
		if err != nil {
			r.log.Warnw("port connect failed", "port", r.cfg.Name, "err", err)
			r.retries++
			if r.retries > r.cfg.MaxRetries {
				// Terminal until the supervisor restarts the port; the
				// state stays visible through Status.
				r.setState(model.RunnerError)
				r.log.Errorw("port exceeded max retries, entering error state", "port", r.cfg.Name, "retries", r.retries)
				return
			}
			r.setState(model.Backoff)
			if !r.sleep(ctx, r.cfg.RetryDelay) {
				r.setState(model.Stopped)
				return
			}
			continue
		}

		r.mu.Lock()
		r.tx = tx
		r.mu.Unlock()
		r.setState(model.Running)

		if !r.runConnected(ctx, tx) {
			r.setState(model.Stopped)
			return
		}
		// Connection lost mid-cycle: back off before reconnecting.
		r.setState(model.Backoff)
		if !r.sleep(ctx, r.cfg.RetryDelay) {
			r.setState(model.Stopped)
			return
		}
	}
}

func (r *Runner) connect() (transport.Transport, error) {
	tx, err := r.newTx(r.cfg)
	if err != nil {
		return nil, err
	}
	if err := tx.Connect(); err != nil {
		return nil, err
	}
	return tx, nil
}

// runConnected cycles devices until the connection is lost, the runner is
// stopped, or ctx is canceled. Returns false if the caller should stop
// entirely (ctx canceled / explicit stop); true if it should reconnect.
func (r *Runner) runConnected(ctx context.Context, tx transport.Transport) bool {
	minInterval := minDevicePollInterval(r.cfg.Devices)
	warnedSlowCycle := false

	for {
		select {
		case <-ctx.Done():
			r.closeTransport(tx)
			return false
		case <-r.stopCh:
			r.closeTransport(tx)
			return false
		default:
		}

		cycleStart := time.Now()
		connectionLost := r.pollCycle(ctx, tx)
		if connectionLost {
			r.stats.MarkDisconnected()
			r.closeTransport(tx)
			return true
		}

		cycleTime := time.Since(cycleStart)
		if cycleTime > minInterval {
			if !warnedSlowCycle {
				r.log.Warnw("poll cycle exceeded the port's minimum device interval", "port", r.cfg.Name,
					"cycleMs", cycleTime.Milliseconds(), "minIntervalMs", minInterval.Milliseconds())
				warnedSlowCycle = true
			}
			continue
		}
		warnedSlowCycle = false
		if !r.sleep(ctx, minInterval-cycleTime) {
			r.closeTransport(tx)
			return false
		}
	}
}

// pollCycle polls every enabled device once, in declaration order, with the
// fixed inter-device gap. Returns true if the transport's connection was
// lost mid-cycle (the caller should move the runner to Backoff).
func (r *Runner) pollCycle(ctx context.Context, tx transport.Transport) bool {
	for i, dev := range r.cfg.Devices {
		if !dev.Enabled {
			continue
		}
		select {
		case <-ctx.Done():
			return false
		case <-r.stopCh:
			return false
		default:
		}

		r.txMu.Lock()
		sample, err := poller.PollOnce(tx, r.cfg.Name, dev, r.cfg.DefaultByteOrder, r.cfg.DefaultWordOrder, r.log)
		r.txMu.Unlock()

		now := time.Now()
		if err != nil {
			r.stats.RecordFailure(dev.Name, err, now)
			if gwerrors.Is(err, gwerrors.ConnectionLost) {
				return true
			}
		} else {
			r.retries = 0
			r.stats.RecordSuccess(dev.Name, sample.PollDurationMs, now)
			r.sink.Append(sample)
			r.bus.Publish(dev.Name, sample)
		}

		if i < len(r.cfg.Devices)-1 {
			if !r.sleep(ctx, interDeviceGap) {
				return false
			}
		}
	}
	return false
}

func (r *Runner) closeTransport(tx transport.Transport) {
	if err := tx.Close(); err != nil {
		r.log.Warnw("transport close failed", "port", r.cfg.Name, "err", err)
	}
	r.mu.Lock()
	r.tx = nil
	r.mu.Unlock()
}

// sleep blocks for d, honoring ctx cancellation and an explicit Stop.
// Returns false if the wait was cut short by cancellation/stop.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	}
}

// Stop signals the runner to exit at its next suspension point and blocks
// until it has. The final action before returning is always
// transport.Close(), performed inside Run/runConnected.
func (r *Runner) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
}

// minDevicePollInterval is the minimum pollInterval across a port's enabled
// devices, the interval the post-cycle sleep is measured against.
func minDevicePollInterval(devices []config.DeviceConfig) time.Duration {
	var min time.Duration
	for _, d := range devices {
		if !d.Enabled {
			continue
		}
		if min == 0 || d.PollInterval < min {
			min = d.PollInterval
		}
	}
	if min <= 0 {
		min = 10 * time.Millisecond
	}
	return min
}
