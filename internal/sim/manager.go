package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/model"
)

// Manager spins up one simulated slave endpoint per enabled TCP-reachable
// port in a gateway configuration, seeds every configured register with a
// deterministic value, and refreshes the values periodically so polled data
// visibly moves.
type Manager struct {
	cfg config.AppConfig
	log *zap.SugaredLogger

	mu      sync.Mutex
	servers map[string]*Server
}

// NewManager builds a manager for cfg. Serial ports are skipped (a TCP
// listener can't stand in for a tty; see cmd/mocktty for the serial mock).
func NewManager(cfg config.AppConfig, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{cfg: cfg, log: log, servers: make(map[string]*Server)}
}

// Server returns the running server for a port, or nil.
func (m *Manager) Server(portName string) *Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.servers[portName]
}

// Run starts all endpoints and blocks until ctx is canceled, then shuts
// every server down.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, pc := range m.cfg.Ports {
		if !pc.Enabled {
			continue
		}

		var framing Framing
		switch pc.Transport {
		case config.TCP:
			framing = FramingMBAP
		case config.RtuOverTCP:
			framing = FramingRTU
		case config.RtuSerial:
			m.log.Infow("skipping serial port, use mocktty for serial endpoints", "port", pc.Name)
			continue
		}

		store := NewStore()
		seedStore(store, pc)

		srv := NewServer(store, framing, 0)
		addr := fmt.Sprintf("%s:%d", pc.Host, pc.Port)
		if err := srv.Listen(addr); err != nil {
			m.log.Errorw("sim listen failed", "port", pc.Name, "addr", addr, "err", err)
			continue
		}
		m.log.Infow("sim slave listening", "port", pc.Name, "addr", srv.Addr().String(), "framing", framing)

		m.mu.Lock()
		m.servers[pc.Name] = srv
		m.mu.Unlock()

		wg.Add(1)
		go func(pc config.PortConfig, store *Store) {
			defer wg.Done()
			m.refreshLoop(ctx, pc, store)
		}(pc, store)
	}

	<-ctx.Done()

	m.mu.Lock()
	for name, srv := range m.servers {
		srv.Close()
		delete(m.servers, name)
	}
	m.mu.Unlock()

	wg.Wait()
	return nil
}

// refreshLoop re-seeds a port's registers on a timer, drifting each value a
// little so successive polls observe change.
func (m *Manager) refreshLoop(ctx context.Context, pc config.PortConfig, store *Store) {
	interval := refreshInterval(pc)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			ApplyValues(store, pc, tick)
		}
	}
}

// refreshInterval tracks the fastest device on the port so every poll cycle
// can observe fresh values.
func refreshInterval(pc config.PortConfig) time.Duration {
	min := 3 * time.Second
	for _, d := range pc.Devices {
		if d.Enabled && d.PollInterval > 0 && d.PollInterval < min {
			min = d.PollInterval
		}
	}
	return min
}

func seedStore(store *Store, pc config.PortConfig) {
	ApplyValues(store, pc, 0)
}

// ApplyValues writes a deterministic waveform into every configured
// register: a per-address base plus a slow sine drift scaled by tick.
// Shared with the serial mock, which drives its own store the same way.
func ApplyValues(store *Store, pc config.PortConfig, tick int) {
	for _, dev := range pc.Devices {
		for _, reg := range dev.Registers {
			value := SyntheticValue(reg, tick)
			_ = store.SetValue(value, reg, pc.DefaultByteOrder, pc.DefaultWordOrder)
		}
	}
}

// SyntheticValue is the waveform behind ApplyValues.
func SyntheticValue(reg config.RegisterConfig, tick int) float64 {
	if reg.DataType == model.Bool {
		if (int(reg.Address)+tick)%2 == 0 {
			return 1
		}
		return 0
	}
	base := float64(reg.Address % 100)
	drift := 10 * math.Sin(float64(tick)/10+float64(reg.Address))
	return base + drift
}
