// mocktty mocks the serial side of a gateway config: for every rtu_serial
// port it creates a virtual serial pair (via socat), opens the peer end, and
// answers Modbus/RTU requests from an in-memory register store seeded from
// the same register configuration the gateway polls. The gateway opens the
// configured device path as if a real RS-485 adapter were attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/gwlog"
	"github.com/fieldwire/modbus-gateway/internal/sim"
	"github.com/fieldwire/modbus-gateway/internal/utils"
)

func main() {
	var (
		cfgPath    string
		spawnSocat bool
		dev        bool
	)
	flag.StringVar(&cfgPath, "config", "config/gateway.yaml", "path to YAML gateway config")
	flag.BoolVar(&spawnSocat, "spawn-socat", true, "create the virtual serial pair with socat")
	flag.BoolVar(&dev, "dev", true, "use development (console) logging")
	flag.Parse()

	log := gwlog.New(dev)
	defer log.Sync()

	cfg, err := config.LoadYAML(cfgPath)
	if err != nil {
		log.Fatalw("load config", "path", cfgPath, "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	served := 0
	for _, pc := range cfg.Ports {
		if !pc.Enabled || pc.Transport != config.RtuSerial {
			continue
		}
		served++
		wg.Add(1)
		go func(pc config.PortConfig) {
			defer wg.Done()
			if err := serveSerialPort(ctx, pc, spawnSocat, log); err != nil {
				log.Errorw("serial mock exited", "port", pc.Name, "err", err)
			}
		}(pc)
	}
	if served == 0 {
		log.Fatalw("config has no enabled rtu_serial ports to mock", "path", cfgPath)
	}

	wg.Wait()
}

// serveSerialPort stands in for one rtu_serial port: the gateway opens
// pc.Device, this process opens its peer, and every unit on the port is
// answered from one shared store.
func serveSerialPort(ctx context.Context, pc config.PortConfig, spawnSocat bool, log *zap.SugaredLogger) error {
	peerPath := pc.Device + "-peer"

	var socatCmd *exec.Cmd
	if spawnSocat {
		socatCmd = utils.BuildSocatPairCmd(ctx, utils.SocatPair{Link: pc.Device, Peer: peerPath})
		socatCmd.Stdout = os.Stdout
		socatCmd.Stderr = os.Stderr
		if err := socatCmd.Start(); err != nil {
			return fmt.Errorf("start socat: %w", err)
		}
		log.Infow("spawned socat pair", "port", pc.Name, "link", pc.Device, "peer", peerPath, "pid", socatCmd.Process.Pid)
		// Give socat a moment to create the pty nodes.
		time.Sleep(400 * time.Millisecond)
	}

	rw, err := utils.OpenSerial(utils.SerialParams{
		Address:  peerPath,
		BaudRate: pc.BaudRate,
		DataBits: pc.ByteSize,
		StopBits: pc.StopBits,
		Parity:   parityLetter(pc.Parity),
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open serial %s: %w", peerPath, err)
	}
	defer rw.Close()

	store := sim.NewStore()
	sim.ApplyValues(store, pc, 0)

	log.Infow("serial mock listening", "port", pc.Name, "device", peerPath,
		"baud", pc.BaudRate, "parity", parityLetter(pc.Parity), "stopbits", pc.StopBits)

	go refreshLoop(ctx, store, pc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Unit 0 answers any slave address: one store serves every device
		// configured on the port.
		sim.ServeRTUStream(rw, store, 0)
	}()

	<-ctx.Done()
	rw.Close()
	if socatCmd != nil && socatCmd.Process != nil {
		_ = socatCmd.Process.Signal(syscall.SIGTERM)
		killed := make(chan struct{})
		go func() { _ = socatCmd.Wait(); close(killed) }()
		select {
		case <-killed:
		case <-time.After(2 * time.Second):
			_ = socatCmd.Process.Kill()
		}
	}
	<-done
	return nil
}

func refreshLoop(ctx context.Context, store *sim.Store, pc config.PortConfig) {
	interval := 3 * time.Second
	for _, d := range pc.Devices {
		if d.Enabled && d.PollInterval > 0 && d.PollInterval < interval {
			interval = d.PollInterval
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			sim.ApplyValues(store, pc, tick)
		}
	}
}

func parityLetter(p config.Parity) string {
	switch p {
	case config.ParityEven:
		return "E"
	case config.ParityOdd:
		return "O"
	default:
		return "N"
	}
}
