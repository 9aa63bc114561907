// simd serves simulated Modbus slaves for every TCP-reachable port in a
// gateway config, so the gateway can be run end to end without field
// hardware. Serial endpoints are mocked separately by mocktty.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/gwlog"
	"github.com/fieldwire/modbus-gateway/internal/sim"
)

func main() {
	var (
		cfgPath string
		dev     bool
	)
	flag.StringVar(&cfgPath, "config", "config/gateway.yaml", "path to YAML gateway config")
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

	mgr := sim.NewManager(cfg, log)
	if err := mgr.Run(ctx); err != nil {
		log.Fatalw("simulator exited", "err", err)
	}
}
