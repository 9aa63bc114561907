package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/fieldwire/modbus-gateway/internal/bus"
	"github.com/fieldwire/modbus-gateway/internal/config"
	"github.com/fieldwire/modbus-gateway/internal/engine"
	"github.com/fieldwire/modbus-gateway/internal/gwlog"
	"github.com/fieldwire/modbus-gateway/internal/storage"
)

func main() {
	var (
		cfgPath       string
		dbPath        string
		listenAddr    string
		dev           bool
		statsInterval time.Duration
	)
	flag.StringVar(&cfgPath, "config", "config/gateway.yaml", "path to YAML gateway config")
	flag.StringVar(&dbPath, "db", "data/gateway.sqlite", "path to the SQLite database")
	flag.StringVar(&listenAddr, "listen", "127.0.0.1:8080", "HTTP listen address for /healthz and /ws/live")
	flag.BoolVar(&dev, "dev", false, "use development (console) logging")
	flag.DurationVar(&statsInterval, "stats-interval", time.Minute, "interval between persisted port statistics snapshots")
	flag.Parse()

	log := gwlog.New(dev)
	defer log.Sync()

	cfg, err := config.LoadYAML(cfgPath)
	if err != nil {
		log.Fatalw("load config", "path", cfgPath, "err", err)
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalw("open storage", "path", dbPath, "err", err)
	}
	defer store.Close()

	hub := bus.NewHub(time.Hour, log)
	go hub.Run()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	handle := engine.StartEngine(ctx, cfg, store, hub, log,
		engine.WithStatsSnapshots(store, statsInterval))

	app := fiber.New(fiber.Config{
		AppName:               "modbus-gateway",
		DisableStartupMessage: true,
	})
	app.Use(fiberrecover.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":     "ok",
			"ports":      len(handle.StatusAll()),
			"ws_clients": hub.ClientCount(),
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/live", websocket.New(hub.HandleWebSocket))

	go func() {
		if err := app.Listen(listenAddr); err != nil {
			log.Errorw("http listen failed", "addr", listenAddr, "err", err)
			cancel()
		}
	}()

	log.Infow("gateway started", "ports", len(cfg.Ports), "listen", listenAddr)

	<-ctx.Done()
	log.Infow("shutting down")

	if err := app.Shutdown(); err != nil {
		log.Warnw("http shutdown", "err", err)
	}
	engine.StopEngine(handle)
	hub.Stop()
	log.Infow("gateway stopped")
}
