package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-nvr-bridge/internal/api"
	"github.com/technosupport/ts-nvr-bridge/internal/bridge"
	"github.com/technosupport/ts-nvr-bridge/internal/bus"
	"github.com/technosupport/ts-nvr-bridge/internal/config"
	"github.com/technosupport/ts-nvr-bridge/internal/data"
	"github.com/technosupport/ts-nvr-bridge/internal/metrics"
	"github.com/technosupport/ts-nvr-bridge/internal/middleware"
)

const serviceName = "TS-NVR-Bridge"

func main() {
	configPath := os.Getenv("BRIDGE_CONFIG")
	if configPath == "" {
		configPath = "config/default.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	db, err := data.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()

	natsURL := cfg.Bus.URL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	nc, err := nats.Connect(natsURL, nats.Name(serviceName),
		nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		log.Fatalf("NATS Connect Failed: %v", err)
	}
	defer nc.Close()
	log.Printf("Connected to NATS at %s", natsURL)

	col := metrics.NewCollector()
	pub := bus.NewPublisher(nc, cfg.Bus.SubjectPrefix, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr, err := bridge.NewManager(ctx, cfg, db, pub, col)
	if err != nil {
		log.Fatalf("Bridge init error: %v", err)
	}
	mgr.Start()
	log.Printf("%s: %d instance(s) started", serviceName, len(cfg.Instances))

	config.StartWatcher(ctx, configPath, mgr.ApplyTunables)

	auth := middleware.NewJWTAuth(cfg.Server.JWTSecret)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(api.NewHandler(mgr, col), auth),
	}

	go func() {
		log.Printf("%s listening on %s", serviceName, cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for stop signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Printf("Stop requested")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Graceful shutdown error: %v", err)
	}
	mgr.Stop(shutdownCtx)
	log.Printf("%s stopped gracefully", serviceName)
}
