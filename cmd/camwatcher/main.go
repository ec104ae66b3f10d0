package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/analytics"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/config"
	"github.com/sentinelcam/sentinelcam/internal/csvwriter"
	"github.com/sentinelcam/sentinelcam/internal/health"
	"github.com/sentinelcam/sentinelcam/internal/ingest"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/service"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	configSvc, err := config.NewService(configPath, log)
	if err != nil {
		log.Error("Failed to initialize configuration service", "error", err)
		os.Exit(1)
	}
	cfg = configSvc.Get()

	log.Info("Starting camwatcher",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcMgr := service.NewManager(log)

	store := camstore.New(cfg.Ingest.CSVRoot, cfg.Ingest.ImageRoot)

	dispatcher := ingest.New(cfg.Ingest, log, store)
	svcMgr.Register(service.NewRunner("dispatcher", dispatcher.Run))

	if cfg.Scheduler.ResultAddr != "" {
		csv := csvwriter.New(store, log, 256)
		sub := analytics.New(log, store, csv)
		run := func(ctx context.Context) error {
			if err := sub.Dial(ctx, cfg.Scheduler.ResultAddr); err != nil {
				return err
			}
			defer sub.Close()
			return sub.Run(ctx)
		}
		svcMgr.Register(service.NewRunner("analytics", run))
	}

	healthMgr := health.NewManager(log, svcMgr, cfg.Ingest.ControlPort+100)
	healthMgr.RegisterChecker(&health.SystemChecker{})
	healthMgr.RegisterChecker(health.NewStorageRootChecker(cfg.Ingest.CSVRoot, cfg.Ingest.ImageRoot))
	for node, outpost := range cfg.Ingest.Outposts {
		healthMgr.RegisterChecker(health.NewBusChecker("outpost-"+node, outpost.ImagePublisher))
	}

	if err := healthMgr.Start(ctx, cfg); err != nil {
		log.Error("Failed to start health check server", "error", err)
		os.Exit(1)
	}

	if err := svcMgr.Start(ctx, cfg); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthMgr.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping health check server", "error", err)
	}

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}
