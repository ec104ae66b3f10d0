// Command imagewriter is the standalone per-view image writer: an
// alternative to running imagewriter.Writer as a goroutine inside the
// camwatcher dispatcher, for operators who want OS-process isolation per
// camera view. It dials its outpost's image feed directly and exposes a
// remote start/stop control socket in place of the dispatcher's direct
// method calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/config"
	"github.com/sentinelcam/sentinelcam/internal/health"
	"github.com/sentinelcam/sentinelcam/internal/imagewriter"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/service"
)

func main() {
	var configPath, node, controlAddr string
	var sampleEvery int
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.StringVar(&node, "node", "", "Outpost node name, from ingest.outposts")
	flag.StringVar(&controlAddr, "control", "127.0.0.1:0", "Remote start/stop control socket address")
	flag.IntVar(&sampleEvery, "sample-every", 1, "Persist every Nth frame while active")
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

	outpost, ok := cfg.Ingest.Outposts[node]
	if !ok {
		log.Error("Unknown outpost node", "node", node)
		os.Exit(1)
	}

	log.Info("Starting standalone image writer", "node", node, "outpost", outpost.ImagePublisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := camstore.New(cfg.Ingest.CSVRoot, cfg.Ingest.ImageRoot)

	sub, err := bus.DialSub(ctx, outpost.ImagePublisher, "")
	if err != nil {
		log.Error("Failed to dial outpost image feed", "error", err)
		os.Exit(1)
	}

	writer := imagewriter.NewFromSub(store, log, sub, sampleEvery)

	ctrl, err := imagewriter.ListenControl(controlAddr, writer)
	if err != nil {
		log.Error("Failed to start control socket", "error", err)
		os.Exit(1)
	}
	log.Info("Image writer control socket listening", "addr", ctrl.Addr().String())

	svcMgr := service.NewManager(log)
	run := func(ctx context.Context) error {
		defer ctrl.Close()
		return writer.Run(ctx)
	}
	svcMgr.Register(service.NewRunner("imagewriter-"+node, run))

	healthMgr := health.NewManager(log, svcMgr, 0)
	healthMgr.RegisterChecker(&health.SystemChecker{})
	healthMgr.RegisterChecker(health.NewBusChecker("outpost-feed", outpost.ImagePublisher))

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
