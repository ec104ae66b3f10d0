// Command taskengine is the analytics worker subprocess spawned by the
// scheduler (internal/jobmanager) for each configured engine. It attaches to
// the ring-buffer set the job manager already created for it and serves
// jobs pushed to its intake queue until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/config"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/ringbuffer"
	"github.com/sentinelcam/sentinelcam/internal/service"
	"github.com/sentinelcam/sentinelcam/internal/taskengine"
)

func main() {
	var name, configPath, ringWire, ringDir string
	flag.StringVar(&name, "name", "", "Engine catalog name")
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&ringWire, "ring-wire", "", "Ring-wire control address serving frames to this engine")
	flag.StringVar(&ringDir, "ring-dir", "", "Directory holding this engine's ring-buffer files")
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

	item, ok := cfg.Scheduler.Engines[name]
	if !ok {
		log.Error("Unknown engine catalog entry", "name", name)
		os.Exit(1)
	}
	ringModel := cfg.Scheduler.RingModels[item.RingBuffers]

	log.Info("Starting task engine", "name", name, "ring_wire", ringWire, "ring_dir", ringDir)

	ringSet, err := ringbuffer.AttachSet(ringDir, ringModel)
	if err != nil {
		log.Error("Failed to attach ring-buffer set", "error", err)
		os.Exit(1)
	}
	defer ringSet.Close()

	engine, err := taskengine.New(name, ringWire, item.IntakeAddr, item.PubAddr, cfg.Scheduler.DataFeed, ringSet, log)
	if err != nil {
		log.Error("Failed to construct engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcMgr := service.NewManager(log)
	svcMgr.Register(service.NewRunner("engine", engine.Run))

	if err := svcMgr.Start(ctx, cfg); err != nil {
		log.Error("Failed to start engine service", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}
