package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/logger"
)

// Service provides configuration management with environment variable
// overrides and change notification, for binaries that want to reload
// their configuration without a restart.
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes.
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service.
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// Get returns the current configuration (thread-safe).
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file and notifies watchers.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	applyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig

	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("config watcher error", "error", err)
		}
	}

	s.logger.Info("configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher.
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to the
// configuration, matching the keys an operator would expect from the YAML
// layout (SENTINELCAM_<SECTION>_<FIELD>).
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SENTINELCAM_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("SENTINELCAM_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("SENTINELCAM_LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}

	if val := os.Getenv("SENTINELCAM_INGEST_CONTROL_PORT"); val != "" {
		if port, err := parseInt(val); err == nil {
			cfg.Ingest.ControlPort = port
		}
	}
	if val := os.Getenv("SENTINELCAM_INGEST_CSV_ROOT"); val != "" {
		cfg.Ingest.CSVRoot = val
	}
	if val := os.Getenv("SENTINELCAM_INGEST_IMAGE_ROOT"); val != "" {
		cfg.Ingest.ImageRoot = val
	}

	if val := os.Getenv("SENTINELCAM_DATAPUMP_CONTROL_PORT"); val != "" {
		if port, err := parseInt(val); err == nil {
			cfg.DataPump.ControlPort = port
		}
	}
	if val := os.Getenv("SENTINELCAM_DATAPUMP_LOG_PATH"); val != "" {
		cfg.DataPump.LogPath = val
	}

	if val := os.Getenv("SENTINELCAM_SCHEDULER_CONTROL_PORT"); val != "" {
		if port, err := parseInt(val); err == nil {
			cfg.Scheduler.ControlPort = port
		}
	}
	if val := os.Getenv("SENTINELCAM_SCHEDULER_DATA_FEED"); val != "" {
		cfg.Scheduler.DataFeed = val
	}
}

func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}

// GetEnvWithDefault gets an environment variable with a default value.
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvDuration gets a duration environment variable.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}
