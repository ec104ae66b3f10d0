package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level declarative configuration loaded once at startup
// by every SentinelCam binary. Each service only reads the section(s) it
// cares about; unused sections are simply left at their zero value.
type Config struct {
	Ingest    IngestConfig    `yaml:"ingest"`
	DataPump  DataPumpConfig  `yaml:"datapump"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// IngestConfig configures the camwatcher dispatcher.
type IngestConfig struct {
	ControlPort int                   `yaml:"control_port"`
	CSVRoot     string                `yaml:"csv_root"`
	ImageRoot   string                `yaml:"image_root"`
	Outposts    map[string]Outpost    `yaml:"outposts"`
	Agent       *SchedulerAgentConfig `yaml:"agent,omitempty"`
}

// Outpost describes one edge camera node's publishing endpoints, as declared
// under ingest.outposts in the config file.
type Outpost struct {
	ImagePublisher string `yaml:"image_publisher"`
	Logger         string `yaml:"logger"`
	View           string `yaml:"view"`
}

// SchedulerAgentConfig is the optional block telling the ingest dispatcher
// where to forward SUBMIT requests for post-event analytics tasks.
type SchedulerAgentConfig struct {
	Endpoint    string `yaml:"endpoint"`
	DefaultTask string `yaml:"default_task"`
}

// DataPumpConfig configures the data-access service.
type DataPumpConfig struct {
	ControlPort   int    `yaml:"control_port"`
	CSVRoot       string `yaml:"csv_root"`
	ImageRoot     string `yaml:"image_root"`
	LogPath       string `yaml:"log_path"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// SchedulerConfig configures the sentinel analytics scheduler.
type SchedulerConfig struct {
	ControlPort int                          `yaml:"control_port"`
	LogPort     int                          `yaml:"log_port"`
	ResultAddr  string                       `yaml:"result_addr"`
	DataFeed    string                       `yaml:"data_feed"`
	Tasks       map[string]TaskCatalogItem   `yaml:"tasks"`
	Engines     map[string]EngineCatalogItem `yaml:"engines"`
	RingModels  map[string]RingModel         `yaml:"ring_models"`
	StatePath   string                       `yaml:"state_path"`
	RingBaseDir string                       `yaml:"ring_base_dir"`
}

// TaskCatalogItem declares one runnable analytics task.
type TaskCatalogItem struct {
	Class      string `yaml:"class"`
	ConfigPath string `yaml:"config_path"`
	TrkType    string `yaml:"trk_type,omitempty"`
	RingCtrl   string `yaml:"ringctrl,omitempty"`
}

// EngineCatalogItem declares one task-engine subprocess and the job classes
// it is willing to accept. IntakeAddr and PubAddr are fixed, config-declared
// endpoints so the job manager can dial an engine's job queue and result
// feed without any runtime handshake back from the spawned subprocess.
type EngineCatalogItem struct {
	Classes     []string `yaml:"classes"`
	Accelerator string   `yaml:"accelerator"`
	RingBuffers string   `yaml:"ring_buffers"` // key into SchedulerConfig.RingModels
	Exec        string   `yaml:"exec,omitempty"`
	IntakeAddr  string   `yaml:"intake_addr"`
	PubAddr     string   `yaml:"pub_addr"`
}

// RingModel names the set of ring-buffer dimensions an engine is prepared
// to serve, keyed by a human-readable buffer name.
type RingModel map[string]RingDimensions

// RingDimensions is a frame width, height, and slot count (W, H, L).
type RingDimensions struct {
	Width  int `yaml:"w"`
	Height int `yaml:"h"`
	Length int `yaml:"l"`
}

// LogConfig contains logging configuration shared by every binary.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file at configPath, falling back
// to a conventional search path when configPath is empty.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath tries a short list of conventional locations.
func getDefaultConfigPath() string {
	paths := []string{
		"./config/sentinelcam.yaml",
		"./sentinelcam.yaml",
		"../config/sentinelcam.yaml",
		"/etc/sentinelcam/sentinelcam.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults fills zero-value fields with conservative operational
// defaults so a minimal config file is still runnable.
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Ingest.CSVRoot == "" {
		c.Ingest.CSVRoot = "./data/csv"
	}
	if c.Ingest.ImageRoot == "" {
		c.Ingest.ImageRoot = "./data/images"
	}
	if c.Ingest.ControlPort == 0 {
		c.Ingest.ControlPort = 8901
	}

	if c.DataPump.CSVRoot == "" {
		c.DataPump.CSVRoot = c.Ingest.CSVRoot
	}
	if c.DataPump.ImageRoot == "" {
		c.DataPump.ImageRoot = c.Ingest.ImageRoot
	}
	if c.DataPump.ControlPort == 0 {
		c.DataPump.ControlPort = 8902
	}
	if c.DataPump.LogPath == "" {
		c.DataPump.LogPath = "./data/log/datapump.log"
	}
	if c.DataPump.ShutdownGrace == 0 {
		c.DataPump.ShutdownGrace = 10 * time.Second
	}

	if c.Scheduler.ControlPort == 0 {
		c.Scheduler.ControlPort = 8903
	}
	if c.Scheduler.LogPort == 0 {
		c.Scheduler.LogPort = 8904
	}
	if c.Scheduler.ResultAddr == "" {
		c.Scheduler.ResultAddr = fmt.Sprintf("127.0.0.1:%d", 8905)
	}
	if c.Scheduler.DataFeed == "" {
		c.Scheduler.DataFeed = fmt.Sprintf("127.0.0.1:%d", c.DataPump.ControlPort)
	}
	if c.Scheduler.StatePath == "" {
		c.Scheduler.StatePath = "./data/sentinel-jobstate.db"
	}
	if c.Scheduler.RingBaseDir == "" {
		c.Scheduler.RingBaseDir = "./data/rings"
	}
	for name, eng := range c.Scheduler.Engines {
		if eng.Exec == "" {
			eng.Exec = "sentinel-taskengine"
			c.Scheduler.Engines[name] = eng
		}
	}
}

// ResolveRelative joins a possibly-relative root to the directory containing
// the config file that declared it, so storage roots are relative to the
// config file's location rather than whatever directory the process
// happens to be launched from.
func ResolveRelative(base, root string) string {
	if filepath.IsAbs(root) {
		return root
	}
	return filepath.Join(base, root)
}
