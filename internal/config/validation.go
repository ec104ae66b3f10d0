package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration with detailed error messages. It
// collects every violation instead of stopping at the first.
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log_level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log_format: %s (must be: text or json)", c.Log.Format))
	}

	if c.Ingest.ControlPort != 0 {
		if c.Ingest.CSVRoot == "" {
			errors = append(errors, "ingest.csv_root is required")
		}
		if c.Ingest.ImageRoot == "" {
			errors = append(errors, "ingest.image_root is required")
		}
		for name, outpost := range c.Ingest.Outposts {
			if outpost.ImagePublisher == "" {
				errors = append(errors, fmt.Sprintf("ingest.outposts.%s.image_publisher is required", name))
			}
			if outpost.View == "" {
				errors = append(errors, fmt.Sprintf("ingest.outposts.%s.view is required", name))
			}
		}
	}

	if c.DataPump.ControlPort != 0 {
		if c.DataPump.CSVRoot == "" {
			errors = append(errors, "datapump.csv_root is required")
		}
		if c.DataPump.ImageRoot == "" {
			errors = append(errors, "datapump.image_root is required")
		}
		if c.DataPump.ShutdownGrace <= 0 {
			errors = append(errors, fmt.Sprintf("datapump.shutdown_grace must be > 0, got: %v", c.DataPump.ShutdownGrace))
		}
	}

	if c.Scheduler.ControlPort != 0 {
		for name, task := range c.Scheduler.Tasks {
			if task.Class == "" {
				errors = append(errors, fmt.Sprintf("scheduler.tasks.%s.class is required", name))
			}
		}
		for name, engine := range c.Scheduler.Engines {
			if len(engine.Classes) == 0 {
				errors = append(errors, fmt.Sprintf("scheduler.engines.%s.classes must list at least one job class", name))
			}
			if engine.RingBuffers != "" {
				if _, ok := c.Scheduler.RingModels[engine.RingBuffers]; !ok {
					errors = append(errors, fmt.Sprintf("scheduler.engines.%s.ring_buffers references unknown model %q", name, engine.RingBuffers))
				}
			}
		}
		for model, dims := range c.Scheduler.RingModels {
			for buf, d := range dims {
				if d.Width <= 0 || d.Height <= 0 || d.Length <= 0 {
					errors = append(errors, fmt.Sprintf("scheduler.ring_models.%s.%s must have positive w, h, l", model, buf))
				}
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
