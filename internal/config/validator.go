package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if cfg.Pipeline.SkipFrames < 1 {
		return fmt.Errorf("pipeline.skip_frames must be >= 1, got %d", cfg.Pipeline.SkipFrames)
	}
	if cfg.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("pipeline.queue_capacity must be >= 1, got %d", cfg.Pipeline.QueueCapacity)
	}
	if cfg.Pipeline.IdleIntervalMS <= 0 {
		cfg.Pipeline.IdleIntervalMS = 100 // default
	}
	if cfg.Pipeline.StopTimeoutS <= 0 {
		cfg.Pipeline.StopTimeoutS = 10
	}

	if err := validateDetector(&cfg.Detector); err != nil {
		return fmt.Errorf("detector: %w", err)
	}

	for label, code := range cfg.Skus {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("skus: empty label for code %d", code)
		}
		if code <= 0 {
			return fmt.Errorf("skus: code for '%s' must be > 0, got %d", label, code)
		}
	}

	if cfg.Display.Width <= 0 || cfg.Display.Height <= 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", cfg.Display.Width, cfg.Display.Height)
	}
	if cfg.Stats.IntervalMS <= 0 {
		cfg.Stats.IntervalMS = 1000
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func validateDetector(d *DetectorConfig) error {
	d.Backend = strings.ToLower(strings.TrimSpace(d.Backend))
	switch d.Backend {
	case BackendPython:
		if d.Script == "" {
			return fmt.Errorf("script is required for the python backend")
		}
		if d.Python == "" {
			d.Python = "python3"
		}
	case BackendONNX:
		if len(d.Labels) == 0 {
			return fmt.Errorf("labels are required for the onnx backend")
		}
		if d.InputSize <= 0 || d.InputSize%32 != 0 {
			return fmt.Errorf("input_size must be a positive multiple of 32, got %d", d.InputSize)
		}
	default:
		return fmt.Errorf("unknown backend '%s' (must be 'python' or 'onnx')", d.Backend)
	}

	if d.Model == "" {
		return fmt.Errorf("model is required")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %v", d.Confidence)
	}
	if d.IoU < 0 || d.IoU > 1 {
		return fmt.Errorf("iou must be within [0,1], got %v", d.IoU)
	}
	if d.TimeoutS < 0 {
		return fmt.Errorf("timeout_s must not be negative")
	}
	return nil
}
