package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Detector DetectorConfig `yaml:"detector"`
	Skus     map[string]int `yaml:"skus"` // overrides merged over the built-in table
	Display  DisplayConfig  `yaml:"display"`
	Stats    StatsConfig    `yaml:"stats"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type PipelineConfig struct {
	SkipFrames     int  `yaml:"skip_frames"`      // K: one in K dequeued frames reaches the detector
	QueueCapacity  int  `yaml:"queue_capacity"`   // C: frames buffered between ingestion and inference
	IdleIntervalMS int  `yaml:"idle_interval_ms"` // sleep while paused
	StopTimeoutS   int  `yaml:"stop_timeout_s"`
	Realtime       bool `yaml:"realtime"` // decode at the video's native rate
}

type DetectorConfig struct {
	Backend     string   `yaml:"backend"` // python, onnx
	Model       string   `yaml:"model"`
	Python      string   `yaml:"python"`
	Script      string   `yaml:"script"`
	Confidence  float64  `yaml:"confidence"`
	IoU         float64  `yaml:"iou"`
	InputSize   int      `yaml:"input_size"`
	Labels      []string `yaml:"labels"` // class names in model output order (onnx)
	LibraryPath string   `yaml:"onnx_library"`
	TimeoutS    int      `yaml:"timeout_s"` // per-frame worker deadline
}

type DisplayConfig struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	PreviewPath string `yaml:"preview_path"` // latest annotated frame as JPEG, empty disables
}

type StatsConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	BackendPython = "python"
	BackendONNX   = "onnx"
)

// Default returns the settings used when no config file is given.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			SkipFrames:     5,
			QueueCapacity:  10,
			IdleIntervalMS: 100,
			StopTimeoutS:   10,
			Realtime:       true,
		},
		Detector: DetectorConfig{
			Backend:    BackendPython,
			Model:      "best.pt",
			Python:     "python3",
			Script:     "python/detector.py",
			Confidence: 0.25,
			IoU:        0.45,
			InputSize:  640,
			Labels:     []string{"wraps", "salads", "pudding", "yogurt"},
			TimeoutS:   30,
		},
		Display: DisplayConfig{Width: 640, Height: 360},
		Stats:   StatsConfig{IntervalMS: 1000},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (p PipelineConfig) IdleInterval() time.Duration {
	return time.Duration(p.IdleIntervalMS) * time.Millisecond
}

func (p PipelineConfig) StopTimeout() time.Duration {
	return time.Duration(p.StopTimeoutS) * time.Second
}

func (d DetectorConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutS) * time.Second
}

func (s StatsConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}
