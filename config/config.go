// Package config holds the runtime settings of the tagcam binary and loads
// them from an optional JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrInvalidResolution = errors.New("width and height must be positive")
	ErrInvalidDecimation = errors.New("decimation must be at least 1")
	ErrInvalidMarkerSize = errors.New("marker_size_m must be positive")
	ErrInvalidFOV        = errors.New("fov_deg must be in (0, 180)")
	ErrInvalidInterval   = errors.New("telemetry_interval must be at least 1")
	ErrInvalidRecordFPS  = errors.New("record_fps must be positive when record_path is set")
	ErrNoCamera          = errors.New("camera must not be empty")
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the full set of runtime options. Zero values are not meaningful;
// start from Default.
type Config struct {
	Camera string `json:"camera"` // device index or URL/path
	Width  int    `json:"width"`
	Height int    `json:"height"`

	Decimation        int     `json:"decimation"`
	MarkerSizeM       float64 `json:"marker_size_m"`
	FOVDeg            float64 `json:"fov_deg"` // horizontal
	Dictionary        string  `json:"dictionary"`
	TelemetryInterval int     `json:"telemetry_interval"`

	WindowTitle string `json:"window_title"`
	RecordPath  string `json:"record_path,omitempty"`
	RecordFPS   int    `json:"record_fps"`
	DebugDir    string `json:"debug_dir,omitempty"`

	// PerfReportInterval is the number of processed frames between console
	// performance reports; 0 disables them.
	PerfReportInterval int `json:"perf_report_interval"`
}

// Default returns the settings used when no file or flag overrides them.
func Default() *Config {
	return &Config{
		Camera:             "0",
		Width:              1280,
		Height:             720,
		Decimation:         4,
		MarkerSizeM:        0.05,
		FOVDeg:             60,
		Dictionary:         "apriltag_36h11",
		TelemetryInterval:  30,
		WindowTitle:        "tagcam",
		RecordFPS:          30,
		PerfReportInterval: 300,
	}
}

// Load reads a JSON config file on top of Default and validates the result.
// Keys missing from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further overrides
// and validate the merged result themselves.
func Read(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return cfg, nil
}

// Validate checks the ranges of every option.
func (c *Config) Validate() error {
	if c.Camera == "" {
		return ErrNoCamera
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, c.Width, c.Height)
	}
	if c.Decimation < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidDecimation, c.Decimation)
	}
	if c.MarkerSizeM <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidMarkerSize, c.MarkerSizeM)
	}
	if c.FOVDeg <= 0 || c.FOVDeg >= 180 {
		return fmt.Errorf("%w: %g", ErrInvalidFOV, c.FOVDeg)
	}
	if c.TelemetryInterval < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, c.TelemetryInterval)
	}
	if c.RecordPath != "" && c.RecordFPS <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRecordFPS, c.RecordFPS)
	}
	if c.PerfReportInterval < 0 {
		c.PerfReportInterval = 0
	}
	return nil
}
