// Package config provides configuration loading and management for histoquant.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DetectorConfig holds the sample region detection parameters
type DetectorConfig struct {
	// BackgroundThreshold marks RGB pixels with every channel at or above it as background
	BackgroundThreshold int `yaml:"backgroundThreshold"`

	// BlurSize is the (odd) Gaussian kernel size used to smooth the raw foreground mask
	BlurSize int `yaml:"blurSize"`

	// LargeKernelSize is the structuring element size of the close/open pass
	LargeKernelSize int `yaml:"largeKernelSize"`

	// SmoothKernelSize is the structuring element size of the final closing pass
	SmoothKernelSize int `yaml:"smoothKernelSize"`
}

// BandConfig holds the band fractions of the intensity span
type BandConfig struct {
	// Lower is the fraction of the span separating unstained from low intensity
	Lower float64 `yaml:"lower"`

	// Upper is the fraction of the span separating low from high intensity
	Upper float64 `yaml:"upper"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers is the number of images processed concurrently
		Workers int `yaml:"workers"`

		// ImageTimeout bounds the processing time of a single image
		ImageTimeout time.Duration `yaml:"imageTimeout"`

		// WhiteThreshold flags RGB pixels with every channel above it as background-white
		WhiteThreshold int `yaml:"whiteThreshold"`

		// Normalize applies min-max stretching and CLAHE to intensity-stained images
		Normalize bool `yaml:"normalize"`

		// CLAHEClipLimit is the contrast limit used when Normalize is set
		CLAHEClipLimit float64 `yaml:"claheClipLimit"`

		// CLAHETileGrid is the number of tiles per axis used when Normalize is set
		CLAHETileGrid int `yaml:"claheTileGrid"`
	} `yaml:"processing"`

	// Detector holds the default region detection parameters
	Detector DetectorConfig `yaml:"detector"`

	// Bands holds the default band fractions for intensity protocols
	Bands BandConfig `yaml:"bands"`

	// Statistics parameters
	Statistics struct {
		// Alpha is the family-wise significance level of the post-hoc test
		Alpha float64 `yaml:"alpha"`
	} `yaml:"statistics"`

	// Output parameters
	Output struct {
		// Dir is the directory receiving every output file
		Dir string `yaml:"dir"`

		// SaveSegments writes one PNG per category and image
		SaveSegments bool `yaml:"saveSegments"`

		// Charts writes a summary bar chart per stain
		Charts bool `yaml:"charts"`

		// Database is the SQLite file receiving records and statistics (empty disables it)
		Database string `yaml:"database"`

		// MetricsFile is the Prometheus textfile receiving run counters (empty disables it)
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is a zerolog level name (debug, info, warn, error)
		Level string `yaml:"level"`

		// Console enables human-readable console output instead of JSON
		Console bool `yaml:"console"`
	} `yaml:"logging"`

	// Stains lists the known stain protocols
	Stains []StainProtocol `yaml:"stains"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.ImageTimeout = 2 * time.Minute
	cfg.Processing.WhiteThreshold = 240
	cfg.Processing.Normalize = true
	cfg.Processing.CLAHEClipLimit = 2.0
	cfg.Processing.CLAHETileGrid = 8

	cfg.Detector = DetectorConfig{
		BackgroundThreshold: 220,
		BlurSize:            25,
		LargeKernelSize:     15,
		SmoothKernelSize:    7,
	}

	cfg.Bands = BandConfig{Lower: 0.2, Upper: 0.5}

	cfg.Statistics.Alpha = 0.05

	cfg.Output.Dir = "results"
	cfg.Output.SaveSegments = false
	cfg.Output.Charts = true
	cfg.Output.Database = "histoquant.db"
	cfg.Output.MetricsFile = ""

	cfg.Logging.Level = "info"
	cfg.Logging.Console = true

	cfg.Stains = DefaultStains()

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// A stains list in the file replaces the default protocols as a whole
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers)
	}
	if c.Processing.ImageTimeout <= 0 {
		return fmt.Errorf("processing.imageTimeout must be positive")
	}
	if c.Processing.WhiteThreshold < 0 || c.Processing.WhiteThreshold > 255 {
		return fmt.Errorf("processing.whiteThreshold must be within 0..255, got %d", c.Processing.WhiteThreshold)
	}
	if c.Processing.Normalize && (c.Processing.CLAHEClipLimit <= 0 || c.Processing.CLAHETileGrid < 1) {
		return fmt.Errorf("processing.claheClipLimit and claheTileGrid must be positive")
	}
	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := c.Bands.Validate(); err != nil {
		return fmt.Errorf("bands: %w", err)
	}
	if c.Statistics.Alpha <= 0 || c.Statistics.Alpha >= 1 {
		return fmt.Errorf("statistics.alpha must be within (0, 1), got %g", c.Statistics.Alpha)
	}

	seen := make(map[string]bool)
	for i := range c.Stains {
		p := &c.Stains[i]
		key := normalizeStainName(p.Name)
		if key == "" {
			return fmt.Errorf("stains[%d]: name is required", i)
		}
		if seen[key] {
			return fmt.Errorf("stains[%d]: duplicate stain %q", i, p.Name)
		}
		seen[key] = true
		if err := p.Validate(); err != nil {
			return fmt.Errorf("stain %s: %w", p.Name, err)
		}
	}
	return nil
}

// Validate checks the detector parameters
func (d DetectorConfig) Validate() error {
	if d.BackgroundThreshold < 0 || d.BackgroundThreshold > 255 {
		return fmt.Errorf("backgroundThreshold must be within 0..255, got %d", d.BackgroundThreshold)
	}
	if d.BlurSize < 1 || d.BlurSize%2 == 0 {
		return fmt.Errorf("blurSize must be a positive odd number, got %d", d.BlurSize)
	}
	if d.LargeKernelSize < 1 || d.SmoothKernelSize < 1 {
		return fmt.Errorf("kernel sizes must be positive")
	}
	return nil
}

// Validate checks that 0 < Lower < Upper < 1
func (b BandConfig) Validate() error {
	if !(b.Lower > 0 && b.Lower < b.Upper && b.Upper < 1) {
		return fmt.Errorf("band fractions must satisfy 0 < lower < upper < 1, got %g/%g", b.Lower, b.Upper)
	}
	return nil
}
