/*
PURPOSE:
  Defines the configuration structure and loading logic for kali.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Host or weighted host map, port, duration, rps, payload, jitter,
    load test type and output file.
  - Jitter defaults to 50ms.

  Implementation-discovered:
  - Needs to support YAML parsing so repeatable runs can live in a file.
  - Exactly one of host / bias must be set; checked before any worker starts.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine
  - Dependencies: gopkg.in/yaml.v3 (standard for Go config)

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - Missing default config files are not an error (falls back to defaults).
  - Validate() returns wrapped sentinel errors, test with errors.Is.

IMPLEMENTATION RULES:
  - Config struct tags should support yaml.
  - Weight checks (zero, overflow) are owned by engine.NewTargets.

USAGE:
  cfg, err := config.Load("kali.yaml")
  if err := cfg.Validate(); err != nil { ... }

RELATED FILES:
  - internal/cli/run.go
  - internal/engine/selector.go
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadTestTCP is the only load test type the engine implements.
const LoadTestTCP = "tcp"

var (
	ErrNoTarget           = errors.New("either host or bias must be set")
	ErrAmbiguousTarget    = errors.New("host and bias are mutually exclusive")
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
	ErrInvalidRate        = errors.New("rps must be greater than 0")
	ErrUnsupportedType    = errors.New("unsupported load test type")
	ErrInvalidConcurrency = errors.New("concurrency cannot be negative")
)

// DefaultFiles are searched in order when no config path is given.
var DefaultFiles = []string{"kali.yaml", "kali.yml"}

// Config represents the full configuration for one load test run.
type Config struct {
	Host         string            `yaml:"host,omitempty"`
	Bias         map[string]uint32 `yaml:"bias,omitempty"`
	Port         uint16            `yaml:"port"`
	Duration     uint64            `yaml:"duration"` // seconds
	RPS          uint32            `yaml:"rps"`
	Payload      string            `yaml:"payload"`
	Jitter       uint64            `yaml:"jitter"` // milliseconds
	LoadTestType string            `yaml:"load_test_type"`
	OutputFile   string            `yaml:"output_file"`

	// Concurrency is the number of workers; 0 means one per rps slot.
	Concurrency int `yaml:"concurrency,omitempty"`
	// Seed makes target selection and jitter reproducible; 0 picks random seeds.
	Seed uint64 `yaml:"seed,omitempty"`
	// RequireResponse counts a zero-byte read as a failure.
	RequireResponse bool `yaml:"require_response,omitempty"`
	// Timeout bounds dial and socket I/O; 0 leaves the OS defaults in place.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	CSVFile     string `yaml:"csv_file,omitempty"`
	HistoryDB   string `yaml:"history_db,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	LogLevel    string `yaml:"log_level,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		Duration:     5,
		RPS:          10,
		Payload:      "Hello World",
		Jitter:       50,
		LoadTestType: LoadTestTCP,
		OutputFile:   "output.json",
		LogLevel:     "info",
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches DefaultFiles in order.
// If no file found, returns default config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		found := false
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				found = true
				break
			}
		}
		if !found {
			return cfg, nil
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the invariants the engine relies on.
func (c *Config) Validate() error {
	switch {
	case c.Host == "" && len(c.Bias) == 0:
		return ErrNoTarget
	case c.Host != "" && len(c.Bias) > 0:
		return ErrAmbiguousTarget
	}
	if c.Port == 0 {
		return ErrInvalidPort
	}
	if c.RPS == 0 {
		return ErrInvalidRate
	}
	if c.LoadTestType != LoadTestTCP {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, c.LoadTestType)
	}
	if c.Concurrency < 0 {
		return ErrInvalidConcurrency
	}
	return nil
}

// Workers returns the number of workers the pool runs.
func (c *Config) Workers() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return int(c.RPS)
}

// TestDuration returns the configured duration as time.Duration.
func (c *Config) TestDuration() time.Duration {
	return time.Duration(c.Duration) * time.Second
}

// MaxJitter returns the configured jitter bound as time.Duration.
func (c *Config) MaxJitter() time.Duration {
	return time.Duration(c.Jitter) * time.Millisecond
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
