// Package config provides configuration types and defaults for svcreg.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/svcreg/internal/log"
	"github.com/zjrosen/svcreg/internal/tracing"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// LogConfig controls the file logger.
type LogConfig struct {
	// Path is the log file. Empty disables file logging.
	Path string `mapstructure:"path" yaml:"path"`

	// Level is the minimum level written: debug, info, warn or error.
	Level string `mapstructure:"level" yaml:"level"`
}

// StressConfig holds defaults for the stress command. Flags override them.
type StressConfig struct {
	Producers       int     `mapstructure:"producers" yaml:"producers"`
	Consumers       int     `mapstructure:"consumers" yaml:"consumers"`
	Ops             int     `mapstructure:"ops" yaml:"ops"`
	UnregisterRatio float64 `mapstructure:"unregister_ratio" yaml:"unregister_ratio"`
}

// Config holds all configuration options for svcreg.
type Config struct {
	Log     LogConfig      `mapstructure:"log" yaml:"log"`
	Tracing tracing.Config `mapstructure:"tracing" yaml:"tracing"`
	Stress  StressConfig   `mapstructure:"stress" yaml:"stress"`
}

// DefaultTracesFilePath returns ~/.config/svcreg/traces/traces.jsonl, or an
// empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "svcreg", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()

	return Config{
		Log: LogConfig{
			Level: "info",
		},
		Tracing: tc,
		Stress: StressConfig{
			Producers:       4,
			Consumers:       8,
			Ops:             1000,
			UnregisterRatio: 0.25,
		},
	}
}

// Validate checks c for errors. Empty values that have defaults are accepted.
func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	return ValidateStress(c.Stress)
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("%w: tracing.sample_rate must be between 0.0 and 1.0, got %v", ErrInvalid, tc.SampleRate)
	}

	switch tc.Exporter {
	case "", tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
	default:
		return fmt.Errorf("%w: tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", ErrInvalid, tc.Exporter)
	}

	// Path requirements only matter when tracing is on.
	if tc.Enabled {
		if tc.Exporter == tracing.ExporterFile && tc.FilePath == "" {
			return fmt.Errorf("%w: tracing.file_path is required when exporter is \"file\"", ErrInvalid)
		}
		if tc.Exporter == tracing.ExporterOTLP && tc.OTLPEndpoint == "" {
			return fmt.Errorf("%w: tracing.otlp_endpoint is required when exporter is \"otlp\"", ErrInvalid)
		}
	}

	return nil
}

// ValidateStress checks the stress workload defaults.
func ValidateStress(sc StressConfig) error {
	switch {
	case sc.Producers < 1:
		return fmt.Errorf("%w: stress.producers must be at least 1, got %d", ErrInvalid, sc.Producers)
	case sc.Consumers < 0:
		return fmt.Errorf("%w: stress.consumers must not be negative, got %d", ErrInvalid, sc.Consumers)
	case sc.Ops < 1:
		return fmt.Errorf("%w: stress.ops must be at least 1, got %d", ErrInvalid, sc.Ops)
	case sc.UnregisterRatio < 0.0 || sc.UnregisterRatio > 1.0:
		return fmt.Errorf("%w: stress.unregister_ratio must be between 0.0 and 1.0, got %v", ErrInvalid, sc.UnregisterRatio)
	}
	return nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return out, nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# svcreg configuration

# File logging
log:
  # path: ~/.config/svcreg/svcreg.log  # Log file (default: no file logging)
  level: info                          # debug, info, warn or error

# Distributed tracing of registry writes
tracing:
  enabled: false                 # Enable/disable tracing (default: false)
  exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
  # file_path: ~/.config/svcreg/traces/traces.jsonl  # Output file for file exporter
  otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
  sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
  service_name: svcreg
  #
  # Example: Send traces to Jaeger via OTLP
  # tracing:
  #   enabled: true
  #   exporter: otlp
  #   otlp_endpoint: jaeger.internal:4317
  #   sample_rate: 0.1  # Sample 10% of traces

# Defaults for 'svcreg stress' (flags override these)
stress:
  producers: 4            # Goroutines publishing services
  consumers: 8            # Goroutines resolving references
  ops: 1000               # Publishes per producer
  unregister_ratio: 0.25  # Fraction of registrations withdrawn
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
