// Package config loads the journal's runtime configuration from a YAML
// file, falling back to sane local-first defaults when no file exists.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/kittclouds/sovereign/internal/store"
)

// Config holds all sovereign journal configuration.
type Config struct {
	// Where the SQLite database lives.
	DatabasePath string `yaml:"database_path"`

	// Defaults applied to new reflections when the caller leaves the
	// field empty.
	DefaultLayer    string `yaml:"default_layer"`
	DefaultModality string `yaml:"default_modality"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DiscoveryConfig tunes the thread suggestion engine.
type DiscoveryConfig struct {
	// Minimum unthreaded reflections before suggestions appear.
	MinReflections int `yaml:"min_reflections"`

	// How many suggestions to surface at once.
	MaxSuggestions int `yaml:"max_suggestions"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Build constructs the process logger from the config.
func (lc LoggingConfig) Build() (*zap.Logger, error) {
	var zc zap.Config
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if lc.Level != "" {
		level, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    filepath.Join(".sovereign", "journal.db"),
		DefaultLayer:    string(store.LayerSovereign),
		DefaultModality: "text",
		Discovery: DiscoveryConfig{
			MinReflections: 5,
			MaxSuggestions: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file. A missing file is not an
// error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to a YAML file, creating the directory if
// needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if !store.Layer(c.DefaultLayer).Valid() {
		return fmt.Errorf("default_layer %q is not one of sovereign, commons, builder", c.DefaultLayer)
	}
	if c.Discovery.MinReflections < 1 {
		return fmt.Errorf("discovery.min_reflections must be at least 1")
	}
	if c.Discovery.MaxSuggestions < 1 {
		return fmt.Errorf("discovery.max_suggestions must be at least 1")
	}
	return nil
}
