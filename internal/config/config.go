// Package config loads checkonaut settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no --config is given.
const DefaultFile = "checkonaut.yaml"

// Config is the root configuration structure.
type Config struct {
	Root        string        `yaml:"root"`    // base directory for ReadJSON
	Binding     string        `yaml:"binding"` // "implicit" or "explicit"
	Timeout     time.Duration `yaml:"timeout"`
	Workers     int           `yaml:"workers"`
	Dotfiles    bool          `yaml:"dotfiles"`
	Dotdirs     bool          `yaml:"dotdirs"`
	FollowLinks bool          `yaml:"follow_links"`
	CacheSize   int           `yaml:"cache_size"`
	Record      string        `yaml:"record"` // sqlite run archive, empty disables
	Logging     LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references first.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback loads path when given. Otherwise DefaultFile is used if
// present, and defaults plus environment overrides if not.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return Load(DefaultFile)
	}

	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies CHECKONAUT_* environment variables.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHECKONAUT_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("CHECKONAUT_BINDING"); v != "" {
		cfg.Binding = v
	}
	if v := os.Getenv("CHECKONAUT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("CHECKONAUT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("CHECKONAUT_RECORD"); v != "" {
		cfg.Record = v
	}
	if v := os.Getenv("CHECKONAUT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHECKONAUT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Binding == "" {
		cfg.Binding = "implicit"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 512
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	validBindings := map[string]bool{"implicit": true, "explicit": true}
	if !validBindings[c.Binding] {
		return fmt.Errorf("binding must be 'implicit' or 'explicit', got %q", c.Binding)
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if c.CacheSize < 0 {
		return errors.New("cache_size must not be negative")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be 'console' or 'json', got %q", c.Logging.Format)
	}
	return nil
}
