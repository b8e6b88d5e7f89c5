package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, and validates the YAML configuration file at path,
// applying defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = "127.0.0.1:3002"
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.GitHTTP.MountPath == "" {
		c.GitHTTP.MountPath = "/git"
	}
	if c.Audit.Enabled && c.Audit.DatabasePath == "" {
		c.Audit.DatabasePath = filepath.Join(c.Store.RootPath, "audit.db")
	}
	if c.Housekeeping.StaleLockAge == 0 {
		c.Housekeeping.StaleLockAge = 24 * time.Hour
	}
	if c.Telemetry.Logging.Level == "" {
		c.Telemetry.Logging.Level = "info"
	}
	if c.Telemetry.Logging.Format == "" {
		c.Telemetry.Logging.Format = "text"
	}
	if c.Telemetry.Metrics.Path == "" {
		c.Telemetry.Metrics.Path = "/metrics"
	}
	if c.Telemetry.Metrics.Namespace == "" {
		c.Telemetry.Metrics.Namespace = "configstore"
	}
}

// Validate checks required fields and cross-field consistency.
func (c *Config) Validate() error {
	if c.Store.RootPath == "" {
		return fmt.Errorf("store.root_path is required")
	}
	if !filepath.IsAbs(c.Store.RootPath) {
		return fmt.Errorf("store.root_path must be absolute, got %q", c.Store.RootPath)
	}
	for i, rule := range c.Validation.Rules {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("validation.rules[%d].pattern: %w", i, err)
		}
		if rule.Schema == "" {
			return fmt.Errorf("validation.rules[%d].schema is required", i)
		}
	}
	switch c.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.logging.level must be one of debug, info, warn, error")
	}
	switch c.Telemetry.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("telemetry.logging.format must be json or text")
	}
	return nil
}
