package config

import "time"

// Config is the root configuration structure for the configstore server.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Store contains the repository store configuration.
	Store StoreConfig `yaml:"store"`

	// GitHTTP contains configuration for the smart-HTTP Git endpoints.
	GitHTTP GitHTTPConfig `yaml:"git_http"`

	// Validation contains the schema validation rules applied to
	// configuration files before they are committed.
	Validation ValidationConfig `yaml:"validation"`

	// Audit contains configuration for the SQLite audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Housekeeping contains configuration for scheduled maintenance.
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:3002"
	ListenAddress string `yaml:"listen_address"`

	// ReadHeaderTimeout is the maximum duration for reading the request
	// headers. The bodies of Git service requests stream for as long as
	// the client pushes, so only the header read is bounded.
	// Default: 30s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// IdleTimeout is the maximum time to wait for the next request on a
	// kept-alive connection. Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig contains configuration for the repository store.
type StoreConfig struct {
	// RootPath is the directory that holds every tenant repository as a
	// <name>.git child directory. Required.
	RootPath string `yaml:"root_path"`
}

// GitHTTPConfig contains configuration for the smart-HTTP Git backend.
type GitHTTPConfig struct {
	// MountPath is the URL prefix under which the Git endpoints are
	// served. Default: "/git"
	MountPath string `yaml:"mount_path"`

	// AuthOnPrivateNetworks requires Basic credentials even for callers
	// on RFC 1918 / loopback source addresses. When false, such callers
	// are admitted as "git-user" without a password check.
	// Default: false
	AuthOnPrivateNetworks bool `yaml:"auth_on_private_networks"`
}

// ValidationRule associates a file-name pattern with a named schema.
type ValidationRule struct {
	// Pattern is a regular expression matched against the file name.
	Pattern string `yaml:"pattern"`

	// Schema is the name of a registered schema document.
	Schema string `yaml:"schema"`
}

// ValidationConfig contains the schema validation configuration.
type ValidationConfig struct {
	// SchemaDir is a directory of JSON Schema documents, keyed by file
	// base name without extension. When set, the directory is watched
	// and schemas reload on change. Optional.
	SchemaDir string `yaml:"schema_dir"`

	// Rules route file names to schemas. The first matching rule wins;
	// files that match no rule are accepted.
	Rules []ValidationRule `yaml:"rules"`
}

// AuditConfig contains configuration for the audit trail.
type AuditConfig struct {
	// Enabled turns the audit trail on. Default: false
	Enabled bool `yaml:"enabled"`

	// DatabasePath is the SQLite database file.
	// Default: "<root_path>/audit.db"
	DatabasePath string `yaml:"database_path"`
}

// HousekeepingConfig contains configuration for scheduled maintenance.
type HousekeepingConfig struct {
	// Schedule is a cron expression. Empty disables housekeeping.
	Schedule string `yaml:"schedule"`

	// StaleLockAge is the minimum age of an unlocked txn.lock sentinel
	// before the sweep removes it. Default: 24h
	StaleLockAge time.Duration `yaml:"stale_lock_age"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: json or text. Default: "text"
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on. Default: false
	Enabled bool `yaml:"enabled"`

	// Path is where the exposition handler is mounted.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix. Default: "configstore"
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig groups observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}
