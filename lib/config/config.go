// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the attendance service configuration.
//
// Configuration comes from a single YAML file named by either the
// MESSHALL_CONFIG environment variable or a --config flag. There is no
// search path and no hidden override: what the file says is what runs.
// The only expansion performed is ${VAR} / ${VAR:-default} substitution
// in path fields, so one file can serve hosts with different roots.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the attendance service configuration.
type Config struct {
	// Timezone is the IANA zone the engine treats as local: "today" for
	// polling runs, timestamp parsing, and display rendering all use it.
	Timezone string `yaml:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ListenAddr is the HTTP API bind address, e.g. ":8470".
	ListenAddr string `yaml:"listen_addr"`

	// SocketPath is the Unix socket for operator actions.
	SocketPath string `yaml:"socket_path"`

	// Storage configures the database and the raw-payload archive.
	Storage StorageConfig `yaml:"storage"`

	// Device configures the access-control server connection.
	Device DeviceConfig `yaml:"device"`

	// Sync configures the reconciliation schedule.
	Sync SyncConfig `yaml:"sync"`
}

// StorageConfig locates the SQLite database and the archive directory.
type StorageConfig struct {
	// DatabasePath is the SQLite file shared with the platform's CRUD
	// layer (employee and plant tables live there too).
	DatabasePath string `yaml:"database_path"`

	// ArchiveDir holds raw device payloads, content-addressed.
	ArchiveDir string `yaml:"archive_dir"`

	// PoolSize is the connection pool size. Zero means the pool default.
	PoolSize int `yaml:"pool_size"`
}

// DeviceConfig describes the external access-control server.
type DeviceConfig struct {
	// BaseURL is the device server root, e.g. "http://10.0.8.20:8998".
	BaseURL string `yaml:"base_url"`

	// CredentialFile is the age-sealed file holding the protocol
	// username and password. Sealed with messhall-credentials.
	CredentialFile string `yaml:"credential_file"`

	// IdentityFile is the age identity that unseals CredentialFile.
	IdentityFile string `yaml:"identity_file"`

	// RequestTimeout bounds one protocol exchange. Go duration string.
	RequestTimeout string `yaml:"request_timeout"`
}

// SyncConfig drives the recurring reconciliation runs.
type SyncConfig struct {
	// Expression is a 5-field cron expression evaluated in Timezone.
	Expression string `yaml:"expression"`

	// SiteTimeout bounds one site's fetch-and-reconcile batch.
	SiteTimeout string `yaml:"site_timeout"`

	// RunHistory is how many run summaries to keep in memory for the
	// status surfaces. Zero means the scheduler default.
	RunHistory int `yaml:"run_history"`
}

// Default returns the base configuration merged under the loaded file.
// The file is still required; these exist so optional fields have
// working values.
func Default() *Config {
	return &Config{
		Timezone:   "UTC",
		LogLevel:   "info",
		ListenAddr: ":8470",
		SocketPath: "/run/messhall/attendance.sock",
		Storage: StorageConfig{
			DatabasePath: "${MESSHALL_ROOT:-/var/lib/messhall}/messhall.db",
			ArchiveDir:   "${MESSHALL_ROOT:-/var/lib/messhall}/archive",
		},
		Device: DeviceConfig{
			RequestTimeout: "30s",
		},
		Sync: SyncConfig{
			Expression:  "*/10 * * * *",
			SiteTimeout: "2m",
		},
	}
}

// Load reads the file named by MESSHALL_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("MESSHALL_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("config: MESSHALL_CONFIG is not set; point it at the service YAML or pass --config")
	}
	return LoadFile(path)
}

// LoadFile reads configuration from an explicit path, applies ${VAR}
// expansion to path fields, and returns the result. Callers should run
// Validate before using it.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.expandPaths()
	return cfg, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandPaths substitutes ${VAR} and ${VAR:-default} in every path
// field from the process environment.
func (c *Config) expandPaths() {
	for _, field := range []*string{
		&c.SocketPath,
		&c.Storage.DatabasePath,
		&c.Storage.ArchiveDir,
		&c.Device.CredentialFile,
		&c.Device.IdentityFile,
	} {
		*field = expand(*field)
	}
}

func expand(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("storage.database_path is required"))
	}
	if c.Storage.ArchiveDir == "" {
		errs = append(errs, errors.New("storage.archive_dir is required"))
	}

	if c.Device.BaseURL == "" {
		errs = append(errs, errors.New("device.base_url is required"))
	} else if parsed, err := url.Parse(c.Device.BaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("device.base_url %q is not an absolute URL", c.Device.BaseURL))
	}
	if c.Device.CredentialFile == "" {
		errs = append(errs, errors.New("device.credential_file is required"))
	}
	if c.Device.IdentityFile == "" {
		errs = append(errs, errors.New("device.identity_file is required"))
	}
	if _, err := time.ParseDuration(c.Device.RequestTimeout); err != nil {
		errs = append(errs, fmt.Errorf("device.request_timeout %q: %w", c.Device.RequestTimeout, err))
	}

	if _, err := time.ParseDuration(c.Sync.SiteTimeout); err != nil {
		errs = append(errs, fmt.Errorf("sync.site_timeout %q: %w", c.Sync.SiteTimeout, err))
	}
	if c.Sync.Expression == "" {
		errs = append(errs, errors.New("sync.expression is required"))
	}
	if c.Sync.RunHistory < 0 {
		errs = append(errs, fmt.Errorf("sync.run_history must not be negative, got %d", c.Sync.RunHistory))
	}

	return errors.Join(errs...)
}

// ParseLevel maps a config log level string to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level %q: must be debug, info, warn, or error", level)
	}
}
