// Package common provides shared utilities for provsync
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for provsync
type Config struct {
	Environment string                    `toml:"environment"`
	Server      ServerConfig              `toml:"server"`
	Storage     StorageConfig             `toml:"storage"`
	Logging     LoggingConfig             `toml:"logging"`
	Telemetry   TelemetryConfig           `toml:"telemetry"`
	JobManager  JobManagerConfig          `toml:"jobmanager"`
	Sync        SyncConfig                `toml:"sync"`
	Resolver    ResolverConfig            `toml:"resolver"`
	Providers   map[string]ProviderConfig `toml:"providers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds database connection configuration.
type StorageConfig struct {
	Backend   string `toml:"backend"` // "surrealdb" (default) or "memory"
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`  // "console" or "json"
	Outputs  []string `toml:"outputs"` // "console", "file"
	FilePath string   `toml:"file_path"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	ServiceName  string `toml:"service_name"`
	OTLPEndpoint string `toml:"otlp_endpoint"` // empty disables trace export
}

// JobManagerConfig holds background job manager configuration.
type JobManagerConfig struct {
	Enabled         bool   `toml:"enabled"`
	WatcherInterval string `toml:"watcher_interval"`
	MaxConcurrent   int    `toml:"max_concurrent"`
	MaxRetries      int    `toml:"max_retries"`
	PurgeAfter      string `toml:"purge_after"`
}

// GetWatcherInterval parses the watcher interval, defaulting to 1m.
func (c *JobManagerConfig) GetWatcherInterval() time.Duration {
	return parseDurationOr(c.WatcherInterval, time.Minute)
}

// GetMaxRetries returns the retry budget for a job, defaulting to 3.
func (c *JobManagerConfig) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// GetPurgeAfter returns how long finished jobs are kept, defaulting to 24h.
func (c *JobManagerConfig) GetPurgeAfter() time.Duration {
	return parseDurationOr(c.PurgeAfter, 24*time.Hour)
}

// SyncConfig holds the import/reconcile pipeline settings.
type SyncConfig struct {
	PageCeiling     int              `toml:"page_ceiling"`
	CallTimeout     string           `toml:"call_timeout"`
	InitialLookback string           `toml:"initial_lookback"`
	OverlapWindow   string           `toml:"overlap_window"`
	Interval        string           `toml:"interval"`
	Inactivity      InactivityConfig `toml:"inactivity"`
}

// InactivityConfig controls marking accounts inactive after repeated
// zero-activity sync runs.
type InactivityConfig struct {
	Enabled   bool `toml:"enabled"`
	Threshold int  `toml:"threshold"`
}

// GetThreshold returns the consecutive zero-activity run count, defaulting to 3.
func (c *InactivityConfig) GetThreshold() int {
	if c.Threshold <= 0 {
		return 3
	}
	return c.Threshold
}

// GetPageCeiling returns the maximum number of pages fetched per walk.
func (c *SyncConfig) GetPageCeiling() int {
	if c.PageCeiling <= 0 {
		return 100
	}
	return c.PageCeiling
}

// GetCallTimeout returns the timeout applied to each provider call.
func (c *SyncConfig) GetCallTimeout() time.Duration {
	return parseDurationOr(c.CallTimeout, 30*time.Second)
}

// GetInitialLookback returns how far back the first transaction fetch reaches.
func (c *SyncConfig) GetInitialLookback() time.Duration {
	return parseDurationOr(c.InitialLookback, 90*24*time.Hour)
}

// GetOverlapWindow returns how far before the last sync incremental fetches start.
func (c *SyncConfig) GetOverlapWindow() time.Duration {
	return parseDurationOr(c.OverlapWindow, 72*time.Hour)
}

// GetInterval returns how often each connection is synced.
func (c *SyncConfig) GetInterval() time.Duration {
	return parseDurationOr(c.Interval, 6*time.Hour)
}

// ResolverConfig holds the instrument metadata lookup settings. An empty
// API key disables external resolution.
type ResolverConfig struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	DefaultExchange string `toml:"default_exchange"`
	RateLimit       int    `toml:"rate_limit"`
	Timeout         string `toml:"timeout"`
}

// GetTimeout returns the per-lookup timeout, defaulting to 10s.
func (c *ResolverConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 10*time.Second)
}

// ProviderConfig holds connection settings for one provider integration.
type ProviderConfig struct {
	Kind      string            `toml:"kind"` // "banking", "brokerage", "crypto"
	BaseURL   string            `toml:"base_url"`
	RateLimit int               `toml:"rate_limit"`
	Timeout   string            `toml:"timeout"`
	Paths     map[string]string `toml:"paths"` // accounts, balances, transactions, holdings
}

// GetTimeout parses and returns the timeout duration
func (c *ProviderConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 30*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend:   "surrealdb",
			Address:   "ws://localhost:8000/rpc",
			Namespace: "provsync",
			Database:  "provsync",
			Username:  "root",
			Password:  "root",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Outputs:  []string{"console"},
			FilePath: "./logs/provsync.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "provsync",
		},
		JobManager: JobManagerConfig{
			Enabled:         true,
			WatcherInterval: "1m",
			MaxConcurrent:   4,
			MaxRetries:      3,
			PurgeAfter:      "24h",
		},
		Sync: SyncConfig{
			PageCeiling:     100,
			CallTimeout:     "30s",
			InitialLookback: "2160h",
			OverlapWindow:   "72h",
			Interval:        "6h",
			Inactivity: InactivityConfig{
				Enabled:   false,
				Threshold: 3,
			},
		},
		Resolver: ResolverConfig{
			DefaultExchange: "US",
			RateLimit:       10,
			Timeout:         "10s",
		},
		Providers: map[string]ProviderConfig{},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.Providers == nil {
		config.Providers = map[string]ProviderConfig{}
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PROVSYNC_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("PROVSYNC_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("PROVSYNC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("PROVSYNC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage overrides
	if v := os.Getenv("PROVSYNC_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = v
	}
	if v := os.Getenv("PROVSYNC_DB_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("PROVSYNC_DB_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("PROVSYNC_DB_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	if v := os.Getenv("PROVSYNC_OTLP_ENDPOINT"); v != "" {
		config.Telemetry.OTLPEndpoint = v
		config.Telemetry.Enabled = true
	}

	if v := os.Getenv("PROVSYNC_EODHD_API_KEY"); v != "" {
		config.Resolver.APIKey = v
	}

	if v := os.Getenv("PROVSYNC_PAGE_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sync.PageCeiling = n
		}
	}
	if v := os.Getenv("PROVSYNC_SYNC_INTERVAL"); v != "" {
		config.Sync.Interval = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
