// Package config loads and validates the rfvault configuration file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultRetentionInterval is how often the retention sweeper runs.
	DefaultRetentionInterval = "1h"

	// DefaultMaxRetentionDays caps per-project retention windows.
	DefaultMaxRetentionDays = 180

	// DefaultStorageLimitBytes is the default workspace storage quota.
	DefaultStorageLimitBytes = 20 * 1024 * 1024 * 1024

	// DefaultActiveProjectsLimit is the default workspace project quota.
	DefaultActiveProjectsLimit = 10
)

// Config is the root configuration for rfvault.
type Config struct {
	LogLevel  string          `yaml:"log_level" mapstructure:"log_level"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
	Limits    LimitsConfig    `yaml:"limits" mapstructure:"limits"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Ingest  RateLimitTier `yaml:"ingest,omitempty" mapstructure:"ingest"`
	Read    RateLimitTier `yaml:"read,omitempty" mapstructure:"read"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string                 `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresDatabaseConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresDatabaseConfig contains PostgreSQL settings.
type PostgresDatabaseConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Backend string              `yaml:"backend" mapstructure:"backend"`
	S3      *S3StorageConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
	Local   *LocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// S3StorageConfig contains S3-compatible object storage settings.
type S3StorageConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty" mapstructure:"force_path_style"`
}

// LocalStorageConfig stores artifact objects on the local filesystem.
type LocalStorageConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// RetentionConfig controls the background retention sweeper.
type RetentionConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled"`
	Interval         string `yaml:"interval,omitempty" mapstructure:"interval"`
	ReconcileOrphans bool   `yaml:"reconcile_orphans,omitempty" mapstructure:"reconcile_orphans"`
}

// LimitsConfig contains default workspace quotas and retention caps.
type LimitsConfig struct {
	MaxRetentionDays    int   `yaml:"max_retention_days" mapstructure:"max_retention_days"`
	StorageLimitBytes   int64 `yaml:"storage_limit_bytes" mapstructure:"storage_limit_bytes"`
	ActiveProjectsLimit int   `yaml:"active_projects_limit" mapstructure:"active_projects_limit"`
}

// Load reads the configuration file at path, applies RFVAULT_* environment
// overrides, and fills in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RFVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Retention.Interval == "" {
		c.Retention.Interval = DefaultRetentionInterval
	}

	if c.Limits.MaxRetentionDays == 0 {
		c.Limits.MaxRetentionDays = DefaultMaxRetentionDays
	}

	if c.Limits.StorageLimitBytes == 0 {
		c.Limits.StorageLimitBytes = DefaultStorageLimitBytes
	}

	if c.Limits.ActiveProjectsLimit == 0 {
		c.Limits.ActiveProjectsLimit = DefaultActiveProjectsLimit
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf(
			"unsupported database driver: %q", c.Database.Driver,
		)
	}

	switch c.Storage.Backend {
	case "s3":
		if c.Storage.S3 == nil || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
	case "local":
		if c.Storage.Local == nil || c.Storage.Local.Root == "" {
			return fmt.Errorf("storage.local.root is required")
		}
	default:
		return fmt.Errorf(
			"unsupported storage backend: %q", c.Storage.Backend,
		)
	}

	if c.Limits.MaxRetentionDays < 0 {
		return fmt.Errorf("limits.max_retention_days must not be negative")
	}

	return nil
}
