// Package config defines the top-level configuration for coinfolio and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COINFOLIO_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Consumer ConsumerConfig `toml:"consumer"`
	Balances BalancesConfig `toml:"balances"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	DialTimeout  duration `toml:"dial_timeout"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ConsumerConfig holds stream consumer-group parameters shared by every
// consumer in the process.
type ConsumerConfig struct {
	Group         string   `toml:"group"`
	Name          string   `toml:"name"`
	BatchSize     int      `toml:"batch_size"`
	Block         duration `toml:"block"`
	ClaimIdle     duration `toml:"claim_idle"`
	MaxDeliveries int64    `toml:"max_deliveries"`
	Workers       int      `toml:"workers"`
}

// BalancesConfig tunes holding recomputation and balance fan-out.
type BalancesConfig struct {
	BulkBatchSize int      `toml:"bulk_batch_size"`
	LockTTL       duration `toml:"lock_ttl"`
	LockRetry     duration `toml:"lock_retry"`
	DedupTTL      duration `toml:"dedup_ttl"`
}

// ArchiveConfig controls event-trace archival to object storage.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "coinfolio",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			DialTimeout:  duration{5 * time.Second},
			StreamMaxLen: 100_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "coinfolio-traces",
			ForcePathStyle: true,
		},
		Consumer: ConsumerConfig{
			Group:         "coinfolio",
			BatchSize:     50,
			Block:         duration{2 * time.Second},
			ClaimIdle:     duration{time.Minute},
			MaxDeliveries: 10,
			Workers:       8,
		},
		Balances: BalancesConfig{
			BulkBatchSize: 500,
			LockTTL:       duration{30 * time.Second},
			LockRetry:     duration{100 * time.Millisecond},
			DedupTTL:      duration{10 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Cooldown: duration{5 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"handlers": true,
	"balances": true,
	"server":   true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: handlers, balances, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.StreamMaxLen < 0 {
		errs = append(errs, "redis: stream_max_len must be >= 0")
	}

	// Consumer
	if c.Consumer.Group == "" {
		errs = append(errs, "consumer: group must not be empty")
	}
	if c.Consumer.BatchSize < 1 {
		errs = append(errs, "consumer: batch_size must be >= 1")
	}
	if c.Consumer.Workers < 1 {
		errs = append(errs, "consumer: workers must be >= 1")
	}
	if c.Consumer.MaxDeliveries < 1 {
		errs = append(errs, "consumer: max_deliveries must be >= 1")
	}
	if c.Consumer.ClaimIdle.Duration <= 0 {
		errs = append(errs, "consumer: claim_idle must be > 0")
	}

	// Balances
	if c.Balances.BulkBatchSize < 1 {
		errs = append(errs, "balances: bulk_batch_size must be >= 1")
	}
	if c.Balances.LockTTL.Duration <= 0 {
		errs = append(errs, "balances: lock_ttl must be > 0")
	}
	if c.Balances.LockRetry.Duration < 0 {
		errs = append(errs, "balances: lock_retry must be >= 0")
	}
	if c.Balances.DedupTTL.Duration <= 0 {
		errs = append(errs, "balances: dedup_ttl must be > 0")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Server
	if c.Mode == "server" || c.Mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
