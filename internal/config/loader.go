package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COINFOLIO_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COINFOLIO_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "COINFOLIO_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "COINFOLIO_DATABASE_HOST")
	setInt(&cfg.Database.Port, "COINFOLIO_DATABASE_PORT")
	setStr(&cfg.Database.Database, "COINFOLIO_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "COINFOLIO_DATABASE_USER")
	setStr(&cfg.Database.Password, "COINFOLIO_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "COINFOLIO_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "COINFOLIO_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "COINFOLIO_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "COINFOLIO_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COINFOLIO_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COINFOLIO_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COINFOLIO_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COINFOLIO_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COINFOLIO_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "COINFOLIO_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "COINFOLIO_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "COINFOLIO_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COINFOLIO_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COINFOLIO_S3_REGION")
	setStr(&cfg.S3.Bucket, "COINFOLIO_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COINFOLIO_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COINFOLIO_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COINFOLIO_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COINFOLIO_S3_FORCE_PATH_STYLE")

	// ── Consumer ──
	setStr(&cfg.Consumer.Group, "COINFOLIO_CONSUMER_GROUP")
	setStr(&cfg.Consumer.Name, "COINFOLIO_CONSUMER_NAME")
	setInt(&cfg.Consumer.BatchSize, "COINFOLIO_CONSUMER_BATCH_SIZE")
	setDuration(&cfg.Consumer.Block, "COINFOLIO_CONSUMER_BLOCK")
	setDuration(&cfg.Consumer.ClaimIdle, "COINFOLIO_CONSUMER_CLAIM_IDLE")
	setInt64(&cfg.Consumer.MaxDeliveries, "COINFOLIO_CONSUMER_MAX_DELIVERIES")
	setInt(&cfg.Consumer.Workers, "COINFOLIO_CONSUMER_WORKERS")

	// ── Balances ──
	setInt(&cfg.Balances.BulkBatchSize, "COINFOLIO_BALANCES_BULK_BATCH_SIZE")
	setDuration(&cfg.Balances.LockTTL, "COINFOLIO_BALANCES_LOCK_TTL")
	setDuration(&cfg.Balances.LockRetry, "COINFOLIO_BALANCES_LOCK_RETRY")
	setDuration(&cfg.Balances.DedupTTL, "COINFOLIO_BALANCES_DEDUP_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COINFOLIO_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "COINFOLIO_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "COINFOLIO_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "COINFOLIO_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COINFOLIO_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COINFOLIO_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COINFOLIO_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COINFOLIO_NOTIFY_DISCORD_WEBHOOK_URL")
	setDuration(&cfg.Notify.Cooldown, "COINFOLIO_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "COINFOLIO_MODE")
	setStr(&cfg.LogLevel, "COINFOLIO_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
