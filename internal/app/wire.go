package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/alanyoungcy/coinfolio/internal/blob/s3"
	"github.com/alanyoungcy/coinfolio/internal/cache/redis"
	"github.com/alanyoungcy/coinfolio/internal/config"
	"github.com/alanyoungcy/coinfolio/internal/domain"
	"github.com/alanyoungcy/coinfolio/internal/feed"
	"github.com/alanyoungcy/coinfolio/internal/notify"
	"github.com/alanyoungcy/coinfolio/internal/service"
	"github.com/alanyoungcy/coinfolio/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TransactionStore domain.TransactionStore
	HoldingStore     domain.HoldingStore
	WalletStore      domain.WalletStore
	AssetStore       domain.AssetStore
	CurrencyStore    domain.CurrencyStore
	EventTraceStore  domain.EventTraceStore

	// Caches and transport
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Services
	Projector   *service.HoldingProjector
	Valuator    *service.WalletValuator
	Coordinator *service.BalanceRecomputeCoordinator
	Notifier    *service.BalanceChangeNotifier
	Sent        domain.DeliveryGuard

	// Consumers. Events are traced before handling; internal requests are not.
	EventConsumer   *feed.Consumer
	RequestConsumer *feed.Consumer

	// Blob storage (nil unless archiving is enabled)
	Archiver domain.Archiver

	// Health-checked connections
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client

	// Operator alerts
	Alerts *notify.Notifier
}

// needsS3 reports whether the mode runs the trace archiver.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "full" && cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TransactionStore = postgres.NewTransactionStore(pool)
	deps.HoldingStore = postgres.NewHoldingStore(pool)
	deps.WalletStore = postgres.NewWalletStore(pool)
	deps.AssetStore = postgres.NewAssetStore(pool)
	deps.CurrencyStore = postgres.NewCurrencyStore(pool)
	deps.EventTraceStore = postgres.NewEventTraceStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
		TLSEnabled:  cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.PriceCache = redis.NewPriceCache(redisClient, logger)
	deps.LockManager = redis.NewLockManager(redisClient, cfg.Balances.LockRetry.Duration)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.Sent = redis.NewDeliveryGuard(redisClient, cfg.Balances.LockTTL.Duration, cfg.Balances.DedupTTL.Duration)

	// --- S3 blob storage (only when the archiver runs) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.EventTraceStore, 0, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Alerts = notify.NewNotifier(senders, "coinfolio", cfg.Notify.Cooldown.Duration, logger)

	// --- Services ---
	deps.Projector = service.NewHoldingProjector(
		deps.TransactionStore, deps.HoldingStore, deps.WalletStore, deps.CurrencyStore, deps.PriceCache,
		deps.LockManager, deps.SignalBus,
		cfg.Balances.LockTTL.Duration, logger,
	)
	deps.Valuator = service.NewWalletValuator(
		deps.WalletStore, deps.HoldingStore, deps.AssetStore, deps.CurrencyStore, deps.PriceCache, logger,
	)
	deps.Coordinator = service.NewBalanceRecomputeCoordinator(
		deps.PriceCache, deps.AssetStore, deps.CurrencyStore, deps.WalletStore, deps.SignalBus,
		cfg.Balances.BulkBatchSize, logger,
	)
	deps.Notifier = service.NewBalanceChangeNotifier(deps.Valuator, deps.SignalBus, deps.Sent, logger)

	// --- Consumers ---
	ccfg := feed.ConsumerConfig{
		Group:         cfg.Consumer.Group,
		Name:          consumerName(cfg.Consumer.Name),
		BatchSize:     cfg.Consumer.BatchSize,
		Block:         cfg.Consumer.Block.Duration,
		ClaimIdle:     cfg.Consumer.ClaimIdle.Duration,
		MaxDeliveries: cfg.Consumer.MaxDeliveries,
		Workers:       cfg.Consumer.Workers,
	}
	deps.EventConsumer = feed.NewConsumer(deps.SignalBus, deps.EventTraceStore, deps.Alerts, ccfg, logger)
	deps.RequestConsumer = feed.NewConsumer(deps.SignalBus, nil, deps.Alerts, ccfg, logger)

	return deps, cleanup, nil
}

// consumerName falls back to hostname-pid so replicas never share a
// consumer identity.
func consumerName(name string) string {
	if name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		host = "coinfolio"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
