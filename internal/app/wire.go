package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/carbex/carbex/internal/blob/s3"
	"github.com/carbex/carbex/internal/cache/redis"
	"github.com/carbex/carbex/internal/config"
	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/notify"
	"github.com/carbex/carbex/internal/pipeline"
	"github.com/carbex/carbex/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	UserStore      domain.UserStore
	BalanceStore   domain.BalanceStore
	OrderStore     domain.OrderStore
	ExecutionStore domain.ExecutionStore
	TradeStore     domain.TradeStore
	KYCStore       domain.KYCStore
	ContactStore   domain.ContactStore
	SourceStore    domain.SourceStore
	PriceStore     domain.PriceStore
	AuditStore     domain.AuditStore

	// Caches
	SessionStore     domain.SessionStore
	BookCache        domain.BookCache
	PriceCache       domain.PriceCache
	RateLimiter      domain.RateLimiter
	LockManager      domain.LockManager
	IdempotencyStore domain.IdempotencyStore
	SignalBus        domain.SignalBus

	// Blob storage and archival. Archiver is nil in modes that do not
	// wire S3; TradePruner deletes trade rows whose cold-storage export
	// has aged past retention.
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	Archiver    domain.Archiver
	TradePruner pipeline.TradePruner

	// Notifications
	Notifier *notify.Notifier

	// DB is the raw PostgreSQL handle, kept around for health checks.
	DB *postgres.Client
}

// needsS3 returns true for modes that touch object storage: the API
// stores and serves KYC documents, and full mode additionally runs the
// cold-storage archiver. The scrape worker never touches blobs.
func needsS3(mode string) bool {
	switch mode {
	case "api", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode persists: orders and trades in the API,
	// reference prices in the scraper) ---
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

	// Run migrations if enabled.
	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	tradeStore := postgres.NewTradeStore(pool)

	deps.DB = pgClient
	deps.UserStore = postgres.NewUserStore(pool)
	deps.BalanceStore = postgres.NewBalanceStore(pool)
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.ExecutionStore = postgres.NewExecutionStore(pool)
	deps.TradeStore = tradeStore
	deps.TradePruner = tradeStore
	deps.KYCStore = postgres.NewKYCStore(pool)
	deps.ContactStore = postgres.NewContactStore(pool)
	deps.SourceStore = postgres.NewSourceStore(pool)
	deps.PriceStore = postgres.NewPriceStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SessionStore = redis.NewSessionStore(redisClient)
	deps.BookCache = redis.NewBookCache(redisClient)
	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.IdempotencyStore = redis.NewIdempotencyStore(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that need object storage) ---
	if needsS3(cfg.Mode) {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, tradeStore, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
