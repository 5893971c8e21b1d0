package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CARBEX_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CARBEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "CARBEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CARBEX_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "CARBEX_SERVER_RATE_LIMIT_PER_MIN")
	setDuration(&cfg.Server.ReadTimeout, "CARBEX_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "CARBEX_SERVER_WRITE_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "CARBEX_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "CARBEX_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "CARBEX_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CARBEX_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CARBEX_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "CARBEX_DATABASE_USER")
	setStr(&cfg.Database.Password, "CARBEX_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CARBEX_DATABASE_SSLMODE")
	setStr(&cfg.Database.SSLMode, "CARBEX_DATABASE_SSL_MODE") // compatibility alias
	setInt(&cfg.Database.PoolMaxConns, "CARBEX_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CARBEX_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "CARBEX_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CARBEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CARBEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CARBEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CARBEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CARBEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CARBEX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CARBEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CARBEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "CARBEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CARBEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CARBEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CARBEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CARBEX_S3_FORCE_PATH_STYLE")

	// ── Auth ──
	setDuration(&cfg.Auth.SessionTTL, "CARBEX_AUTH_SESSION_TTL")
	setInt(&cfg.Auth.BcryptCost, "CARBEX_AUTH_BCRYPT_COST")
	setBool(&cfg.Auth.AllowRegistration, "CARBEX_AUTH_ALLOW_REGISTRATION")
	setStr(&cfg.Auth.AdminEmail, "CARBEX_AUTH_ADMIN_EMAIL")
	setStr(&cfg.Auth.AdminPassword, "CARBEX_AUTH_ADMIN_PASSWORD")

	// ── Market ──
	setDecimal(&cfg.Market.FeeRate, "CARBEX_MARKET_FEE_RATE")
	setDecimal(&cfg.Market.LotStep, "CARBEX_MARKET_LOT_STEP")
	setDecimal(&cfg.Market.PriceTick, "CARBEX_MARKET_PRICE_TICK")
	setInt(&cfg.Market.BookDepth, "CARBEX_MARKET_BOOK_DEPTH")
	setDuration(&cfg.Market.StatsCacheTTL, "CARBEX_MARKET_STATS_CACHE_TTL")
	setDuration(&cfg.Market.ExecLockTTL, "CARBEX_MARKET_EXEC_LOCK_TTL")
	setDuration(&cfg.Market.IdemTTL, "CARBEX_MARKET_IDEMPOTENCY_TTL")

	// ── Scrape ──
	setDuration(&cfg.Scrape.DefaultInterval, "CARBEX_SCRAPE_DEFAULT_INTERVAL")
	setDuration(&cfg.Scrape.Timeout, "CARBEX_SCRAPE_TIMEOUT")
	setInt(&cfg.Scrape.MaxRetries, "CARBEX_SCRAPE_MAX_RETRIES")
	setInt(&cfg.Scrape.FailureThreshold, "CARBEX_SCRAPE_FAILURE_THRESHOLD")
	setStr(&cfg.Scrape.UserAgent, "CARBEX_SCRAPE_USER_AGENT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CARBEX_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "CARBEX_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.HourUTC, "CARBEX_ARCHIVE_HOUR_UTC")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CARBEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CARBEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CARBEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CARBEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CARBEX_MODE")
	setStr(&cfg.LogLevel, "CARBEX_LOG_LEVEL")
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

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
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
