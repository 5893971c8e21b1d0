// Package config defines the top-level configuration for the carbex
// trading platform and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CARBEX_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Auth     AuthConfig     `toml:"auth"`
	Market   MarketConfig   `toml:"market"`
	Scrape   ScrapeConfig   `toml:"scrape"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. A non-empty
// DSN wins over the individual fields.
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters. KYC
// documents and archival exports land in Bucket.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AuthConfig holds session and credential parameters. AdminEmail and
// AdminPassword seed the first administrator account on start when no
// admin exists yet.
type AuthConfig struct {
	SessionTTL        duration `toml:"session_ttl"`
	BcryptCost        int      `toml:"bcrypt_cost"`
	AllowRegistration bool     `toml:"allow_registration"`
	AdminEmail        string   `toml:"admin_email"`
	AdminPassword     string   `toml:"admin_password"`
}

// MarketConfig holds cash-market trading parameters. Decimal fields
// are written as strings in TOML ("0.005") so no binary float ever
// touches the fee math.
type MarketConfig struct {
	FeeRate       decimal.Decimal `toml:"fee_rate"`
	LotStep       decimal.Decimal `toml:"lot_step"`
	PriceTick     decimal.Decimal `toml:"price_tick"`
	BookDepth     int             `toml:"book_depth"`
	StatsCacheTTL duration        `toml:"stats_cache_ttl"`
	ExecLockTTL   duration        `toml:"exec_lock_ttl"`
	IdemTTL       duration        `toml:"idempotency_ttl"`
}

// ScrapeConfig holds reference-price scraping parameters. Per-source
// intervals in the database override DefaultInterval.
type ScrapeConfig struct {
	DefaultInterval  duration `toml:"default_interval"`
	Timeout          duration `toml:"timeout"`
	MaxRetries       int      `toml:"max_retries"`
	FailureThreshold int      `toml:"failure_threshold"`
	UserAgent        string   `toml:"user_agent"`
}

// ArchiveConfig holds cold-storage export parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
	HourUTC       int  `toml:"hour_utc"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
			ReadTimeout:     duration{15 * time.Second},
			WriteTimeout:    duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "carbex",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "eu-central-1",
			Bucket:         "carbex-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Auth: AuthConfig{
			SessionTTL:        duration{24 * time.Hour},
			BcryptCost:        12,
			AllowRegistration: true,
		},
		Market: MarketConfig{
			FeeRate:       decimal.RequireFromString("0.005"),
			LotStep:       decimal.RequireFromString("0.01"),
			PriceTick:     decimal.RequireFromString("0.01"),
			BookDepth:     50,
			StatsCacheTTL: duration{5 * time.Second},
			ExecLockTTL:   duration{15 * time.Second},
			IdemTTL:       duration{24 * time.Hour},
		},
		Scrape: ScrapeConfig{
			DefaultInterval:  duration{1 * time.Minute},
			Timeout:          duration{10 * time.Second},
			MaxRetries:       3,
			FailureThreshold: 5,
			UserAgent:        "carbex-pricefeed/1.0",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			HourUTC:       3,
		},
		Notify: NotifyConfig{
			Events: []string{"execution", "kyc_submitted", "contact_request", "scrape_failure"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"scrape": true,
	"full":   true,
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, scrape, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMin < 1 {
		errs = append(errs, "server: rate_limit_per_min must be >= 1")
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

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Auth
	if c.Auth.SessionTTL.Duration < time.Minute {
		errs = append(errs, "auth: session_ttl must be >= 1m")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Sprintf("auth: bcrypt_cost must be 4-31, got %d", c.Auth.BcryptCost))
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		errs = append(errs, "auth: admin_email and admin_password must be set together")
	}

	// Market
	if c.Market.FeeRate.IsNegative() || c.Market.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("market: fee_rate must be in [0, 1), got %s", c.Market.FeeRate))
	}
	if !c.Market.LotStep.IsPositive() {
		errs = append(errs, "market: lot_step must be > 0")
	}
	if !c.Market.PriceTick.IsPositive() {
		errs = append(errs, "market: price_tick must be > 0")
	}
	if c.Market.BookDepth < 1 {
		errs = append(errs, "market: book_depth must be >= 1")
	}
	if c.Market.ExecLockTTL.Duration < time.Second {
		errs = append(errs, "market: exec_lock_ttl must be >= 1s")
	}

	// Scrape
	if c.Scrape.DefaultInterval.Duration < time.Second {
		errs = append(errs, "scrape: default_interval must be >= 1s")
	}
	if c.Scrape.Timeout.Duration <= 0 {
		errs = append(errs, "scrape: timeout must be > 0")
	}
	if c.Scrape.MaxRetries < 0 {
		errs = append(errs, "scrape: max_retries must be >= 0")
	}
	if c.Scrape.FailureThreshold < 1 {
		errs = append(errs, "scrape: failure_threshold must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if c.Archive.HourUTC < 0 || c.Archive.HourUTC > 23 {
			errs = append(errs, fmt.Sprintf("archive: hour_utc must be 0-23, got %d", c.Archive.HourUTC))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
