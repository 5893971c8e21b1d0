package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults() did not validate: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Server.Port = 0
	cfg.Market.LotStep = cfg.Market.LotStep.Neg()
	cfg.Auth.BcryptCost = 99

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"unknown mode", "server: port", "lot_step", "bcrypt_cost"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateFeeRateBounds(t *testing.T) {
	tests := []struct {
		name    string
		feeRate string
		ok      bool
	}{
		{"zero fee", "0", true},
		{"typical fee", "0.005", true},
		{"negative", "-0.01", false},
		{"one", "1", false},
		{"above one", "1.5", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Market.FeeRate = decimal.RequireFromString(tt.feeRate)
			got := cfg.Validate() == nil
			if got != tt.ok {
				t.Errorf("Validate() ok = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CARBEX_SERVER_PORT", "9100")
	t.Setenv("CARBEX_DATABASE_PASSWORD", "hunter2")
	t.Setenv("CARBEX_MARKET_FEE_RATE", "0.01")
	t.Setenv("CARBEX_AUTH_SESSION_TTL", "2h")
	t.Setenv("CARBEX_SERVER_CORS_ORIGINS", "https://app.carbex.eu, https://staging.carbex.eu")
	t.Setenv("CARBEX_MODE", "scrape")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Database.Password != "hunter2" {
		t.Errorf("Database.Password = %q, want hunter2", cfg.Database.Password)
	}
	if cfg.Market.FeeRate.String() != "0.01" {
		t.Errorf("Market.FeeRate = %s, want 0.01", cfg.Market.FeeRate)
	}
	if cfg.Auth.SessionTTL.Duration != 2*time.Hour {
		t.Errorf("Auth.SessionTTL = %v, want 2h", cfg.Auth.SessionTTL.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://staging.carbex.eu" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Mode != "scrape" {
		t.Errorf("Mode = %q, want scrape", cfg.Mode)
	}
}

func TestEnvOverridesIgnoreMalformed(t *testing.T) {
	t.Setenv("CARBEX_SERVER_PORT", "not-a-number")
	t.Setenv("CARBEX_MARKET_FEE_RATE", "one percent")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.Port != Defaults().Server.Port {
		t.Errorf("malformed port override applied: %d", cfg.Server.Port)
	}
	if !cfg.Market.FeeRate.Equal(Defaults().Market.FeeRate) {
		t.Errorf("malformed fee override applied: %s", cfg.Market.FeeRate)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Auth.AdminPassword = "admin-secret"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"database password": red.Database.Password,
		"redis password":    red.Redis.Password,
		"s3 secret":         red.S3.SecretKey,
		"admin password":    red.Auth.AdminPassword,
		"telegram token":    red.Notify.TelegramToken,
	} {
		if got != "***" {
			t.Errorf("%s not redacted: %q", name, got)
		}
	}

	// Originals untouched, slices detached.
	if cfg.Database.Password != "pg-secret" {
		t.Error("redaction mutated the original config")
	}
	red.Server.CORSOrigins[0] = "mutated"
	if cfg.Server.CORSOrigins[0] == "mutated" {
		t.Error("redacted copy shares the CORS origins slice")
	}
}
