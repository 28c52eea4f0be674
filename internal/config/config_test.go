package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.ShutdownPeriod != 10*time.Second || cfg.IntentTTL != 15*time.Minute {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.Provider.Kind != "static" || cfg.Notification.Sink != "log" {
		t.Fatalf("unexpected adapters %+v %+v", cfg.Provider, cfg.Notification)
	}
}

func TestParseGuardAndAuthSettings(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PORT", ":9000")
	t.Setenv("GUARD_TX_LIMIT", "50.00")
	t.Setenv("GUARD_RATE_LIMIT_PER_MIN", "10")
	t.Setenv("GUARD_WHITELIST", "0xabc,merchant-1")
	t.Setenv("GUARD_CONCURRENT", "true")
	t.Setenv("AUTH_TOKEN_TTL", "30m")
	t.Setenv("NOTIFY_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Address() != ":9000" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.Guard.TxLimit != "50.00" || cfg.Guard.RateLimitPerMin != 10 || !cfg.Guard.Concurrent {
		t.Fatalf("unexpected guard config %+v", cfg.Guard)
	}
	if len(cfg.Guard.Whitelist) != 2 || cfg.Guard.Whitelist[1] != "merchant-1" {
		t.Fatalf("unexpected whitelist %v", cfg.Guard.Whitelist)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected token ttl %s", cfg.Auth.TokenTTL)
	}
	if len(cfg.Notification.KafkaBrokers) != 2 {
		t.Fatalf("unexpected brokers %v", cfg.Notification.KafkaBrokers)
	}
}

func TestParseRequiresInfrastructureOutsideDevelopment(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"no database", map[string]string{"DATABASE_URL": "", "REDIS_URL": "redis://x", "AUTH_JWT_SECRET": "s"}},
		{"no redis", map[string]string{"DATABASE_URL": "postgres://x", "REDIS_URL": "", "AUTH_JWT_SECRET": "s"}},
		{"no auth", map[string]string{"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x", "AUTH_JWT_SECRET": "", "AUTH_API_KEYS": ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("APP_ENV", "production")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Parse(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseRejectsHTTPProviderWithoutURL(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PROVIDER_KIND", "http")
	if _, err := Parse(); err == nil {
		t.Fatalf("expected error for http provider without url")
	}
}
