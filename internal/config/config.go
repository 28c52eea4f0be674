package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envDevelopment = "development"

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"AgentPay"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	APIRateLimit   int           `env:"API_RATE_LIMIT_PER_MIN" envDefault:"120"`
	IntentTTL      time.Duration `env:"INTENT_TTL" envDefault:"15m"`
	HistoryMax     int           `env:"LEDGER_HISTORY_MAX" envDefault:"1000"`
	LookupTimeout  time.Duration `env:"PROVIDER_LOOKUP_TIMEOUT" envDefault:"10s"`
	OTelEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Guard        GuardConfig        `envPrefix:"GUARD_"`
	Provider     ProviderConfig     `envPrefix:"PROVIDER_"`
	Auth         AuthConfig         `envPrefix:"AUTH_"`
	Notification NotificationConfig `envPrefix:"NOTIFY_"`

	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

// GuardConfig holds the default guard limits. An empty limit leaves its
// guard out. PolicyFile, when set, replaces the limits entirely.
type GuardConfig struct {
	TxLimit         string   `env:"TX_LIMIT"`
	DailyBudget     string   `env:"DAILY_BUDGET"`
	HourlyBudget    string   `env:"HOURLY_BUDGET"`
	RateLimitPerMin int      `env:"RATE_LIMIT_PER_MIN"`
	Whitelist       []string `env:"WHITELIST" envSeparator:","`
	PolicyFile      string   `env:"POLICY_FILE"`
	Concurrent      bool     `env:"CONCURRENT"`
}

// ProviderConfig selects the payment provider adapter.
type ProviderConfig struct {
	Kind    string        `env:"KIND" envDefault:"static"`
	Name    string        `env:"NAME"`
	URL     string        `env:"URL"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
	Fee     string        `env:"FEE" envDefault:"0"`
}

// AuthConfig holds API credentials. APIKeys are "subject:bcrypt-hash" pairs.
type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET"`
	Issuer    string        `env:"ISSUER" envDefault:"agentpay"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	APIKeys   []string      `env:"API_KEYS" envSeparator:","`
}

// NotificationConfig selects where ledger events are published.
type NotificationConfig struct {
	Sink          string   `env:"SINK" envDefault:"log"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC" envDefault:"agentpay.ledger"`
	RabbitMQURL   string   `env:"RABBITMQ_URL"`
	RabbitMQQueue string   `env:"RABBITMQ_QUEUE" envDefault:"agentpay.ledger"`
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Provider.Kind = strings.ToLower(cfg.Provider.Kind)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Provider.Kind {
	case "static":
	case "http":
		if c.Provider.URL == "" {
			return fmt.Errorf("PROVIDER_URL must be set for the http provider")
		}
	default:
		return fmt.Errorf("unknown PROVIDER_KIND %q", c.Provider.Kind)
	}

	if c.IsDevelopment() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("AUTH_JWT_SECRET or AUTH_API_KEYS must be set")
	}
	return nil
}

// IsDevelopment reports whether in-memory fallbacks and open access are allowed.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == envDevelopment
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
