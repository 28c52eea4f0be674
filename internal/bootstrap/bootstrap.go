// Package bootstrap assembles the payment core from configuration. The HTTP
// server and the stdio MCP server share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/auth"
	"github.com/congo-pay/agentpay/internal/config"
	"github.com/congo-pay/agentpay/internal/guard"
	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/notification"
	"github.com/congo-pay/agentpay/internal/payments"
	"github.com/congo-pay/agentpay/internal/provider"
	"github.com/congo-pay/agentpay/internal/storage"
	"github.com/congo-pay/agentpay/internal/wallet"
)

// Components are the wired services. DB and Cache may be nil in
// development, in which case in-memory stores are used.
type Components struct {
	Transactor storage.Transactor
	Wallets    wallet.Repository
	Ledger     ledger.Ledger
	Guards     *guard.Chain
	Gateway    provider.Gateway
	Payments   *payments.Service
	Auth       *auth.Service

	closers []func() error
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Components, error) {
	if !cfg.IsDevelopment() && (db == nil || cache == nil) {
		return nil, fmt.Errorf("postgres and redis are required when APP_ENV=%s", cfg.AppEnv)
	}

	c := &Components{}
	ledgerOpts := []ledger.Option{ledger.WithMaxHistory(cfg.HistoryMax)}
	if db != nil {
		c.Transactor = storage.NewPostgresTransactor(db)
		c.Wallets = wallet.NewPostgresRepository(db)
		c.Ledger = ledger.NewPostgresLedger(db, ledgerOpts...)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		c.Transactor = storage.NewMemoryTransactor()
		c.Wallets = wallet.NewMemoryRepository()
		c.Ledger = ledger.NewInMemory(ledgerOpts...)
	}

	guards, err := buildGuards(cfg, c.Ledger, cache, logger)
	if err != nil {
		return nil, err
	}
	c.Guards = guards

	gateway, err := buildGateway(cfg.Provider)
	if err != nil {
		return nil, err
	}
	c.Gateway = gateway

	notifier, closeNotifier, err := notification.Open(notification.Config{
		Sink:          cfg.Notification.Sink,
		KafkaBrokers:  cfg.Notification.KafkaBrokers,
		KafkaTopic:    cfg.Notification.KafkaTopic,
		RabbitMQURL:   cfg.Notification.RabbitMQURL,
		RabbitMQQueue: cfg.Notification.RabbitMQQueue,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open notifier: %w", err)
	}
	c.closers = append(c.closers, closeNotifier)

	var intents payments.IntentStore
	if cache != nil {
		intents = payments.NewRedisIntentStore(cache)
	} else {
		intents = payments.NewMemoryIntentStore()
	}

	c.Payments, err = payments.NewService(payments.Deps{
		Transactor:    c.Transactor,
		Wallets:       c.Wallets,
		Ledger:        c.Ledger,
		Guards:        c.Guards,
		Gateway:       c.Gateway,
		Intents:       intents,
		Notifier:      notifier,
		Logger:        logger,
		LookupTimeout: cfg.LookupTimeout,
		IntentTTL:     cfg.IntentTTL,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	keys, err := auth.ParseAPIKeys(cfg.Auth.APIKeys)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	c.Auth = auth.NewService(auth.Config{
		JWTSecret: cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
		TokenTTL:  cfg.Auth.TokenTTL,
		APIKeys:   keys,
	})
	if !c.Auth.Enabled() {
		logger.Warn("authentication disabled, all requests run as anonymous")
	}

	logger.Info("payment core ready",
		slog.Int("guards", len(c.Guards.Guards())),
		slog.String("provider", c.Gateway.Name()),
		slog.String("notification_sink", cfg.Notification.Sink),
	)
	return c, nil
}

// Close releases the notifier and other owned resources.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildGuards(cfg config.Config, outflow guard.OutflowSource, cache *redis.Client, logger *slog.Logger) (*guard.Chain, error) {
	var policies []guard.Policy
	if cfg.Guard.PolicyFile != "" {
		loaded, err := guard.LoadPolicies(cfg.Guard.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load guard policy: %w", err)
		}
		policies = loaded
	} else {
		policies = guard.DefaultPolicies(guard.Limits{
			TxLimit:         cfg.Guard.TxLimit,
			DailyBudget:     cfg.Guard.DailyBudget,
			HourlyBudget:    cfg.Guard.HourlyBudget,
			RateLimitPerMin: cfg.Guard.RateLimitPerMin,
			Whitelist:       cfg.Guard.Whitelist,
		})
	}
	if len(policies) == 0 && cfg.IsDevelopment() {
		logger.Warn("no guard limits configured, payments are unrestricted")
		policies = []guard.Policy{{Kind: guard.KindRecipientWhitelist}}
	}

	var attempts guard.AttemptCounter
	if cache != nil {
		attempts = guard.NewRedisCounter(cache)
	} else {
		attempts = guard.NewMemoryCounter()
	}

	guards, err := guard.Build(policies, guard.Deps{Outflow: outflow, Attempts: attempts})
	if err != nil {
		return nil, err
	}
	var opts []guard.ChainOption
	if cfg.Guard.Concurrent {
		opts = append(opts, guard.WithConcurrentEvaluation())
	}
	return guard.NewChain(guards, opts...)
}

func buildGateway(cfg config.ProviderConfig) (provider.Gateway, error) {
	switch cfg.Kind {
	case "http":
		return provider.NewHTTPGateway(provider.HTTPConfig{
			Name:    cfg.Name,
			BaseURL: cfg.URL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
	default:
		fee, err := decimal.NewFromString(cfg.Fee)
		if err != nil {
			return nil, fmt.Errorf("invalid PROVIDER_FEE %q: %w", cfg.Fee, err)
		}
		return provider.NewStatic(fee), nil
	}
}
