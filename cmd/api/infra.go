package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/agentpay/internal/config"
	"github.com/congo-pay/agentpay/internal/infra"
)

// connections holds the optional backing services. In development either may
// be nil.
type connections struct {
	db    *pgxpool.Pool
	cache *redis.Client
}

func connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (*connections, error) {
	conns := &connections{}
	if cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		conns.db = db
	}
	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			conns.close(logger)
			return nil, err
		}
		conns.cache = cache
	}
	return conns, nil
}

func (c *connections) close(logger *slog.Logger) {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	if c.db != nil {
		c.db.Close()
	}
}
