package guard

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const rateKeyPrefix = "guard:rate:v1:"

// RedisCounter is an AttemptCounter shared by every process using the same
// Redis. Each wallet is a sorted set of attempt timestamps.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter builds a Redis-backed attempt counter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Record(ctx context.Context, walletID string, at time.Time, window time.Duration) (int, error) {
	key := rateKeyPrefix + walletID
	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff(at, window))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (c *RedisCounter) Count(ctx context.Context, walletID string, at time.Time, window time.Duration) (int, error) {
	n, err := c.client.ZCount(ctx, rateKeyPrefix+walletID, "("+cutoff(at, window), "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func cutoff(at time.Time, window time.Duration) string {
	return strconv.FormatInt(at.Add(-window).UnixMilli(), 10)
}
