package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the ledger needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisLedger shares processed keys between processes through Redis.
// Expiry is delegated to the key TTL.
type RedisLedger struct {
	rdb     RedisClient
	ttl     time.Duration
	prefix  string
	nowFunc func() time.Time
}

// NewRedisLedger returns a ledger storing keys under "olie:webhook:".
func NewRedisLedger(rdb RedisClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{rdb: rdb, ttl: ttl, prefix: "olie:webhook:", nowFunc: time.Now}
}

func (l *RedisLedger) key(k string) string { return l.prefix + k }

func (l *RedisLedger) AlreadyProcessed(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (l *RedisLedger) MarkProcessed(ctx context.Context, key string) (bool, error) {
	receivedAt := strconv.FormatInt(l.nowFunc().UnixMilli(), 10)
	ok, err := l.rdb.SetNX(ctx, l.key(key), receivedAt, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Forget(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
