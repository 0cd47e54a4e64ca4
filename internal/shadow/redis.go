package shadow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/workbay/workbay/internal/shared"
)

// RedisCursor keeps the scan cursor in Redis.
type RedisCursor struct {
	client *redis.Client
	key    string
}

// NewRedisCursor returns a cursor stored under shared.ShadowCursorKey.
func NewRedisCursor(client *redis.Client) *RedisCursor {
	return &RedisCursor{client: client, key: shared.ShadowCursorKey()}
}

// Load returns the saved cursor, or zero before the first scan.
func (c *RedisCursor) Load(ctx context.Context) (int64, error) {
	raw, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("shadow: load cursor: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("shadow: corrupt cursor %q: %w", raw, err)
	}
	return id, nil
}

// Save stores id as the new cursor.
func (c *RedisCursor) Save(ctx context.Context, id int64) error {
	if err := c.client.Set(ctx, c.key, strconv.FormatInt(id, 10), 0).Err(); err != nil {
		return fmt.Errorf("shadow: save cursor: %w", err)
	}
	return nil
}

// RedisLocker serialises scans with a redislock lease.
type RedisLocker struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker builds a locker whose lease expires after ttl.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{locker: redislock.New(client), key: shared.ShadowScanLockKey(), ttl: ttl}
}

// Acquire obtains the scan lock without waiting.
func (l *RedisLocker) Acquire(ctx context.Context) (func(context.Context), error) {
	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, shared.ErrScanInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("shadow: obtain lock: %w", err)
	}
	return func(ctx context.Context) {
		_ = lock.Release(ctx)
	}, nil
}
