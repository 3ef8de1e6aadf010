package numbers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheKey = "voice:numbers:owned"

// RedisCache keeps the last known owned-number set so a restarted console
// can show its numbers before the first refresh completes.
type RedisCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, key string, ttl time.Duration) (*RedisCache, error) {
	if rdb == nil {
		return nil, errors.New("numbers: redis client is nil")
	}
	if key == "" {
		key = defaultCacheKey
	}
	return &RedisCache{rdb: rdb, key: key, ttl: ttl}, nil
}

func (c *RedisCache) Load(ctx context.Context) ([]OwnedNumber, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("numbers: cache get: %w", err)
	}
	var owned []OwnedNumber
	if err := json.Unmarshal(raw, &owned); err != nil {
		// Stale shape from an older build; treat as a miss.
		return nil, false, nil
	}
	return owned, true, nil
}

func (c *RedisCache) Store(ctx context.Context, owned []OwnedNumber) error {
	raw, err := json.Marshal(owned)
	if err != nil {
		return fmt.Errorf("numbers: cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("numbers: cache set: %w", err)
	}
	return nil
}
