package calls

import (
	"context"
	"errors"
	"time"

	"voice-console/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard enforces one active call per identity beyond this process.
type Guard interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// RedisGuard holds an exclusive slot per identity while a call is up. Slots
// are owned by this process instance, so a late release never frees a slot
// another process took after the TTL ran out. The TTL bounds how long a
// crashed process can keep the slot.
type RedisGuard struct {
	rdb   *redis.Client
	ttl   time.Duration
	owner string
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) (*RedisGuard, error) {
	if rdb == nil {
		return nil, errors.New("calls: redis client is nil")
	}
	if ttl <= 0 {
		return nil, errors.New("calls: active call ttl must be > 0")
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, owner: uuid.NewString()}, nil
}

func activeCallKey(userID string) string { return "voice:active:" + userID }

func (g *RedisGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, errors.New("calls: user id required")
	}
	return utils.AcquireSlot(ctx, g.rdb, activeCallKey(userID), g.owner, g.ttl)
}

func (g *RedisGuard) Release(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return utils.ReleaseSlot(ctx, g.rdb, activeCallKey(userID), g.owner)
}
