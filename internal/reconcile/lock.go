package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	lockScope      = "reconcile"
	defaultLockTTL = 2 * time.Minute
)

// redisStore defines the operations used by RedisLocker.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(scope, id string) string
}

// RedisLocker hands out per-external-reference locks using SETNX + TTL.
type RedisLocker struct {
	client redisStore
	ttl    time.Duration
}

// NewRedisLocker constructs a Redis-backed keyed locker.
func NewRedisLocker(client redisStore, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for locker")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

// Acquire tries to own the lock for the given key. When acquired, the returned
// release func frees the lock only if the owner value still matches.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(ctx context.Context) error, bool, error) {
	redisKey := l.client.LockKey(lockScope, key)
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		value, err := l.client.Get(ctx, redisKey)
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			return fmt.Errorf("read lock owner: %w", err)
		}
		if value != owner {
			return nil
		}
		if err := l.client.Del(ctx, redisKey); err != nil {
			return fmt.Errorf("delete lock: %w", err)
		}
		return nil
	}
	return release, true, nil
}
