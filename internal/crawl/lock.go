package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "playground:crawl:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is the per-agent "crawl in progress" flag shared by every
// service instance. The value is the job id holding the lock.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock creates a Redis-backed crawl lock.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if client == nil {
		panic("crawl: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLock{client: client, ttl: ttl}
}

// Acquire marks agentID as crawling under holder. It reports false when
// another holder already owns the flag.
func (l *RedisLock) Acquire(ctx context.Context, agentID, holder string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(agentID), holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("crawl: acquire lock: %w", err)
	}
	return ok, nil
}

// Rebind moves a lock held under one holder to another, e.g. from a
// provisional holder to the job id returned by the crawl service.
func (l *RedisLock) Rebind(ctx context.Context, agentID, from, to string) error {
	key := lockKey(agentID)
	current, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("crawl: read lock: %w", err)
	}
	if current != from {
		return nil
	}
	if err := l.client.Set(ctx, key, to, l.ttl).Err(); err != nil {
		return fmt.Errorf("crawl: rebind lock: %w", err)
	}
	return nil
}

// Release clears the flag if holder still owns it.
func (l *RedisLock) Release(ctx context.Context, agentID, holder string) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockKey(agentID)}, holder).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("crawl: release lock: %w", err)
	}
	return nil
}

// Holder returns the job id holding the flag, or "" when the agent is idle.
func (l *RedisLock) Holder(ctx context.Context, agentID string) (string, error) {
	val, err := l.client.Get(ctx, lockKey(agentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("crawl: read lock: %w", err)
	}
	return val, nil
}

func lockKey(agentID string) string {
	return lockKeyPrefix + agentID
}
