package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/taucao-ruby/soleil-hostel-sub004/config"
)

// RedisCache backs the idempotency guard: a mutual-exclusion lock per
// operation key plus a stored-result map with TTLs.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
	}
}

// releaseScript deletes the lock only when it still holds our token, so an
// expired-and-reacquired lock is never released by the previous owner.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (c *RedisCache) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, c.client, []string{lockKey(key)}, token).Err()
}

func (c *RedisCache) GetResult(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, resultKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) PutResult(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, resultKey(key), value, ttl).Err()
}

// DeleteResult clears a stored result. Recovery-only: normal operation relies
// on TTL expiry.
func (c *RedisCache) DeleteResult(ctx context.Context, key string) error {
	return c.client.Del(ctx, resultKey(key)).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func lockKey(key string) string {
	return fmt.Sprintf("idem:lock:%s", key)
}

func resultKey(key string) string {
	return fmt.Sprintf("idem:result:%s", key)
}
