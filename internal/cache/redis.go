package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TariffKeyPrefix    = "tariff:"
	PromoKeyPrefix     = "promo:"
	TaskCancelPrefix   = "taskcancel:"
	RateLimitPrefix    = "ratelimit:"

	DefaultTTL  = 5 * time.Minute
	TariffTTL   = 10 * time.Minute
	TaskFlagTTL = 2 * time.Hour
)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Set stores a value in cache with TTL
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes a key from cache
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeletePattern removes all keys matching a pattern
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Exists checks if a key exists
func (c *RedisCache) Exists(ctx context.Context, key string) bool {
	result, err := c.client.Exists(ctx, key).Result()
	return err == nil && result > 0
}

// InvalidateTariff clears the cached copy of a tariff, forcing the next
// preview/commit to re-read it from the store.
func (c *RedisCache) InvalidateTariff(ctx context.Context, tariffID string) error {
	return c.Delete(ctx, TariffKeyPrefix+tariffID)
}

// SetTaskCancel raises the cancel flag for a user's in-flight streaming
// task. The streaming proxy polls CheckTaskCancel on chunk boundaries.
func (c *RedisCache) SetTaskCancel(ctx context.Context, userID int64, taskID string) error {
	return c.client.Set(ctx, TaskCancelPrefix+taskID, userID, TaskFlagTTL).Err()
}

// CheckTaskCancel reports whether the given task has been flagged for
// cancellation.
func (c *RedisCache) CheckTaskCancel(ctx context.Context, taskID string) bool {
	return c.Exists(ctx, TaskCancelPrefix+taskID)
}

// ClearTaskCancel removes a task's cancel flag once the stream has
// terminated, successfully or otherwise.
func (c *RedisCache) ClearTaskCancel(ctx context.Context, taskID string) error {
	return c.Delete(ctx, TaskCancelPrefix+taskID)
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
