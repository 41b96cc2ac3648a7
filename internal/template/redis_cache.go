package template

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares template content between evaluation runs through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 = no expiry
}

// NewRedisCache connects to the Redis instance at url.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: "rice:eval:template:",
		ttl:    ttl,
	}, nil
}

// Get returns the cached content for key.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	content, err := c.client.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading template cache: %w", err)
	}
	return content, true, nil
}

// Set stores content for key unless it is already present.
func (c *RedisCache) Set(ctx context.Context, key, content string) error {
	if err := c.client.SetNX(ctx, c.prefix+key, content, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing template cache: %w", err)
	}
	return nil
}

// Delete removes key from the cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("deleting template cache entry: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
