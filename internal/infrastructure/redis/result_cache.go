package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victoralfred/varlab/internal/domain/risk"
)

const resultKeyPrefix = "varlab:run:"

// ResultCache implements risk.ResultCache using Redis
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClient creates the Redis client shared by the result cache and the quota limiter
func NewClient(addr string, db int, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewResultCacheWithClient creates a new Redis result cache on an existing client
func NewResultCacheWithClient(client *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{
		client: client,
		ttl:    ttl,
	}
}

// Get loads a cached run. A missing key yields risk.ErrCacheMiss.
func (c *ResultCache) Get(ctx context.Context, key string) (*risk.RunResult, error) {
	data, err := c.client.Get(ctx, resultKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, risk.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cached run: %w", err)
	}

	var result risk.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize cached run: %w", err)
	}

	return &result, nil
}

// Set stores a run under key for the configured TTL; a zero TTL keeps it until evicted
func (c *ResultCache) Set(ctx context.Context, key string, result *risk.RunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	if err := c.client.Set(ctx, resultKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache run: %w", err)
	}

	return nil
}

// Ping checks the Redis connection
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (c *ResultCache) Close() error {
	return c.client.Close()
}
