package external

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radprogressor-server/internal/domain"
)

const narrativeKeyPrefix = "radprog:narrative:"

// CacheClient wraps a Redis client as a TTL-bounded text cache
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// CachedText represents a cached value with metadata
type CachedText struct {
	Value     string    `json:"value"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCacheClient creates a new cache client and checks the connection
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newCacheClient(client, config.DefaultTTL), nil
}

func newCacheClient(client *redis.Client, ttl time.Duration) *CacheClient {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CacheClient{redis: client, defaultTTL: ttl}
}

// Get implements domain.TextCache.
func (c *CacheClient) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, narrativeKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cached narrative: %w", err)
	}

	var cached CachedText
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal cached narrative: %w", err)
	}
	return cached.Value, true, nil
}

// Set implements domain.TextCache.
func (c *CacheClient) Set(ctx context.Context, key, value string) error {
	now := time.Now()
	data, err := json.Marshal(CachedText{
		Value:     value,
		CachedAt:  now,
		ExpiresAt: now.Add(c.defaultTTL),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal narrative: %w", err)
	}

	if err := c.redis.Set(ctx, narrativeKeyPrefix+key, data, c.defaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cached narrative: %w", err)
	}
	return nil
}

// Ping checks if Redis connection is alive
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}
