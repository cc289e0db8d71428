package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helixir/research-feed-service/internal/identifiers"
)

// Cache stores complete enrichment results by DOI.
type Cache interface {
	// Get returns the cached result, or nil when there is none.
	Get(ctx context.Context, doi string) (*Result, error)
	Set(ctx context.Context, doi string, res *Result) error
}

// NoopCache never stores anything.
type NoopCache struct{}

var _ Cache = NoopCache{}

func (NoopCache) Get(context.Context, string) (*Result, error) { return nil, nil }

func (NoopCache) Set(context.Context, string, *Result) error { return nil }

// RedisCache keeps results as JSON strings with a TTL.
type RedisCache struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a cache on an existing client.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, keyPrefix string) *RedisCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if keyPrefix == "" {
		keyPrefix = "feedingest:enrichment:"
	}
	return &RedisCache{client: client, ttl: ttl, keyPrefix: keyPrefix}
}

func (c *RedisCache) key(doi string) string {
	return c.keyPrefix + identifiers.DOIKey(doi)
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, doi string) (*Result, error) {
	raw, err := c.client.Get(ctx, c.key(doi)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		// A corrupt entry is treated as a miss and overwritten later.
		return nil, nil
	}
	return &res, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, doi string, res *Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal enrichment result: %w", err)
	}
	if err := c.client.Set(ctx, c.key(doi), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
