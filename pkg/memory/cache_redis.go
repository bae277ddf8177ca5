package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisCachePrefix namespaces result cache keys.
const DefaultRedisCachePrefix = "recall:cache:"

// RedisCacheConfig configures a RedisCache.
type RedisCacheConfig struct {
	Prefix          string
	TTL             time.Duration
	RefreshOnAccess bool
}

// RedisCache is a ResultCache shared across replicas. Each user has a set
// of its entry keys so InvalidateUser can drop them together. Redis errors
// are logged and treated as misses.
type RedisCache struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	refresh bool
	logger  Logger
}

// NewRedisCache creates a Redis-backed result cache.
func NewRedisCache(client redis.Cmdable, cfg RedisCacheConfig, logger Logger) *RedisCache {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisCachePrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &RedisCache{
		client:  client,
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
		refresh: cfg.RefreshOnAccess,
		logger:  logger,
	}
}

func (c *RedisCache) entryKey(key string) string {
	return c.prefix + "entry:" + key
}

func (c *RedisCache) userKey(userID string) string {
	return c.prefix + "user:" + userID
}

// Get implements ResultCache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]RerankedResult, bool) {
	data, err := c.client.Get(ctx, c.entryKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("result cache get failed", "error", err)
		}
		return nil, false
	}

	var results []RerankedResult
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Warn("result cache entry corrupt", "error", err)
		return nil, false
	}

	if c.refresh {
		if err := c.client.Expire(ctx, c.entryKey(key), c.ttl).Err(); err != nil {
			c.logger.Warn("result cache refresh failed", "error", err)
		}
	}
	return results, true
}

// Set implements ResultCache.
func (c *RedisCache) Set(ctx context.Context, key, userID string, results []RerankedResult) {
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Warn("result cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, c.entryKey(key), data, c.ttl).Err(); err != nil {
		c.logger.Warn("result cache set failed", "error", err)
		return
	}
	userKey := c.userKey(userID)
	if err := c.client.SAdd(ctx, userKey, key).Err(); err != nil {
		c.logger.Warn("result cache user index failed", "user_id", userID, "error", err)
		return
	}
	// The user set outlives its newest entry by one TTL at most.
	if err := c.client.Expire(ctx, userKey, 2*c.ttl).Err(); err != nil {
		c.logger.Warn("result cache user index expiry failed", "user_id", userID, "error", err)
	}
}

// InvalidateUser implements ResultCache.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) {
	userKey := c.userKey(userID)
	members, err := c.client.SMembers(ctx, userKey).Result()
	if err != nil {
		c.logger.Warn("result cache invalidate failed", "user_id", userID, "error", err)
		return
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, c.entryKey(m))
	}
	keys = append(keys, userKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("result cache invalidate failed", "user_id", userID, "error", err)
	}
}
