package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	CacheTTL  time.Duration
	KeyPrefix string
}

// RedisCache is a cache shared between processes, backed by Redis. Values are
// stored as JSON.
type RedisCache[K comparable, V any] struct {
	redisClient redis.UniversalClient
	logger      zerolog.Logger
	ttl         time.Duration
	prefix      string
	fallback    Fetcher[K, V]
}

// NewRedisCache creates and connects a RedisCache. It pings the server before
// returning. fallback is optional.
func NewRedisCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
	fallback Fetcher[K, V],
) (*RedisCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return NewRedisCacheWithClient(rdb, cfg, logger, fallback), nil
}

// NewRedisCacheWithClient wraps an existing client; the cache takes ownership of it.
func NewRedisCacheWithClient[K comparable, V any](
	client redis.UniversalClient,
	cfg *RedisConfig,
	logger zerolog.Logger,
	fallback Fetcher[K, V],
) *RedisCache[K, V] {
	return &RedisCache[K, V]{
		redisClient: client,
		logger:      logger.With().Str("component", "RedisCache").Logger(),
		ttl:         cfg.CacheTTL,
		prefix:      cfg.KeyPrefix,
		fallback:    fallback,
	}
}

// Fetch retrieves an item by key. On a miss it loads the value from the fallback
// and writes it back to Redis in the background.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	value, err := c.fetchFromRedis(ctx, key)
	if err == nil {
		return value, nil
	}

	// redis.Nil is a normal miss; anything else is a genuine problem.
	var zero V
	if !errors.Is(err, redis.Nil) {
		c.logger.Error().Err(err).Msg("Unexpected Redis error during fetch.")
		return zero, err
	}

	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in cache and no fallback is configured: %w", key, ErrCacheMiss)
	}
	sourceValue, sourceErr := c.fallback.Fetch(ctx, key)
	if sourceErr != nil {
		return zero, sourceErr
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if writeErr := c.Write(writeCtx, key, sourceValue); writeErr != nil {
			c.logger.Error().Err(writeErr).Str("key", c.redisKey(key)).Msg("Failed to write to cache in background.")
		}
	}()

	return sourceValue, nil
}

func (c *RedisCache[K, V]) redisKey(key K) string {
	return fmt.Sprintf("%s%v", c.prefix, key)
}

func (c *RedisCache[K, V]) fetchFromRedis(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := c.redisKey(key)
	cachedData, err := c.redisClient.Get(ctx, stringKey).Bytes()
	if err != nil {
		return zero, err
	}

	var value V
	if err := json.Unmarshal(cachedData, &value); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to unmarshal cached data.")
		return zero, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Redis cache hit.")
	return value, nil
}

// Write sets a value in Redis with the configured TTL.
func (c *RedisCache[K, V]) Write(ctx context.Context, key K, value V) error {
	stringKey := c.redisKey(key)
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := c.redisClient.Set(ctx, stringKey, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Successfully stored data in Redis cache.")
	return nil
}

// Invalidate deletes key from Redis.
func (c *RedisCache[K, V]) Invalidate(ctx context.Context, key K) error {
	if err := c.redisClient.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisCache[K, V]) Close() error {
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.redisClient.Close()
	}
	return nil
}
