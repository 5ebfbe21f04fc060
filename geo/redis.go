package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "geo:point:"

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("geo: redis ping: %w", err)
	}
	return client, nil
}

// RedisCache shares geocoding results between processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, address string) (Point, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+cacheKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return Point{}, false, nil
	}
	if err != nil {
		return Point{}, false, fmt.Errorf("geo: redis get: %w", err)
	}
	p, err := parsePointString(raw)
	if err != nil {
		return Point{}, false, err
	}
	return p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, address string, p Point) error {
	if err := c.client.Set(ctx, redisKeyPrefix+cacheKey(address), p.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("geo: redis set: %w", err)
	}
	return nil
}
