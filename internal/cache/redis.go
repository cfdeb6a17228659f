package cache

import (
	"context"
	"net"
	"strconv"
	"time"

	"example.com/blocktix/config"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// ErrCacheMiss is returned when a key is absent or expired
var ErrCacheMiss = errors.New("key not found in cache")

// RedisCache holds the shared Redis connection. A disabled cache has no client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects when cfg enables Redis and returns a disabled cache otherwise
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to Redis at %s", client.Options().Addr)
	}
	return &RedisCache{client: client}, nil
}

// Enabled reports whether the cache has a live connection
func (c *RedisCache) Enabled() bool {
	return c != nil && c.client != nil
}

// Ping serves the health check
func (c *RedisCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return errors.New("redis is disabled")
	}
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
