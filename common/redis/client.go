package redis

import (
	"context"
	"fmt"

	"killtracker/common/config"

	"github.com/go-redis/redis/v8"
)

// Client is an alias so callers need not import go-redis directly.
type Client = redis.Client

// NewRedisClient creates a client from cfg. It does not connect; zero pool
// and timeout settings keep the go-redis defaults.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
}

// Ping checks connectivity.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s unreachable: %w", client.Options().Addr, err)
	}
	return nil
}

// Close closes client if it is not nil.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
