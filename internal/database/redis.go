package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"roomhub-messaging/internal/config"
)

// RedisDB wraps the Redis client backing the change feed
type RedisDB struct {
	Client *redis.Client
}

// NewRedisDB creates a new Redis client from config
func NewRedisDB(ctx context.Context, cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisDB{Client: client}, nil
}

// Close closes the Redis client connection
func (r *RedisDB) Close() error {
	return r.Client.Close()
}
