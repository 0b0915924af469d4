package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/config"
)

// Client wraps the go-redis client with health checking capabilities.
type Client struct {
	*redis.Client
}

// New creates a Redis client from the cache configuration and pings it.
// Returns nil if the URL is empty (Redis not configured).
func New(ctx context.Context, cfg config.Redis) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	applyOverrides(opts, cfg)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// applyOverrides copies the non-zero pool and timeout settings onto opts.
func applyOverrides(opts *redis.Options, cfg config.Redis) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if d := cfg.DialTimeout.Std(); d > 0 {
		opts.DialTimeout = d
	}
	if d := cfg.ReadTimeout.Std(); d > 0 {
		opts.ReadTimeout = d
	}
	if d := cfg.WriteTimeout.Std(); d > 0 {
		opts.WriteTimeout = d
	}
}

// Health checks if the Redis connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
