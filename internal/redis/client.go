package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/omnidesk/console-server/internal/config"
)

type Client struct {
	*redis.Client
}

// NewClient connects using a redis:// or rediss:// URL. Pool settings in the
// URL take precedence over the defaults.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = config.RedisPoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = config.RedisMinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = config.RedisDialTimeout
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

// Healthy reports whether redis answers a ping within timeout.
func (c *Client) Healthy(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Ping(ctx).Err() == nil
}

// PairingTopic is the pub/sub channel carrying pairing state for a connection.
func PairingTopic(connectionID string) string {
	return "pairing:" + connectionID
}
