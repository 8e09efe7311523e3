package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// GetCount reads a window counter. A missing key counts as zero.
func (c *Client) GetCount(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// IncrWindow increments a window counter by the given amount and returns the
// new value. The TTL is attached when the increment creates the key, so the
// counter expires with its window and needs no explicit deletion.
func (c *Client) IncrWindow(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error) {
	count, err := c.client.IncrBy(ctx, key, by).Result()
	if err != nil {
		return 0, err
	}

	// First increment in this window - attach the window TTL
	if count == by {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}

	return count, nil
}
