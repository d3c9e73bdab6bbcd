package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	latestKey = "vitals:latest"
	recentKey = "readings:recent"

	// recentMax bounds the readings:recent list; older entries fall off.
	recentMax = 100
)

// Client is the Redis-backed hot path for vitals. All values are opaque
// JSON payloads; callers own the encoding.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis at the given URL (redis://host:port/db form).
func New(url string, poolSize int) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// SetLatest stores the most recent vitals payload.
func (c *Client) SetLatest(ctx context.Context, payload []byte) error {
	if err := c.rdb.Set(ctx, latestKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("cache latest vitals: %w", err)
	}
	return nil
}

// GetLatest returns the most recent vitals payload, or nil on a cache miss.
func (c *Client) GetLatest(ctx context.Context) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, latestKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest vitals: %w", err)
	}
	return payload, nil
}

// PushRecent prepends a vitals payload to the recent-readings list and
// trims it to the newest recentMax entries.
func (c *Client) PushRecent(ctx context.Context, payload []byte) error {
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, recentKey, payload)
	pipe.LTrim(ctx, recentKey, 0, recentMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push recent reading: %w", err)
	}
	return nil
}

// GetRecent returns up to limit recent payloads, newest first.
func (c *Client) GetRecent(ctx context.Context, limit int) ([][]byte, error) {
	if limit <= 0 || limit > recentMax {
		limit = recentMax
	}
	values, err := c.rdb.LRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent readings: %w", err)
	}
	payloads := make([][]byte, len(values))
	for i, v := range values {
		payloads[i] = []byte(v)
	}
	return payloads, nil
}

// Ping reports cache reachability for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
