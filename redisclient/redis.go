package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/traveltek-sync/ingestiond/config"
)

// Client wraps a redis.Client. The queue package takes the raw
// *redis.Client via Raw() since go-redis commands compose best used
// directly rather than re-wrapped one-by-one.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the queue backend URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.QueueBackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_BACKEND_URL: %w", err)
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

// Raw returns the underlying go-redis client.
func (r *Client) Raw() *redis.Client { return r.c }

func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

func (r *Client) Close() error { return r.c.Close() }
