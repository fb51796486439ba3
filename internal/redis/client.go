// Package redis is the only package that imports go-redis. Stores accept the
// Cmdable alias so they can be exercised against miniredis in tests.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cmdable is the command surface stores depend on.
type Cmdable = redis.Cmdable

// Nil is returned by GET when the key does not exist.
const Nil = redis.Nil

// Config holds the parameters needed to connect to a Redis instance.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds dial, read, and write on every connection.
	Timeout time.Duration
}

// Client wraps a go-redis client. RDB is the handle stores use.
type Client struct {
	RDB *redis.Client
}

// NewClient creates a new Redis client configured from cfg. No connection
// is made until the first command or Ping.
func NewClient(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	return &Client{RDB: rdb}
}

// Ping checks connectivity, used once at startup so a misconfigured address
// fails fast instead of on the first login.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.RDB.Options().Addr, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.RDB.Close()
}
