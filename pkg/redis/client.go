package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Opts configures a Client.
type Opts struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps the Redis client for best-effort event notifications.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient connects to Redis and verifies the connection with a PING.
func NewClient(ctx context.Context, logger *zap.Logger, o Opts) (*Client, error) {
	if o.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,

		PoolSize:     4,
		MinIdleConns: 1,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", o.Addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", o.Addr), zap.Int("db", o.DB))
	return &Client{client: rdb, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Publish publishes message on channel. Errors are logged, never returned.
func (c *Client) Publish(ctx context.Context, channel string, message any) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// Health pings the server. It serves as a metrics.ReadinessCheck.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
