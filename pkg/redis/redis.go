package redis

import (
	"context"
	"fmt"
	"time"

	"expert-booking/pkg/utils"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps go-redis. Used to remember which payment events were already applied.
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewClient connects and pings.
func NewClient(cfg utils.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis connected", zap.String("addr", cfg.Addr))

	return &Client{rdb: rdb, logger: logger}, nil
}

const eventPrefix = "payment:event:"

// Claim marks an event id as seen. It returns false when another delivery already claimed it.
func (c *Client) Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, eventPrefix+eventID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

// Confirm keeps an applied event's claim for ttl.
func (c *Client) Confirm(ctx context.Context, eventID string, ttl time.Duration) error {
	ok, err := c.rdb.Expire(ctx, eventPrefix+eventID, ttl).Result()
	if err != nil {
		return fmt.Errorf("confirm event %s: %w", eventID, err)
	}
	if !ok {
		// The in-flight claim lapsed before the apply finished.
		return c.rdb.Set(ctx, eventPrefix+eventID, "1", ttl).Err()
	}
	return nil
}

// Release forgets an event id so a redelivery is processed again.
func (c *Client) Release(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, eventPrefix+eventID).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
