// Package cache wraps go-redis/v9 for the two things this gateway caches
// outside Postgres: short-TTL market data quotes (venue.MarketData only;
// order books are not cached) and the Notification Bus's pub/sub fan-out
// across gateway instances. Follows the wrap-the-driver shape common in
// this codebase (RedisClient wrapping *redis.Client, a Config struct
// driving pool tuning, a connectivity check at construction), without
// hit/miss/eviction metrics; observability.Metrics has no cache collectors
// either.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue"
)

// Config configures the Redis connection pool.
type Config struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// Client wraps *redis.Client with the gateway's cache and pub/sub
// conveniences.
type Client struct {
	*redis.Client
}

// New establishes a Redis connection and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping failed: %w", err)
	}

	return &Client{Client: rdb}, nil
}

func marketDataKey(venueTag, symbol string) string {
	return fmt.Sprintf("marketdata:%s:%s", venueTag, symbol)
}

// SetMarketData caches a quote with a short TTL; staleness here is
// bounded and explicit, unlike the mutable-row caching the store package
// deliberately avoids.
func (c *Client) SetMarketData(ctx context.Context, venueTag string, md venue.MarketData, ttl time.Duration) error {
	payload, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("cache: marshal market data: %w", err)
	}
	if err := c.Set(ctx, marketDataKey(venueTag, md.Symbol), payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set market data: %w", err)
	}
	return nil
}

// GetMarketData returns a cached quote, or (zero value, false, nil) on a
// cache miss.
func (c *Client) GetMarketData(ctx context.Context, venueTag, symbol string) (venue.MarketData, bool, error) {
	raw, err := c.Get(ctx, marketDataKey(venueTag, symbol)).Bytes()
	if err == redis.Nil {
		return venue.MarketData{}, false, nil
	}
	if err != nil {
		return venue.MarketData{}, false, fmt.Errorf("cache: get market data: %w", err)
	}
	var md venue.MarketData
	if err := json.Unmarshal(raw, &md); err != nil {
		return venue.MarketData{}, false, fmt.Errorf("cache: unmarshal market data: %w", err)
	}
	return md, true, nil
}

const notificationChannelPrefix = "gateway:notifications:"

// PublishNotification fans a serialized notification out to every gateway
// instance subscribed for accountID, so the Notification Bus's per-account
// ring buffer can live in any one process while still seeing traffic
// originated by another.
func (c *Client) PublishNotification(ctx context.Context, accountID string, payload []byte) error {
	if err := c.Publish(ctx, notificationChannelPrefix+accountID, payload).Err(); err != nil {
		return fmt.Errorf("cache: publish notification: %w", err)
	}
	return nil
}

// SubscribeNotifications returns a PubSub subscribed to accountID's
// notification channel. Callers must Close it when done.
func (c *Client) SubscribeNotifications(ctx context.Context, accountID string) *redis.PubSub {
	return c.Subscribe(ctx, notificationChannelPrefix+accountID)
}
