// Package pricecache keeps the latest observed price per stock in Redis.
package pricecache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/redis/go-redis/v9"
)

const pricesKey = "prices"

// Cache reads and writes the latest-price hash
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a cache. Entries expire together ttl after the last write.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Put stores the latest ticks in one round trip
func (c *Cache) Put(ctx context.Context, ticks ...alerts.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	for _, t := range ticks {
		buf, err := json.Marshal(t)
		if err != nil {
			continue
		}
		pipe.HSet(ctx, pricesKey, t.StockName, string(buf))
	}
	pipe.Expire(ctx, pricesKey, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache prices: %w", err)
	}
	return nil
}

// Get returns the cached ticks for the given stocks, or for every stock when
// none are named. Results are sorted by stock name.
func (c *Cache) Get(ctx context.Context, stocks ...string) ([]alerts.PriceTick, error) {
	var raw []string

	if len(stocks) > 0 {
		values, err := c.rdb.HMGet(ctx, pricesKey, stocks...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read prices: %w", err)
		}
		for _, v := range values {
			if s, ok := v.(string); ok {
				raw = append(raw, s)
			}
		}
	} else {
		values, err := c.rdb.HGetAll(ctx, pricesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read prices: %w", err)
		}
		for _, s := range values {
			raw = append(raw, s)
		}
	}

	return decodeTicks(raw), nil
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func decodeTicks(raw []string) []alerts.PriceTick {
	out := make([]alerts.PriceTick, 0, len(raw))
	for _, s := range raw {
		var t alerts.PriceTick
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockName < out[j].StockName })
	return out
}
