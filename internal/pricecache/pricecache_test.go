package pricecache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func TestDecodeTicks(t *testing.T) {
	raw := []string{
		`{"stock_name":"GLOBEX","price":"12.5","observed_at":"2024-03-01T09:30:00Z"}`,
		`not json`,
		`{"stock_name":"ACME","price":"101","observed_at":"2024-03-01T09:30:00Z"}`,
	}

	ticks := decodeTicks(raw)
	if len(ticks) != 2 {
		t.Fatalf("Expected 2 ticks, got %d", len(ticks))
	}
	if ticks[0].StockName != "ACME" || ticks[1].StockName != "GLOBEX" {
		t.Errorf("Expected sorted stocks, got %s, %s", ticks[0].StockName, ticks[1].StockName)
	}
	if !ticks[1].Price.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("Expected 12.5, got %s", ticks[1].Price)
	}
}

func TestCache_PutGet(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis test in short mode")
	}

	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer rdb.Del(context.Background(), pricesKey)

	c := New(rdb, time.Minute)
	now := time.Now().UTC().Truncate(time.Second)
	err := c.Put(ctx,
		alerts.PriceTick{StockName: "ACME", Price: decimal.RequireFromString("101.5"), ObservedAt: now},
		alerts.PriceTick{StockName: "GLOBEX", Price: decimal.RequireFromString("7"), ObservedAt: now},
	)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	one, err := c.Get(ctx, "ACME", "MISSING")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(one) != 1 || !one[0].Price.Equal(decimal.RequireFromString("101.5")) {
		t.Errorf("Expected ACME at 101.5, got %+v", one)
	}

	all, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 cached prices, got %d", len(all))
	}
}
