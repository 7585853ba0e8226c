// Package simulator generates synthetic price ticks with a seeded random walk.
package simulator

import (
	"context"
	"math/rand"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var minPrice = decimal.RequireFromString("0.01")

// Config drives the walk
type Config struct {
	Stocks     []string
	Seed       int64
	Volatility float64 // standard deviation of one step, as a fraction of price
	StartPrice float64
}

// Simulator produces one tick per stock per step. Not safe for concurrent use.
type Simulator struct {
	stocks     []string
	prices     map[string]decimal.Decimal
	rng        *rand.Rand
	volatility float64
}

// New creates a simulator. The same config always yields the same sequence.
func New(cfg Config) *Simulator {
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.01
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}

	s := &Simulator{
		prices:     make(map[string]decimal.Decimal, len(cfg.Stocks)),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		volatility: cfg.Volatility,
	}

	start := decimal.NewFromFloat(cfg.StartPrice).Round(2)
	for _, stock := range cfg.Stocks {
		stock = alerts.NormalizeStock(stock)
		if stock == "" {
			continue
		}
		if _, dup := s.prices[stock]; dup {
			continue
		}
		s.stocks = append(s.stocks, stock)
		s.prices[stock] = start
	}
	return s
}

// Stocks returns the simulated symbols in generation order
func (s *Simulator) Stocks() []string {
	out := make([]string, len(s.stocks))
	copy(out, s.stocks)
	return out
}

// Step advances every stock one step and returns the resulting ticks
func (s *Simulator) Step(at time.Time) []alerts.PriceTick {
	ticks := make([]alerts.PriceTick, 0, len(s.stocks))
	for _, stock := range s.stocks {
		move := decimal.NewFromFloat(1 + s.rng.NormFloat64()*s.volatility)
		next := s.prices[stock].Mul(move).Round(2)
		if next.LessThan(minPrice) {
			next = minPrice
		}
		s.prices[stock] = next

		ticks = append(ticks, alerts.PriceTick{
			StockName:  stock,
			Price:      next,
			ObservedAt: at,
		})
	}
	return ticks
}

// Run steps every interval and hands each batch to publish until ctx ends.
// Publish errors are logged and the walk continues.
func (s *Simulator) Run(ctx context.Context, interval time.Duration, publish func(context.Context, []alerts.PriceTick) error, logger zerolog.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			batch := s.Step(now.UTC())
			if err := publish(ctx, batch); err != nil {
				logger.Warn().Err(err).Int("ticks", len(batch)).Msg("Failed to publish simulated ticks")
			}
		}
	}
}
