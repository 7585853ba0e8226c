package api

import (
	"sync"
	"time"
)

// rateLimiter implements a simple token bucket rate limiter per IP
type rateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	maxRate  int
	interval time.Duration
	done     chan struct{}
	once     sync.Once
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

func newRateLimiter(maxRate int, interval time.Duration) *rateLimiter {
	rl := &rateLimiter{
		buckets:  make(map[string]*bucket),
		maxRate:  maxRate,
		interval: interval,
		done:     make(chan struct{}),
	}
	// Cleanup old buckets every 10 minutes
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanup(time.Hour)
			case <-rl.done:
				return
			}
		}
	}()
	return rl
}

func (rl *rateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.buckets[ip]
	if !exists {
		b = &bucket{
			tokens:     rl.maxRate,
			lastRefill: now,
		}
		rl.buckets[ip] = b
	}

	if now.Sub(b.lastRefill) >= rl.interval {
		b.tokens = rl.maxRate
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *rateLimiter) cleanup(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, b := range rl.buckets {
		if now.Sub(b.lastRefill) > idle {
			delete(rl.buckets, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}
