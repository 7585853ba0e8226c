package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingPublisher collects published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []TriggeredAlert
}

func (r *recordingPublisher) Publish(events ...TriggeredAlert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingPublisher) snapshot() []TriggeredAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TriggeredAlert, len(r.events))
	copy(out, r.events)
	return out
}

func TestProcessor_PreservesPerStockOrder(t *testing.T) {
	e := newTestEngine()
	if err := e.Upsert(newAlert("a1", "ACME", 10, 20)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := e.Upsert(newAlert("g1", "GLOBEX", 10, 20)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	pub := &recordingPublisher{}
	p := NewProcessor(e, pub, ProcessorConfig{Shards: 4, QueueSize: 8}, zerolog.Nop())
	p.Start()

	ctx := context.Background()
	const excursions = 50
	var wg sync.WaitGroup
	for _, stock := range []string{"ACME", "GLOBEX"} {
		wg.Add(1)
		go func(stock string) {
			defer wg.Done()
			for n := 0; n < excursions; n++ {
				// Out-of-order application would let the 15 re-arm before the 25 is seen
				for i, price := range []string{"15", "25"} {
					if err := p.Submit(ctx, tickAt(stock, price, 2*n+i)); err != nil {
						t.Errorf("Submit failed: %v", err)
						return
					}
				}
			}
		}(stock)
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	perStock := map[string]int{}
	for _, ev := range pub.snapshot() {
		perStock[ev.StockName]++
	}
	for _, stock := range []string{"ACME", "GLOBEX"} {
		if perStock[stock] != excursions {
			t.Errorf("%s: expected %d events, got %d", stock, excursions, perStock[stock])
		}
	}
}

func TestProcessor_ShutdownDrainsQueuedTicks(t *testing.T) {
	e := newTestEngine()
	if err := e.Upsert(newAlert("a1", "ACME", 10, 20)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	pub := &recordingPublisher{}
	p := NewProcessor(e, pub, ProcessorConfig{Shards: 1, QueueSize: 16}, zerolog.Nop())

	// Queue before the workers exist so the ticks are still pending at shutdown
	ctx := context.Background()
	for i, price := range []string{"15", "25", "15", "25"} {
		if err := p.Submit(ctx, tickAt("ACME", price, i)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	p.Start()

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := len(pub.snapshot()); got != 2 {
		t.Errorf("Expected 2 events from drained ticks, got %d", got)
	}
}

func TestProcessor_SubmitAfterShutdown(t *testing.T) {
	p := NewProcessor(newTestEngine(), nil, ProcessorConfig{}, zerolog.Nop())
	p.Start()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	err := p.Submit(context.Background(), tickAt("ACME", "15", 0))
	if !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}

	// Second shutdown is a no-op
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected repeated shutdown to succeed, got %v", err)
	}
}

func TestProcessor_SubmitHonoursContextWhenFull(t *testing.T) {
	p := NewProcessor(newTestEngine(), nil, ProcessorConfig{Shards: 1, QueueSize: 1}, zerolog.Nop())
	// Workers not started: the single slot fills and stays full

	if err := p.Submit(context.Background(), tickAt("ACME", "15", 0)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, tickAt("ACME", "16", 1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}

	p.Start()
	_ = p.Shutdown(context.Background())
}

func TestProcessor_ShardAssignmentIsStable(t *testing.T) {
	p := NewProcessor(newTestEngine(), nil, ProcessorConfig{Shards: 16}, zerolog.Nop())
	for _, stock := range []string{"ACME", "GLOBEX", "INITECH"} {
		first := p.shardFor(stock)
		for i := 0; i < 10; i++ {
			if got := p.shardFor(stock); got != first {
				t.Fatalf("%s: shard changed from %d to %d", stock, first, got)
			}
		}
		if first < 0 || first >= 16 {
			t.Errorf("%s: shard %d out of range", stock, first)
		}
	}
}
