package alerts

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// Publisher receives the crossings produced by evaluation
type Publisher interface {
	Publish(events ...TriggeredAlert)
}

// ProcessorConfig holds processor tuning
type ProcessorConfig struct {
	Shards    int
	QueueSize int
}

// Processor feeds ticks into the engine. Every stock hashes to one shard and
// each shard is drained by a single goroutine, so ticks for a stock are
// evaluated in arrival order while distinct stocks run in parallel.
type Processor struct {
	engine    *Engine
	publisher Publisher
	logger    zerolog.Logger
	shards    []chan PriceTick

	mu       sync.RWMutex
	closed   bool
	stopping chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProcessor creates a processor; call Start to launch the shard workers
func NewProcessor(engine *Engine, publisher Publisher, cfg ProcessorConfig, logger zerolog.Logger) *Processor {
	if cfg.Shards <= 0 {
		cfg.Shards = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	shards := make([]chan PriceTick, cfg.Shards)
	for i := range shards {
		shards[i] = make(chan PriceTick, cfg.QueueSize)
	}

	return &Processor{
		engine:    engine,
		publisher: publisher,
		logger:    logger.With().Str("component", "processor").Logger(),
		shards:    shards,
		stopping:  make(chan struct{}),
	}
}

// Start launches one worker per shard
func (p *Processor) Start() {
	for i, ch := range p.shards {
		p.wg.Add(1)
		go p.worker(i, ch)
	}
	p.logger.Info().Int("shards", len(p.shards)).Msg("processor started")
}

// Submit enqueues a tick on its stock's shard. It blocks only while that
// shard is full, and gives up when ctx ends or shutdown begins.
func (p *Processor) Submit(ctx context.Context, tick PriceTick) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrShuttingDown
	}

	ch := p.shards[p.shardFor(tick.StockName)]
	select {
	case ch <- tick:
		return nil
	default:
	}

	observability.ProcessorBackpressure.Inc()
	select {
	case ch <- tick:
		return nil
	case <-p.stopping:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) shardFor(stock string) int {
	return int(xxhash.Sum64String(stock) % uint64(len(p.shards)))
}

func (p *Processor) worker(id int, ch <-chan PriceTick) {
	defer p.wg.Done()
	log := p.logger.With().Int("shard", id).Logger()

	for tick := range ch {
		p.evaluate(log, tick)
	}
}

func (p *Processor) evaluate(log zerolog.Logger, tick PriceTick) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("stock", tick.StockName).
				Msg("evaluation panic recovered")
		}
	}()

	start := time.Now()
	events := p.engine.Evaluate(tick)
	observability.EvaluationDuration.Observe(time.Since(start).Seconds())

	if len(events) > 0 && p.publisher != nil {
		p.publisher.Publish(events...)
	}
}

// Shutdown rejects new ticks, lets the workers drain what is already queued
// and waits for them. ctx bounds the wait.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopping)

		p.mu.Lock()
		p.closed = true
		for _, ch := range p.shards {
			close(ch)
		}
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("processor drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("processor drain: %w", ctx.Err())
	}
}
