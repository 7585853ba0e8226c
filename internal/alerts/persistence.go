package alerts

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/rs/zerolog"
)

const (
	defaultQueueSize     = 1024
	defaultSinkWorkers   = 2
	defaultMaxRetries    = 3
	defaultBaseBackoff   = 200 * time.Millisecond
	defaultMaxBackoff    = 5 * time.Second
	defaultRecordTimeout = 5 * time.Second
)

// TriggeredAlertSink durably records firings
type TriggeredAlertSink interface {
	Record(ctx context.Context, alert TriggeredAlert) error
}

// DispatcherConfig holds dispatcher tuning
type DispatcherConfig struct {
	Sink          TriggeredAlertSink
	QueueSize     int
	Workers       int
	MaxRetries    int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	RecordTimeout time.Duration
}

// Dispatcher hands triggered alerts off the tick path: it fans them out to
// subscribers and writes them to the sink with bounded retry. Publish never
// blocks; a full queue or a slow subscriber loses the event, not the tick.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger zerolog.Logger
	queue  chan TriggeredAlert

	subMu  sync.RWMutex
	subs   map[int]chan TriggeredAlert
	nextID int

	closeOnce sync.Once
	closed    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher; call Start to launch sink workers
func NewDispatcher(cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultSinkWorkers
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:    cfg,
		logger: logger.With().Str("component", "dispatcher").Logger(),
		queue:  make(chan TriggeredAlert, cfg.QueueSize),
		subs:   make(map[int]chan TriggeredAlert),
		closed: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the sink workers. Without a sink, events are only fanned out.
func (d *Dispatcher) Start() {
	if d.cfg.Sink == nil {
		return
	}
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info().
		Int("workers", d.cfg.Workers).
		Int("queue_size", d.cfg.QueueSize).
		Int("max_retries", d.cfg.MaxRetries).
		Msg("dispatcher started")
}

// Publish hands events to subscribers and the sink queue without blocking
func (d *Dispatcher) Publish(events ...TriggeredAlert) {
	d.subMu.RLock()
	defer d.subMu.RUnlock()

	select {
	case <-d.closed:
		observability.DispatchDropped.WithLabelValues("closed").Add(float64(len(events)))
		return
	default:
	}

	for _, ev := range events {
		d.fanOutLocked(ev)

		if d.cfg.Sink == nil {
			continue
		}
		select {
		case d.queue <- ev:
		default:
			observability.DispatchDropped.WithLabelValues("queue_full").Inc()
			d.logger.Warn().
				Str("id", ev.ID).
				Str("alert_id", ev.AlertID).
				Msg("sink queue full, dropping triggered alert")
		}
	}
}

// fanOutLocked delivers to every subscriber (subMu held)
func (d *Dispatcher) fanOutLocked(ev TriggeredAlert) {
	for id, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			observability.DispatchDropped.WithLabelValues("subscriber_full").Inc()
			d.logger.Warn().Int("subscriber", id).Str("id", ev.ID).Msg("subscriber lagging, event dropped")
		}
	}
}

// Subscribe returns a stream of triggered alerts and a function to stop it.
// The channel is closed on unsubscribe or when the dispatcher closes.
func (d *Dispatcher) Subscribe(buffer int) (<-chan TriggeredAlert, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan TriggeredAlert, buffer)

	d.subMu.Lock()
	select {
	case <-d.closed:
		d.subMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := d.nextID
	d.nextID++
	d.subs[id] = ch
	d.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.subMu.Lock()
			if c, ok := d.subs[id]; ok {
				delete(d.subs, id)
				close(c)
			}
			d.subMu.Unlock()
		})
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	log := d.logger.With().Int("worker_id", id).Logger()

	for ev := range d.queue {
		d.record(log, ev)
	}
}

// record writes one event, retrying with exponential backoff, then drops it
func (d *Dispatcher) record(log zerolog.Logger, ev TriggeredAlert) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("id", ev.ID).
				Msg("sink panic recovered")
			observability.SinkWrites.WithLabelValues("dropped").Inc()
		}
	}()

	backoff := d.cfg.BaseBackoff
	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.SinkWrites.WithLabelValues("retry").Inc()
			sleepWithContext(d.ctx, backoff)
			backoff = nextBackoff(backoff, d.cfg.MaxBackoff)
		}

		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.RecordTimeout)
		err = d.cfg.Sink.Record(ctx, ev)
		cancel()
		if err == nil {
			observability.SinkWrites.WithLabelValues("ok").Inc()
			return
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("id", ev.ID).
			Msg("failed to record triggered alert")

		if d.ctx.Err() != nil {
			break
		}
	}

	observability.SinkWrites.WithLabelValues("dropped").Inc()
	log.Error().
		Err(fmt.Errorf("%w: %v", ErrPersistence, err)).
		Str("id", ev.ID).
		Str("alert_id", ev.AlertID).
		Str("stock", ev.StockName).
		Str("bound", string(ev.BoundCrossed)).
		Str("price", ev.PriceAtTrigger.String()).
		Msg("dropping triggered alert after retries")
}

// Close stops accepting events, drains the sink queue and closes subscriber
// streams. If ctx expires first, pending retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.subMu.Lock()
		close(d.closed)
		for id, ch := range d.subs {
			delete(d.subs, id)
			close(ch)
		}
		d.subMu.Unlock()

		close(d.queue)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info().Msg("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
