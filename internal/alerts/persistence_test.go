package alerts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// flakySink fails the first failures calls, then records
type flakySink struct {
	failures int32
	calls    atomic.Int32

	mu       sync.Mutex
	recorded []TriggeredAlert
}

func (s *flakySink) Record(ctx context.Context, alert TriggeredAlert) error {
	n := s.calls.Add(1)
	if n <= s.failures {
		return errors.New("database unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, alert)
	return nil
}

func (s *flakySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recorded)
}

func testEvent(id string) TriggeredAlert {
	return TriggeredAlert{ID: id, AlertID: "a1", StockName: "ACME", BoundCrossed: BoundUpper}
}

func fastDispatcher(sink TriggeredAlertSink, retries int) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Sink:        sink,
		Workers:     1,
		MaxRetries:  retries,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, zerolog.Nop())
}

func TestDispatcher_RetriesThenRecords(t *testing.T) {
	sink := &flakySink{failures: 2}
	d := fastDispatcher(sink, 3)
	d.Start()

	d.Publish(testEvent("t1"))

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if sink.count() != 1 {
		t.Errorf("Expected event recorded after retries, got %d", sink.count())
	}
	if got := sink.calls.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestDispatcher_DropsAfterExhaustingRetries(t *testing.T) {
	sink := &flakySink{failures: 100}
	d := fastDispatcher(sink, 2)
	d.Start()

	d.Publish(testEvent("t1"), testEvent("t2"))

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if sink.count() != 0 {
		t.Errorf("Expected nothing recorded, got %d", sink.count())
	}
	// 1 attempt + 2 retries per event
	if got := sink.calls.Load(); got != 6 {
		t.Errorf("Expected 6 attempts, got %d", got)
	}
}

// blockingSink holds every write until released
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Record(ctx context.Context, alert TriggeredAlert) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{Sink: sink, Workers: 1, QueueSize: 2}, zerolog.Nop())
	d.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Publish(testEvent("t"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow sink")
	}

	close(sink.release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestDispatcher_FanOutToSubscribers(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, zerolog.Nop())
	d.Start()

	a, unsubA := d.Subscribe(4)
	b, unsubB := d.Subscribe(4)
	defer unsubB()

	d.Publish(testEvent("t1"))

	for name, ch := range map[string]<-chan TriggeredAlert{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.ID != "t1" {
				t.Errorf("Subscriber %s: expected t1, got %s", name, ev.ID)
			}
		case <-time.After(time.Second):
			t.Errorf("Subscriber %s: no event received", name)
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Error("Expected unsubscribed channel to be closed")
	}

	d.Publish(testEvent("t2"))
	if ev := <-b; ev.ID != "t2" {
		t.Errorf("Expected remaining subscriber to get t2, got %s", ev.ID)
	}
}

func TestDispatcher_LaggingSubscriberDoesNotBlock(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, zerolog.Nop())
	slow, unsub := d.Subscribe(1)
	defer unsub()

	d.Publish(testEvent("t1"), testEvent("t2"), testEvent("t3"))

	if ev := <-slow; ev.ID != "t1" {
		t.Errorf("Expected first event to be delivered, got %s", ev.ID)
	}
	select {
	case ev := <-slow:
		t.Errorf("Expected overflow events to be dropped, got %s", ev.ID)
	default:
	}
}

func TestDispatcher_CloseEndsSubscriptions(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, zerolog.Nop())
	ch, unsub := d.Subscribe(1)

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("Expected subscription to be closed")
	}
	unsub()

	// Publishing and subscribing after close are harmless
	d.Publish(testEvent("late"))
	late, _ := d.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("Expected subscription after close to be closed")
	}
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{Sink: sink, Workers: 1, RecordTimeout: time.Minute}, zerolog.Nop())
	d.Start()
	d.Publish(testEvent("stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		current time.Duration
		want    time.Duration
	}{
		{100 * time.Millisecond, 200 * time.Millisecond},
		{2 * time.Second, 4 * time.Second},
		{4 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.current, 5*time.Second); got != tt.want {
			t.Errorf("nextBackoff(%v) = %v, want %v", tt.current, got, tt.want)
		}
	}
}
