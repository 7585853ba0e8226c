package api

import (
	"sync"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/internal/ringbuffer"
	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
)

const (
	defaultBacklog  = 100
	clientQueueSize = 64
)

// Hub fans triggered alerts out to stream clients and keeps a short backlog
// so new clients see recent events.
type Hub struct {
	mu      sync.Mutex
	backlog *ringbuffer.RingBuffer[alerts.TriggeredAlert]
	clients map[chan alerts.TriggeredAlert]struct{}
	closed  bool
}

// NewHub creates a hub retaining the last backlog events
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		backlog: ringbuffer.New[alerts.TriggeredAlert](backlog),
		clients: make(map[chan alerts.TriggeredAlert]struct{}),
	}
}

// Broadcast records ev and offers it to every client. Clients that fall
// behind miss events rather than slowing the feed.
func (h *Hub) Broadcast(ev alerts.TriggeredAlert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.backlog.Append(ev)
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			observability.WSMessagesSent.WithLabelValues("dropped").Inc()
		}
	}
}

// Subscribe registers a client. It returns the backlog at registration time
// and a channel carrying every later event; the two never overlap.
func (h *Hub) Subscribe() ([]alerts.TriggeredAlert, <-chan alerts.TriggeredAlert, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan alerts.TriggeredAlert, clientQueueSize)
	if h.closed {
		close(ch)
		return nil, ch, func() {}
	}

	recent := h.backlog.GetLast(h.backlog.Cap())
	h.clients[ch] = struct{}{}
	observability.WSClientConnections.Inc()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
				observability.WSClientConnections.Dec()
			}
		})
	}
	return recent, ch, unsubscribe
}

// Recent returns up to n backlog events, oldest first
func (h *Hub) Recent(n int) []alerts.TriggeredAlert {
	return h.backlog.GetLast(n)
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close ends every client stream
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
		observability.WSClientConnections.Dec()
	}
}
