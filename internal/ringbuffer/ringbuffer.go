package ringbuffer

import "sync"

// RingBuffer is a fixed-size circular buffer that keeps the most recent items.
// O(1) append and O(N) range reads; safe for concurrent use.
type RingBuffer[T any] struct {
	items []T
	head  int // Write position (next insertion point)
	size  int // Current number of elements
	mu    sync.RWMutex
}

// New creates a ring buffer holding up to capacity items
func New[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items: make([]T, capacity),
	}
}

// Append adds an item, overwriting the oldest when full
func (rb *RingBuffer[T]) Append(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % len(rb.items)

	if rb.size < len(rb.items) {
		rb.size++
	}
}

// Size returns the current number of items
func (rb *RingBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Cap returns the buffer capacity
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.items)
}

// GetLast returns the last N items in insertion order (oldest first)
func (rb *RingBuffer[T]) GetLast(count int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if count <= 0 || rb.size == 0 {
		return nil
	}
	if count > rb.size {
		count = rb.size
	}

	capacity := len(rb.items)
	result := make([]T, count)

	// Calculate start position (count items before head)
	start := rb.head - count
	if start < 0 {
		start += capacity
	}

	for i := 0; i < count; i++ {
		result[i] = rb.items[(start+i)%capacity]
	}
	return result
}

// GetLatest returns the most recent item
func (rb *RingBuffer[T]) GetLatest() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if rb.size == 0 {
		return zero, false
	}

	// Head points to next insertion, so latest is head-1
	idx := rb.head - 1
	if idx < 0 {
		idx = len(rb.items) - 1
	}
	return rb.items[idx], true
}

// Clear resets the buffer
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.head = 0
	rb.size = 0
}
