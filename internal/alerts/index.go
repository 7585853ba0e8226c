package alerts

import (
	"sort"
	"sync"
)

type evalState uint8

const (
	// stateArmed: price last seen inside the bounds, next excursion fires
	stateArmed evalState = iota
	// stateTripped: already fired for the current excursion
	stateTripped
)

func (s evalState) String() string {
	if s == stateTripped {
		return "tripped"
	}
	return "armed"
}

// rule pairs a definition with its hidden evaluation state
type rule struct {
	alert Alert
	state evalState
}

// partition holds every alert watching one stock.
// mu is the per-stock serialization point for evaluation and mutation.
type partition struct {
	mu    sync.Mutex
	stock string
	rules map[string]*rule
}

func newPartition(stock string) *partition {
	return &partition{
		stock: stock,
		rules: make(map[string]*rule),
	}
}

// ids returns alert ids in a stable order (must hold mu)
func (p *partition) ids() []string {
	ids := make([]string, 0, len(p.rules))
	for id := range p.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// lockPair locks two distinct partitions in stock-name order
func lockPair(a, b *partition) func() {
	if a == b || b == nil {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if second.stock < first.stock {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}
