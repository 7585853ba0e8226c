package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Engine holds the authoritative in-memory view of alert definitions and
// evaluates price ticks against them. Safe for concurrent use: ticks and
// mutations for one stock are serialized on that stock's partition, distinct
// stocks never contend.
type Engine struct {
	mu         sync.RWMutex
	partitions map[string]*partition // stock name -> alerts watching it
	owners     map[string]string     // alert id -> stock name

	now    func() time.Time
	logger zerolog.Logger
}

// EngineStats is a point-in-time summary of the index
type EngineStats struct {
	Stocks  int `json:"stocks"`
	Alerts  int `json:"alerts"`
	Enabled int `json:"enabled"`
	Tripped int `json:"tripped"`
}

// NewEngine creates an empty engine
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		partitions: make(map[string]*partition),
		owners:     make(map[string]string),
		now:        time.Now,
		logger:     logger.With().Str("component", "alert-engine").Logger(),
	}
}

// Upsert validates and installs a definition, replacing any prior one with the
// same id, and re-arms it. The alert is evaluated against the next tick only,
// never against the last known price. Enabled-flag changes that should keep
// the current state go through SetEnabled.
func (e *Engine) Upsert(alert Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	target := e.partitions[alert.StockName]
	if target == nil {
		target = newPartition(alert.StockName)
		e.partitions[alert.StockName] = target
	}

	var previous *partition
	if stock, ok := e.owners[alert.ID]; ok {
		previous = e.partitions[stock]
	}

	unlock := lockPair(target, previous)
	defer unlock()

	if previous != nil {
		delete(previous.rules, alert.ID)
		if previous != target && len(previous.rules) == 0 {
			delete(e.partitions, previous.stock)
		}
	}

	target.rules[alert.ID] = &rule{alert: alert, state: stateArmed}
	e.owners[alert.ID] = alert.StockName

	e.logger.Debug().
		Str("alert_id", alert.ID).
		Str("stock", alert.StockName).
		Str("lower", alert.LowerBound.String()).
		Str("upper", alert.UpperBound.String()).
		Bool("enabled", alert.Enabled).
		Msg("alert upserted")

	return nil
}

// Remove drops an alert definition together with its evaluation state
func (e *Engine) Remove(alertID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	stock, ok := e.owners[alertID]
	if !ok {
		return fmt.Errorf("remove %s: %w", alertID, ErrNotFound)
	}

	p := e.partitions[stock]
	p.mu.Lock()
	delete(p.rules, alertID)
	empty := len(p.rules) == 0
	p.mu.Unlock()

	delete(e.owners, alertID)
	if empty {
		delete(e.partitions, stock)
	}

	e.logger.Debug().Str("alert_id", alertID).Str("stock", stock).Msg("alert removed")
	return nil
}

// SetEnabled toggles evaluation of an alert. The armed/tripped state is frozen
// while disabled so a disable/enable cycle cannot re-fire on an unmoved price.
func (e *Engine) SetEnabled(alertID string, enabled bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stock, ok := e.owners[alertID]
	if !ok {
		return fmt.Errorf("set enabled %s: %w", alertID, ErrNotFound)
	}

	p := e.partitions[stock]
	p.mu.Lock()
	p.rules[alertID].alert.Enabled = enabled
	p.mu.Unlock()

	e.logger.Debug().Str("alert_id", alertID).Bool("enabled", enabled).Msg("alert toggled")
	return nil
}

// Get returns the current definition of an alert
func (e *Engine) Get(alertID string) (Alert, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stock, ok := e.owners[alertID]
	if !ok {
		return Alert{}, false
	}

	p := e.partitions[stock]
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rules[alertID].alert, true
}

// Evaluate applies one tick to every enabled alert watching its stock and
// returns the crossings it produced, ordered by alert id. Ticks are applied in
// arrival order whatever their timestamps; ticks for stocks nobody watches are
// ignored.
func (e *Engine) Evaluate(tick PriceTick) []TriggeredAlert {
	observability.TicksReceived.Inc()

	e.mu.RLock()
	p := e.partitions[tick.StockName]
	e.mu.RUnlock()

	if p == nil {
		observability.TicksIgnored.WithLabelValues("unwatched").Inc()
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var triggered []TriggeredAlert
	for _, id := range p.ids() {
		r := p.rules[id]
		if !r.alert.Enabled {
			continue
		}
		observability.AlertsEvaluated.Inc()

		event, fired := e.step(r, tick)
		if !fired {
			continue
		}
		triggered = append(triggered, event)
		observability.AlertsTriggered.WithLabelValues(string(event.BoundCrossed)).Inc()

		e.logger.Info().
			Str("alert_id", r.alert.ID).
			Str("stock", tick.StockName).
			Str("bound", string(event.BoundCrossed)).
			Str("price", tick.Price.String()).
			Msg("alert triggered")
	}

	return triggered
}

// step advances one rule by one tick (partition lock held)
func (e *Engine) step(r *rule, tick PriceTick) (TriggeredAlert, bool) {
	zone := classify(tick.Price, r.alert.LowerBound, r.alert.UpperBound)

	switch {
	case r.state == stateArmed && zone != zoneWithin:
		r.state = stateTripped
		bound, value := BoundUpper, r.alert.UpperBound
		if zone == zoneBelow {
			bound, value = BoundLower, r.alert.LowerBound
		}
		triggeredAt := tick.ObservedAt
		if triggeredAt.IsZero() {
			triggeredAt = e.now().UTC()
		}
		return TriggeredAlert{
			ID:             triggeredID(r.alert.ID, bound, tick),
			AlertID:        r.alert.ID,
			StockName:      r.alert.StockName,
			DisplayName:    r.alert.DisplayName,
			BoundCrossed:   bound,
			BoundValue:     value,
			PriceAtTrigger: tick.Price,
			TriggeredAt:    triggeredAt,
		}, true

	case r.state == stateTripped && zone == zoneWithin:
		r.state = stateArmed
	}

	return TriggeredAlert{}, false
}

// Stats summarizes the index
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := EngineStats{Stocks: len(e.partitions)}
	for _, p := range e.partitions {
		p.mu.Lock()
		for _, r := range p.rules {
			stats.Alerts++
			if r.alert.Enabled {
				stats.Enabled++
			}
			if r.state == stateTripped {
				stats.Tripped++
			}
		}
		p.mu.Unlock()
	}
	return stats
}

type zone int

const (
	zoneWithin zone = iota
	zoneBelow
	zoneAbove
)

// classify places a price relative to the bounds. Bounds themselves are inside:
// only a price strictly beyond a bound counts as a crossing. The upper check
// runs first, so degenerate equal bounds would resolve to Upper.
func classify(price, lower, upper decimal.Decimal) zone {
	switch {
	case price.GreaterThan(upper):
		return zoneAbove
	case price.LessThan(lower):
		return zoneBelow
	default:
		return zoneWithin
	}
}
