package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/rs/zerolog"
)

// AlertSource supplies alert definitions from durable storage
type AlertSource interface {
	// LoadAllEnabled returns every enabled alert, used once to seed the engine
	LoadAllEnabled(ctx context.Context) ([]Alert, error)
	// Subscribe invokes handler for every create, edit, delete or toggle
	Subscribe(ctx context.Context, handler func(AlertChange)) (unsubscribe func() error, err error)
}

// Syncer keeps the engine's index consistent with an AlertSource
type Syncer struct {
	engine *Engine
	source AlertSource
	logger zerolog.Logger
}

// NewSyncer creates a syncer
func NewSyncer(engine *Engine, source AlertSource, logger zerolog.Logger) *Syncer {
	return &Syncer{
		engine: engine,
		source: source,
		logger: logger.With().Str("component", "alert-sync").Logger(),
	}
}

// Run subscribes to changes and then seeds the engine. Subscribing first means
// a mutation racing with the initial load is applied rather than lost.
func (s *Syncer) Run(ctx context.Context) (func() error, error) {
	unsubscribe, err := s.source.Subscribe(ctx, s.Apply)
	if err != nil {
		return nil, fmt.Errorf("subscribe to alert changes: %w", err)
	}

	alerts, err := s.source.LoadAllEnabled(ctx)
	if err != nil {
		_ = unsubscribe()
		return nil, fmt.Errorf("load enabled alerts: %w", err)
	}

	loaded := 0
	for _, a := range alerts {
		if err := s.engine.Upsert(a); err != nil {
			s.logger.Warn().Err(err).Str("alert_id", a.ID).Msg("skipping invalid alert")
			continue
		}
		loaded++
	}

	s.updateGauges()
	s.logger.Info().Int("count", loaded).Int("skipped", len(alerts)-loaded).Msg("loaded alerts")
	return unsubscribe, nil
}

// Apply folds one change event into the engine
func (s *Syncer) Apply(change AlertChange) {
	observability.AlertChangesApplied.WithLabelValues(string(change.Op)).Inc()
	log := s.logger.With().Str("op", string(change.Op)).Str("alert_id", change.Alert.ID).Logger()

	var err error
	switch change.Op {
	case ChangeUpsert:
		err = s.engine.Upsert(change.Alert)

	case ChangeDelete:
		err = s.engine.Remove(change.Alert.ID)
		if errors.Is(err, ErrNotFound) {
			log.Debug().Msg("delete for unknown alert ignored")
			err = nil
		}

	case ChangeToggle:
		err = s.engine.SetEnabled(change.Alert.ID, change.Alert.Enabled)
		// disabled alerts are not loaded at startup, so the first enable
		// after a restart has to install the definition
		if errors.Is(err, ErrNotFound) && change.Alert.Enabled {
			err = s.engine.Upsert(change.Alert)
		} else if errors.Is(err, ErrNotFound) {
			err = nil
		}

	default:
		log.Warn().Msg("unknown alert change")
		return
	}

	if err != nil {
		log.Error().Err(err).Msg("failed to apply alert change")
		return
	}

	s.updateGauges()
	log.Debug().Msg("applied alert change")
}

func (s *Syncer) updateGauges() {
	stats := s.engine.Stats()
	observability.ActiveAlerts.Set(float64(stats.Enabled))
	observability.WatchedStocks.Set(float64(stats.Stocks))
}
