package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/pkg/messaging"
	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ChangePublisher announces alert mutations on NATS
type ChangePublisher struct {
	js nats.JetStreamContext
}

// NewChangePublisher creates a change publisher
func NewChangePublisher(js nats.JetStreamContext) *ChangePublisher {
	return &ChangePublisher{js: js}
}

// PublishChange sends one change event
func (p *ChangePublisher) PublishChange(ctx context.Context, change alerts.AlertChange) error {
	return messaging.PublishJSON(p.js, messaging.SubjectAlertChanges, change)
}

// EnabledLoader reads the enabled alert set from durable storage
type EnabledLoader interface {
	LoadAllEnabled(ctx context.Context) ([]alerts.Alert, error)
}

// ChangeFeed is an alerts.AlertSource combining a store snapshot with live
// change events. Live events use a core subscription: only changes made while
// the engine runs matter, the snapshot covers everything before.
type ChangeFeed struct {
	loader EnabledLoader
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewChangeFeed creates a change feed
func NewChangeFeed(loader EnabledLoader, nc *nats.Conn, logger zerolog.Logger) *ChangeFeed {
	return &ChangeFeed{
		loader: loader,
		nc:     nc,
		logger: logger.With().Str("component", "change-feed").Logger(),
	}
}

// LoadAllEnabled returns the current enabled alerts
func (f *ChangeFeed) LoadAllEnabled(ctx context.Context) ([]alerts.Alert, error) {
	return f.loader.LoadAllEnabled(ctx)
}

// Subscribe delivers change events to handler in publish order
func (f *ChangeFeed) Subscribe(ctx context.Context, handler func(alerts.AlertChange)) (func() error, error) {
	sub, err := f.nc.Subscribe(messaging.SubjectAlertChanges, func(msg *nats.Msg) {
		observability.NATSMessagesReceived.WithLabelValues(messaging.SubjectAlertChanges).Inc()

		change, err := DecodeChange(msg.Data)
		if err != nil {
			f.logger.Warn().Err(err).Msg("Dropping malformed alert change")
			return
		}
		handler(change)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", messaging.SubjectAlertChanges, err)
	}

	// Make sure the server registered interest before the caller loads the snapshot
	if err := f.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription: %w", err)
	}
	return sub.Unsubscribe, nil
}

// DecodeChange parses an alert change payload
func DecodeChange(data []byte) (alerts.AlertChange, error) {
	var change alerts.AlertChange
	if err := json.Unmarshal(data, &change); err != nil {
		return alerts.AlertChange{}, fmt.Errorf("failed to unmarshal alert change: %w", err)
	}
	switch change.Op {
	case alerts.ChangeUpsert, alerts.ChangeDelete, alerts.ChangeToggle:
	default:
		return alerts.AlertChange{}, fmt.Errorf("unknown alert change op %q", change.Op)
	}
	if change.Alert.ID == "" {
		return alerts.AlertChange{}, fmt.Errorf("alert change without alert id")
	}
	return change, nil
}
