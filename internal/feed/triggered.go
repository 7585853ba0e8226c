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

// Forwarder republishes triggered alerts on NATS for the API gateway
type Forwarder struct {
	js     nats.JetStreamContext
	logger zerolog.Logger
}

// NewForwarder creates a forwarder
func NewForwarder(js nats.JetStreamContext, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		js:     js,
		logger: logger.With().Str("component", "forwarder").Logger(),
	}
}

// Run publishes every event until the stream closes or ctx ends
func (f *Forwarder) Run(ctx context.Context, events <-chan alerts.TriggeredAlert) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := messaging.PublishJSON(f.js, messaging.SubjectAlertsTriggered, ev); err != nil {
				f.logger.Error().Err(err).Str("id", ev.ID).Msg("Failed to forward triggered alert")
			}
		}
	}
}

// SubscribeTriggered streams triggered alerts published by any alert engine.
// The returned function stops the stream.
func SubscribeTriggered(nc *nats.Conn, logger zerolog.Logger, handler func(alerts.TriggeredAlert)) (func() error, error) {
	sub, err := nc.Subscribe(messaging.SubjectAlertsTriggered, func(msg *nats.Msg) {
		observability.NATSMessagesReceived.WithLabelValues(messaging.SubjectAlertsTriggered).Inc()

		var ev alerts.TriggeredAlert
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warn().Err(err).Msg("Dropping malformed triggered alert")
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", messaging.SubjectAlertsTriggered, err)
	}
	return sub.Unsubscribe, nil
}
