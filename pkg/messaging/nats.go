package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subjects shared by the services
const (
	StreamPrices = "PRICES"
	StreamAlerts = "ALERTS"

	SubjectTicksWildcard   = "prices.ticks.>"
	SubjectTicksPrefix     = "prices.ticks."
	SubjectAlertChanges    = "alerts.changes"
	SubjectAlertsTriggered = "alerts.triggered"
)

// Config holds NATS configuration
type Config struct {
	URL             string
	Name            string
	MaxReconnects   int
	ReconnectWait   time.Duration
	EnableJetStream bool
}

// NewNATSConn creates a new NATS connection
func NewNATSConn(cfg Config) (*nats.Conn, error) {
	// Set default values if not provided
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1 // Infinite retries
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "stock-alert-engine"
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().
		Str("url", cfg.URL).
		Str("server", nc.ConnectedUrl()).
		Bool("jetstream", cfg.EnableJetStream).
		Msg("Connected to NATS")

	return nc, nil
}

// NewJetStream creates a JetStream context
func NewJetStream(nc *nats.Conn) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	log.Info().Msg("JetStream context created")
	return js, nil
}

// CreateStream creates a JetStream stream if it doesn't exist.
// Limits retention lets several durable consumers read the same subjects.
func CreateStream(js nats.JetStreamContext, name string, subjects []string, maxAge time.Duration) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		log.Info().Str("stream", name).Msg("Stream already exists")
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", name, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAge,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}

	log.Info().
		Str("stream", name).
		Strs("subjects", subjects).
		Dur("max_age", maxAge).
		Msg("Created JetStream stream")

	return nil
}

// EnsureStreams creates the price and alert streams used by every service
func EnsureStreams(js nats.JetStreamContext) error {
	if err := CreateStream(js, StreamPrices, []string{SubjectTicksWildcard}, 24*time.Hour); err != nil {
		return err
	}
	return CreateStream(js, StreamAlerts, []string{SubjectAlertChanges, SubjectAlertsTriggered}, 7*24*time.Hour)
}

// PublishJSON marshals v and publishes it to the stream capturing subject
func PublishJSON(js nats.JetStreamContext, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	if _, err := js.Publish(subject, data); err != nil {
		observability.NATSPublishErrors.WithLabelValues(metricSubject(subject)).Inc()
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	observability.NATSMessagesPublished.WithLabelValues(metricSubject(subject)).Inc()
	return nil
}

// metricSubject folds per-stock tick subjects into one label value
func metricSubject(subject string) string {
	if len(subject) > len(SubjectTicksPrefix) && subject[:len(SubjectTicksPrefix)] == SubjectTicksPrefix {
		return SubjectTicksWildcard
	}
	return subject
}

// Close gracefully closes the NATS connection
func Close(nc *nats.Conn) {
	if nc != nil && !nc.IsClosed() {
		nc.Drain()
		log.Info().Msg("NATS connection drained")
	}
}

// HealthCheck reports whether nc is usable
func HealthCheck(nc *nats.Conn) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if nc.IsClosed() {
			return errors.New("NATS connection closed")
		}
		if !nc.IsConnected() {
			return fmt.Errorf("NATS %s", nc.Status())
		}
		return nil
	}
}
