// Package feed moves ticks, alert changes and triggered alerts over NATS.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/pkg/messaging"
	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ErrMalformedTick is returned for payloads that cannot become a tick
var ErrMalformedTick = errors.New("malformed tick")

// TickSubject returns the subject a stock's ticks are published on
func TickSubject(stock string) string {
	stock = alerts.NormalizeStock(stock)
	stock = strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, stock)
	return messaging.SubjectTicksPrefix + stock
}

// DecodeTick parses a tick payload. Prices may be JSON numbers or strings.
func DecodeTick(data []byte) (alerts.PriceTick, error) {
	var raw struct {
		StockName  string          `json:"stock_name"`
		Price      json.RawMessage `json:"price"`
		ObservedAt time.Time       `json:"observed_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return alerts.PriceTick{}, fmt.Errorf("%w: %v", ErrMalformedTick, err)
	}
	if len(raw.Price) == 0 || string(raw.Price) == "null" {
		return alerts.PriceTick{}, fmt.Errorf("%w: missing price", ErrMalformedTick)
	}

	tick := alerts.PriceTick{
		StockName:  alerts.NormalizeStock(raw.StockName),
		ObservedAt: raw.ObservedAt,
	}
	if tick.StockName == "" {
		return alerts.PriceTick{}, fmt.Errorf("%w: missing stock name", ErrMalformedTick)
	}
	if err := tick.Price.UnmarshalJSON(raw.Price); err != nil {
		return alerts.PriceTick{}, fmt.Errorf("%w: price %s: %v", ErrMalformedTick, raw.Price, err)
	}
	return tick, nil
}

// TickSink accepts ticks for evaluation
type TickSink interface {
	Submit(ctx context.Context, tick alerts.PriceTick) error
}

// TickSubscriber consumes the price stream into a TickSink. Messages are
// acknowledged only once the tick is queued, so a crash redelivers them.
type TickSubscriber struct {
	js      nats.JetStreamContext
	sink    TickSink
	durable string
	logger  zerolog.Logger
}

// NewTickSubscriber creates a subscriber using the named durable consumer
func NewTickSubscriber(js nats.JetStreamContext, sink TickSink, durable string, logger zerolog.Logger) *TickSubscriber {
	return &TickSubscriber{
		js:      js,
		sink:    sink,
		durable: durable,
		logger:  logger.With().Str("component", "tick-subscriber").Logger(),
	}
}

// Start subscribes to every stock's ticks. ctx bounds each Submit.
// The durable consumer is created here rather than by Subscribe so that
// draining the subscription on shutdown leaves it, and its ack floor, in place.
func (s *TickSubscriber) Start(ctx context.Context) (*nats.Subscription, error) {
	if err := s.ensureConsumer(); err != nil {
		return nil, err
	}

	sub, err := s.js.Subscribe(messaging.SubjectTicksWildcard, func(msg *nats.Msg) {
		s.handle(ctx, msg)
	},
		nats.Bind(messaging.StreamPrices, s.durable),
		nats.ManualAck(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", messaging.SubjectTicksWildcard, err)
	}

	s.logger.Info().Str("durable", s.durable).Msg("Subscribed to price ticks")
	return sub, nil
}

// ensureConsumer creates the durable push consumer on first start. A new
// consumer begins at the newest tick; an existing one resumes where it left off.
func (s *TickSubscriber) ensureConsumer() error {
	_, err := s.js.ConsumerInfo(messaging.StreamPrices, s.durable)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("failed to look up consumer %s: %w", s.durable, err)
	}

	_, err = s.js.AddConsumer(messaging.StreamPrices, &nats.ConsumerConfig{
		Durable:        s.durable,
		DeliverSubject: nats.NewInbox(),
		DeliverPolicy:  nats.DeliverNewPolicy,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        30 * time.Second,
		MaxAckPending:  4096,
		FilterSubject:  messaging.SubjectTicksWildcard,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", s.durable, err)
	}
	s.logger.Info().Str("durable", s.durable).Msg("Created tick consumer")
	return nil
}

func (s *TickSubscriber) handle(ctx context.Context, msg *nats.Msg) {
	observability.NATSMessagesReceived.WithLabelValues(messaging.SubjectTicksWildcard).Inc()

	tick, err := DecodeTick(msg.Data)
	if err != nil {
		observability.TicksIgnored.WithLabelValues("malformed").Inc()
		s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed tick")
		_ = msg.Term()
		return
	}

	if err := s.sink.Submit(ctx, tick); err != nil {
		// Leave it for redelivery to the next process
		s.logger.Warn().Err(err).Str("stock", tick.StockName).Msg("Tick not accepted")
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// TickPublisher publishes ticks onto the price stream
type TickPublisher struct {
	js nats.JetStreamContext
}

// NewTickPublisher creates a tick publisher
func NewTickPublisher(js nats.JetStreamContext) *TickPublisher {
	return &TickPublisher{js: js}
}

// Publish sends one tick
func (p *TickPublisher) Publish(tick alerts.PriceTick) error {
	return messaging.PublishJSON(p.js, TickSubject(tick.StockName), tick)
}
