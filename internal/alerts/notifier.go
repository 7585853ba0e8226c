package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/rs/zerolog"
)

// Notifier forwards triggered alerts to webhook endpoints
type Notifier struct {
	httpClient  *http.Client
	webhookURLs []string
	enabled     bool
	logger      zerolog.Logger
}

// NewNotifier creates a new webhook notifier
func NewNotifier(webhookURLs []string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		webhookURLs: webhookURLs,
		enabled:     len(webhookURLs) > 0,
		logger:      logger.With().Str("component", "notifier").Logger(),
	}
}

// Run consumes a triggered-alert stream until it closes or ctx ends
func (n *Notifier) Run(ctx context.Context, events <-chan TriggeredAlert) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.SendAlert(ctx, ev)
		}
	}
}

// SendAlert sends an alert to all configured webhooks
func (n *Notifier) SendAlert(ctx context.Context, alert TriggeredAlert) {
	if !n.enabled {
		return
	}

	for _, webhookURL := range n.webhookURLs {
		if err := n.sendWebhook(ctx, webhookURL, alert); err != nil {
			observability.WebhooksSent.WithLabelValues("failed").Inc()
			n.logger.Error().
				Err(err).
				Str("webhook", webhookURL).
				Str("stock", alert.StockName).
				Str("alert_id", alert.AlertID).
				Msg("Failed to send webhook")
			continue
		}

		observability.WebhooksSent.WithLabelValues("ok").Inc()
		n.logger.Debug().
			Str("webhook", webhookURL).
			Str("stock", alert.StockName).
			Msg("Webhook sent successfully")
	}
}

func (n *Notifier) sendWebhook(ctx context.Context, webhookURL string, alert TriggeredAlert) error {
	payloadBytes, err := json.Marshal(n.formatPayload(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// formatPayload builds a Discord-style embed
func (n *Notifier) formatPayload(alert TriggeredAlert) map[string]interface{} {
	color, direction := 0x00FF00, "above"
	if alert.BoundCrossed == BoundLower {
		color, direction = 0xFF0000, "below"
	}

	name := alert.DisplayName
	if name == "" {
		name = alert.StockName
	}

	fields := []map[string]interface{}{
		{"name": "Price", "value": alert.PriceAtTrigger.StringFixed(2), "inline": true},
		{"name": "Bound", "value": fmt.Sprintf("%s %s", alert.BoundCrossed, alert.BoundValue.StringFixed(2)), "inline": true},
		{"name": "Time", "value": alert.TriggeredAt.UTC().Format("15:04:05 UTC"), "inline": true},
	}

	return map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       name,
				"description": fmt.Sprintf("%s moved %s its %s bound", alert.StockName, direction, alert.BoundCrossed),
				"color":       color,
				"fields":      fields,
				"timestamp":   alert.TriggeredAt.UTC().Format(time.RFC3339),
				"footer": map[string]interface{}{
					"text": "Stock Alert Engine",
				},
			},
		},
	}
}
