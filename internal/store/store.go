// Package store persists alert definitions and triggered alerts.
package store

import (
	"context"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
)

const defaultTriggeredLimit = 100

// Store is the durable home of alert definitions and the triggered alert log
type Store interface {
	alerts.TriggeredAlertSink

	ListAlerts(ctx context.Context, filter AlertFilter) ([]alerts.Alert, error)
	LoadAllEnabled(ctx context.Context) ([]alerts.Alert, error)
	GetAlert(ctx context.Context, id string) (alerts.Alert, error)
	InsertAlert(ctx context.Context, alert alerts.Alert) error
	UpdateAlert(ctx context.Context, alert alerts.Alert) error
	DeleteAlert(ctx context.Context, id string) (alerts.Alert, error)
	SetAlertEnabled(ctx context.Context, id string, enabled bool, at time.Time) (alerts.Alert, error)

	ListTriggered(ctx context.Context, filter TriggeredFilter) ([]alerts.TriggeredAlert, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// AlertFilter narrows ListAlerts
type AlertFilter struct {
	StockName   string
	EnabledOnly bool
}

// TriggeredFilter narrows ListTriggered. Results are newest first.
type TriggeredFilter struct {
	StockName string
	AlertID   string
	Since     time.Time
	Limit     int
}

func (f TriggeredFilter) limit() int {
	if f.Limit <= 0 {
		return defaultTriggeredLimit
	}
	if f.Limit > 1000 {
		return 1000
	}
	return f.Limit
}
