package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ChangePublisher announces committed alert mutations
type ChangePublisher interface {
	PublishChange(ctx context.Context, change alerts.AlertChange) error
}

// AlertInput is the user-editable part of an alert
type AlertInput struct {
	StockName   string          `json:"stock_name"`
	DisplayName string          `json:"display_name"`
	LowerBound  decimal.Decimal `json:"lower_bound"`
	UpperBound  decimal.Decimal `json:"upper_bound"`
	Enabled     *bool           `json:"enabled,omitempty"`
}

// Catalog is the mutation path for alert definitions: it validates, writes
// to the store and then announces the change so evaluators can follow.
type Catalog struct {
	store     Store
	publisher ChangePublisher
	now       func() time.Time
	logger    zerolog.Logger
}

// NewCatalog creates a catalog. publisher may be nil when nothing evaluates
// alerts in-process or remotely.
func NewCatalog(store Store, publisher ChangePublisher, logger zerolog.Logger) *Catalog {
	return &Catalog{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With().Str("component", "catalog").Logger(),
	}
}

// List returns alert definitions
func (c *Catalog) List(ctx context.Context, filter AlertFilter) ([]alerts.Alert, error) {
	filter.StockName = alerts.NormalizeStock(filter.StockName)
	return c.store.ListAlerts(ctx, filter)
}

// Get returns one alert definition
func (c *Catalog) Get(ctx context.Context, id string) (alerts.Alert, error) {
	return c.store.GetAlert(ctx, id)
}

// Create validates and stores a new alert. New alerts are enabled unless the
// input says otherwise.
func (c *Catalog) Create(ctx context.Context, in AlertInput) (alerts.Alert, error) {
	now := c.now().UTC()
	a := alerts.Alert{
		ID:          uuid.NewString(),
		StockName:   alerts.NormalizeStock(in.StockName),
		DisplayName: in.DisplayName,
		LowerBound:  in.LowerBound,
		UpperBound:  in.UpperBound,
		Enabled:     in.Enabled == nil || *in.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.Validate(); err != nil {
		return alerts.Alert{}, err
	}

	if err := c.store.InsertAlert(ctx, a); err != nil {
		return alerts.Alert{}, err
	}

	c.announce(ctx, alerts.ChangeUpsert, a)
	return a, nil
}

// Update replaces stock, name and bounds of an existing alert. The enabled
// flag changes only when the input carries one.
func (c *Catalog) Update(ctx context.Context, id string, in AlertInput) (alerts.Alert, error) {
	current, err := c.store.GetAlert(ctx, id)
	if err != nil {
		return alerts.Alert{}, err
	}

	a := current
	a.StockName = alerts.NormalizeStock(in.StockName)
	a.DisplayName = in.DisplayName
	a.LowerBound = in.LowerBound
	a.UpperBound = in.UpperBound
	if in.Enabled != nil {
		a.Enabled = *in.Enabled
	}
	a.UpdatedAt = c.now().UTC()

	if err := a.Validate(); err != nil {
		return alerts.Alert{}, err
	}
	if err := c.store.UpdateAlert(ctx, a); err != nil {
		return alerts.Alert{}, err
	}

	// Upsert re-arms the alert in the engine, so only definition changes use it
	switch {
	case definitionChanged(current, a):
		c.announce(ctx, alerts.ChangeUpsert, a)
	case current.Enabled != a.Enabled:
		c.announce(ctx, alerts.ChangeToggle, a)
	}
	return a, nil
}

// definitionChanged reports whether an edit touches anything evaluation or
// triggered events depend on
func definitionChanged(before, after alerts.Alert) bool {
	return before.StockName != after.StockName ||
		before.DisplayName != after.DisplayName ||
		!before.LowerBound.Equal(after.LowerBound) ||
		!before.UpperBound.Equal(after.UpperBound)
}

// Delete removes an alert. Its triggered history is kept.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	removed, err := c.store.DeleteAlert(ctx, id)
	if err != nil {
		return err
	}
	c.announce(ctx, alerts.ChangeDelete, removed)
	return nil
}

// SetEnabled switches evaluation of an alert on or off
func (c *Catalog) SetEnabled(ctx context.Context, id string, enabled bool) (alerts.Alert, error) {
	a, err := c.store.SetAlertEnabled(ctx, id, enabled, c.now().UTC())
	if err != nil {
		return alerts.Alert{}, err
	}
	c.announce(ctx, alerts.ChangeToggle, a)
	return a, nil
}

// Toggle inverts the enabled flag
func (c *Catalog) Toggle(ctx context.Context, id string) (alerts.Alert, error) {
	current, err := c.store.GetAlert(ctx, id)
	if err != nil {
		return alerts.Alert{}, err
	}
	return c.SetEnabled(ctx, id, !current.Enabled)
}

// Triggered lists the triggered alert log
func (c *Catalog) Triggered(ctx context.Context, filter TriggeredFilter) ([]alerts.TriggeredAlert, error) {
	filter.StockName = alerts.NormalizeStock(filter.StockName)
	return c.store.ListTriggered(ctx, filter)
}

// announce publishes a committed change. The write already succeeded, so a
// publish failure is logged rather than returned; evaluators resync on restart.
func (c *Catalog) announce(ctx context.Context, op alerts.ChangeOp, a alerts.Alert) {
	if c.publisher == nil {
		return
	}
	change := alerts.AlertChange{Op: op, Alert: a, At: c.now().UTC()}
	if err := c.publisher.PublishChange(ctx, change); err != nil {
		c.logger.Error().
			Err(fmt.Errorf("announce %s: %w", op, err)).
			Str("alert_id", a.ID).
			Msg("Failed to publish alert change")
	}
}
