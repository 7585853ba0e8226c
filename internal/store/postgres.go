package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/pkg/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const pgAlertColumns = `id::text, stock_name, display_name, lower_bound::text, upper_bound::text, enabled, created_at, updated_at`

const pgTriggeredColumns = `id::text, alert_id::text, stock_name, display_name, bound_crossed,
	bound_value::text, price_at_trigger::text, triggered_at`

// Postgres is a Store backed by a pgx connection pool
type Postgres struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres wraps an open pool
func NewPostgres(db *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger.With().Str("component", "postgres-store").Logger(),
	}
}

// Migrate creates the schema in a single transaction
func (p *Postgres) Migrate(ctx context.Context) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, stmt := range postgresSchema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	p.logger.Info().Int("statements", len(postgresSchema)).Msg("Schema migrated")
	return nil
}

// Ping checks connectivity
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close releases the pool
func (p *Postgres) Close() {
	database.Close(p.db)
}

// ListAlerts returns alert definitions ordered by stock then creation time
func (p *Postgres) ListAlerts(ctx context.Context, filter AlertFilter) ([]alerts.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.StockName != "" {
		args = append(args, filter.StockName)
		where = append(where, fmt.Sprintf("stock_name = $%d", len(args)))
	}
	if filter.EnabledOnly {
		where = append(where, "enabled")
	}

	query := `SELECT ` + pgAlertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY stock_name, created_at, id`

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		a, err := scanPgAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return out, nil
}

// LoadAllEnabled returns every enabled alert
func (p *Postgres) LoadAllEnabled(ctx context.Context) ([]alerts.Alert, error) {
	return p.ListAlerts(ctx, AlertFilter{EnabledOnly: true})
}

// GetAlert returns one alert or alerts.ErrNotFound
func (p *Postgres) GetAlert(ctx context.Context, id string) (alerts.Alert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return alerts.Alert{}, fmt.Errorf("get alert %s: %w", id, alerts.ErrNotFound)
	}

	row := p.db.QueryRow(ctx, `SELECT `+pgAlertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanPgAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return alerts.Alert{}, fmt.Errorf("get alert %s: %w", id, alerts.ErrNotFound)
	}
	return a, err
}

// InsertAlert stores a new definition
func (p *Postgres) InsertAlert(ctx context.Context, a alerts.Alert) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO alerts (id, stock_name, display_name, lower_bound, upper_bound, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.StockName, a.DisplayName,
		a.LowerBound.String(), a.UpperBound.String(),
		a.Enabled, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAlert replaces the mutable fields of a definition
func (p *Postgres) UpdateAlert(ctx context.Context, a alerts.Alert) error {
	if _, err := uuid.Parse(a.ID); err != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, alerts.ErrNotFound)
	}

	tag, err := p.db.Exec(ctx, `
		UPDATE alerts
		SET stock_name = $2, display_name = $3, lower_bound = $4, upper_bound = $5, enabled = $6, updated_at = $7
		WHERE id = $1`,
		a.ID, a.StockName, a.DisplayName,
		a.LowerBound.String(), a.UpperBound.String(),
		a.Enabled, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update alert %s: %w", a.ID, alerts.ErrNotFound)
	}
	return nil
}

// DeleteAlert removes a definition and returns it as it was. Triggered alerts
// referencing it are kept.
func (p *Postgres) DeleteAlert(ctx context.Context, id string) (alerts.Alert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return alerts.Alert{}, fmt.Errorf("delete alert %s: %w", id, alerts.ErrNotFound)
	}

	row := p.db.QueryRow(ctx, `DELETE FROM alerts WHERE id = $1 RETURNING `+pgAlertColumns, id)
	a, err := scanPgAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return alerts.Alert{}, fmt.Errorf("delete alert %s: %w", id, alerts.ErrNotFound)
	}
	return a, err
}

// SetAlertEnabled flips the toggle and returns the updated definition
func (p *Postgres) SetAlertEnabled(ctx context.Context, id string, enabled bool, at time.Time) (alerts.Alert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return alerts.Alert{}, fmt.Errorf("toggle alert %s: %w", id, alerts.ErrNotFound)
	}

	row := p.db.QueryRow(ctx,
		`UPDATE alerts SET enabled = $2, updated_at = $3 WHERE id = $1 RETURNING `+pgAlertColumns,
		id, enabled, at,
	)
	a, err := scanPgAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return alerts.Alert{}, fmt.Errorf("toggle alert %s: %w", id, alerts.ErrNotFound)
	}
	return a, err
}

// Record appends a triggered alert. Replays of the same firing are ignored.
func (p *Postgres) Record(ctx context.Context, t alerts.TriggeredAlert) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO triggered_alerts (id, alert_id, stock_name, display_name, bound_crossed, bound_value, price_at_trigger, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.AlertID, t.StockName, t.DisplayName, string(t.BoundCrossed),
		t.BoundValue.String(), t.PriceAtTrigger.String(), t.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record triggered alert %s: %w", t.ID, err)
	}
	return nil
}

// ListTriggered returns triggered alerts newest first
func (p *Postgres) ListTriggered(ctx context.Context, filter TriggeredFilter) ([]alerts.TriggeredAlert, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.StockName != "" {
		args = append(args, filter.StockName)
		where = append(where, fmt.Sprintf("stock_name = $%d", len(args)))
	}
	if filter.AlertID != "" {
		if _, err := uuid.Parse(filter.AlertID); err != nil {
			return nil, nil
		}
		args = append(args, filter.AlertID)
		where = append(where, fmt.Sprintf("alert_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("triggered_at >= $%d", len(args)))
	}

	query := `SELECT ` + pgTriggeredColumns + ` FROM triggered_alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(` ORDER BY triggered_at DESC, id LIMIT $%d`, len(args))

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggered alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.TriggeredAlert
	for rows.Next() {
		var (
			t            alerts.TriggeredAlert
			bound        string
			value, price string
		)
		if err := rows.Scan(&t.ID, &t.AlertID, &t.StockName, &t.DisplayName, &bound, &value, &price, &t.TriggeredAt); err != nil {
			return nil, fmt.Errorf("failed to scan triggered alert: %w", err)
		}
		t.BoundCrossed = alerts.Bound(bound)
		if t.BoundValue, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("bad bound value %q: %w", value, err)
		}
		if t.PriceAtTrigger, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("bad price %q: %w", price, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate triggered alerts: %w", err)
	}
	return out, nil
}

func scanPgAlert(row pgx.Row) (alerts.Alert, error) {
	var (
		a            alerts.Alert
		lower, upper string
	)
	if err := row.Scan(&a.ID, &a.StockName, &a.DisplayName, &lower, &upper, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan alert: %w", err)
	}

	var err error
	if a.LowerBound, err = decimal.NewFromString(lower); err != nil {
		return a, fmt.Errorf("bad lower bound %q: %w", lower, err)
	}
	if a.UpperBound, err = decimal.NewFromString(upper); err != nil {
		return a, fmt.Errorf("bad upper bound %q: %w", upper, err)
	}
	return a, nil
}
