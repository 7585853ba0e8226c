package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/rs/zerolog"
)

const sqliteAlertColumns = `id, stock_name, display_name, lower_bound, upper_bound, enabled, created_at, updated_at`

const sqliteTriggeredColumns = `id, alert_id, stock_name, display_name, bound_crossed, bound_value, price_at_trigger, triggered_at`

// SQLite is an embedded Store for single-node deployments and tests
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLite wraps an open database
func NewSQLite(db *sql.DB, logger zerolog.Logger) *SQLite {
	return &SQLite{
		db:     db,
		logger: logger.With().Str("component", "sqlite-store").Logger(),
	}
}

// Migrate creates the schema
func (s *SQLite) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range sqliteSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	s.logger.Info().Int("statements", len(sqliteSchema)).Msg("Schema migrated")
	return nil
}

// Ping checks the database is usable
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close database")
	}
}

// ListAlerts returns alert definitions ordered by stock then creation time
func (s *SQLite) ListAlerts(ctx context.Context, filter AlertFilter) ([]alerts.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.StockName != "" {
		where = append(where, "stock_name = ?")
		args = append(args, filter.StockName)
	}
	if filter.EnabledOnly {
		where = append(where, "enabled = 1")
	}

	query := `SELECT ` + sqliteAlertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY stock_name, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		a, err := scanSQLiteAlert(rows)
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
func (s *SQLite) LoadAllEnabled(ctx context.Context) ([]alerts.Alert, error) {
	return s.ListAlerts(ctx, AlertFilter{EnabledOnly: true})
}

// GetAlert returns one alert or alerts.ErrNotFound
func (s *SQLite) GetAlert(ctx context.Context, id string) (alerts.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteAlertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanSQLiteAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return alerts.Alert{}, fmt.Errorf("get alert %s: %w", id, alerts.ErrNotFound)
	}
	return a, err
}

// InsertAlert stores a new definition
func (s *SQLite) InsertAlert(ctx context.Context, a alerts.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, stock_name, display_name, lower_bound, upper_bound, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.StockName, a.DisplayName,
		a.LowerBound.String(), a.UpperBound.String(),
		a.Enabled, a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAlert replaces the mutable fields of a definition
func (s *SQLite) UpdateAlert(ctx context.Context, a alerts.Alert) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET stock_name = ?, display_name = ?, lower_bound = ?, upper_bound = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		a.StockName, a.DisplayName,
		a.LowerBound.String(), a.UpperBound.String(),
		a.Enabled, a.UpdatedAt.UnixNano(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update alert %s: %w", a.ID, alerts.ErrNotFound)
	}
	return nil
}

// DeleteAlert removes a definition and returns it as it was
func (s *SQLite) DeleteAlert(ctx context.Context, id string) (alerts.Alert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return alerts.Alert{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := scanSQLiteAlert(tx.QueryRowContext(ctx, `SELECT `+sqliteAlertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return alerts.Alert{}, fmt.Errorf("delete alert %s: %w", id, alerts.ErrNotFound)
	}
	if err != nil {
		return alerts.Alert{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id); err != nil {
		return alerts.Alert{}, fmt.Errorf("failed to delete alert %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return alerts.Alert{}, fmt.Errorf("failed to commit delete: %w", err)
	}
	return a, nil
}

// SetAlertEnabled flips the toggle and returns the updated definition
func (s *SQLite) SetAlertEnabled(ctx context.Context, id string, enabled bool, at time.Time) (alerts.Alert, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, at.UnixNano(), id,
	)
	if err != nil {
		return alerts.Alert{}, fmt.Errorf("failed to toggle alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return alerts.Alert{}, fmt.Errorf("toggle alert %s: %w", id, alerts.ErrNotFound)
	}
	return s.GetAlert(ctx, id)
}

// Record appends a triggered alert. Replays of the same firing are ignored.
func (s *SQLite) Record(ctx context.Context, t alerts.TriggeredAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triggered_alerts (`+sqliteTriggeredColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.AlertID, t.StockName, t.DisplayName, string(t.BoundCrossed),
		t.BoundValue.String(), t.PriceAtTrigger.String(), t.TriggeredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record triggered alert %s: %w", t.ID, err)
	}
	return nil
}

// ListTriggered returns triggered alerts newest first
func (s *SQLite) ListTriggered(ctx context.Context, filter TriggeredFilter) ([]alerts.TriggeredAlert, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.StockName != "" {
		where = append(where, "stock_name = ?")
		args = append(args, filter.StockName)
	}
	if filter.AlertID != "" {
		where = append(where, "alert_id = ?")
		args = append(args, filter.AlertID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "triggered_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	query := `SELECT ` + sqliteTriggeredColumns + ` FROM triggered_alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY triggered_at DESC, id LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggered alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.TriggeredAlert
	for rows.Next() {
		var (
			t     alerts.TriggeredAlert
			bound string
			at    int64
		)
		// decimal.Decimal implements sql.Scanner
		if err := rows.Scan(&t.ID, &t.AlertID, &t.StockName, &t.DisplayName, &bound, &t.BoundValue, &t.PriceAtTrigger, &at); err != nil {
			return nil, fmt.Errorf("failed to scan triggered alert: %w", err)
		}
		t.BoundCrossed = alerts.Bound(bound)
		t.TriggeredAt = time.Unix(0, at).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate triggered alerts: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteAlert(row rowScanner) (alerts.Alert, error) {
	var (
		a                alerts.Alert
		created, updated int64
	)
	err := row.Scan(&a.ID, &a.StockName, &a.DisplayName, &a.LowerBound, &a.UpperBound, &a.Enabled, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	return a, nil
}
