package store

// postgresSchema creates the alert tables. Statements are idempotent.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id           UUID PRIMARY KEY,
		stock_name   TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		lower_bound  NUMERIC(24, 8) NOT NULL,
		upper_bound  NUMERIC(24, 8) NOT NULL,
		enabled      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT alerts_bounds_ordered CHECK (lower_bound < upper_bound)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_stock_enabled ON alerts (stock_name) WHERE enabled`,
	`CREATE TABLE IF NOT EXISTS triggered_alerts (
		id               UUID PRIMARY KEY,
		alert_id         UUID NOT NULL,
		stock_name       TEXT NOT NULL,
		display_name     TEXT NOT NULL DEFAULT '',
		bound_crossed    TEXT NOT NULL CHECK (bound_crossed IN ('upper', 'lower')),
		bound_value      NUMERIC(24, 8) NOT NULL,
		price_at_trigger NUMERIC(24, 8) NOT NULL,
		triggered_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triggered_stock_time ON triggered_alerts (stock_name, triggered_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_triggered_alert_time ON triggered_alerts (alert_id, triggered_at DESC)`,
}

// sqliteSchema mirrors postgresSchema. Decimals are kept as text and
// timestamps as unix nanoseconds so ordering and precision survive.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id           TEXT PRIMARY KEY,
		stock_name   TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		lower_bound  TEXT NOT NULL,
		upper_bound  TEXT NOT NULL,
		enabled      INTEGER NOT NULL DEFAULT 1,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_stock ON alerts (stock_name)`,
	`CREATE TABLE IF NOT EXISTS triggered_alerts (
		id               TEXT PRIMARY KEY,
		alert_id         TEXT NOT NULL,
		stock_name       TEXT NOT NULL,
		display_name     TEXT NOT NULL DEFAULT '',
		bound_crossed    TEXT NOT NULL CHECK (bound_crossed IN ('upper', 'lower')),
		bound_value      TEXT NOT NULL,
		price_at_trigger TEXT NOT NULL,
		triggered_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triggered_stock_time ON triggered_alerts (stock_name, triggered_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_triggered_alert_time ON triggered_alerts (alert_id, triggered_at DESC)`,
}
