package store

import (
	"context"
	"fmt"

	"github.com/bl8ckfz/stock-alert-engine/internal/config"
	"github.com/bl8ckfz/stock-alert-engine/pkg/database"
	"github.com/rs/zerolog"
)

// Open connects the store selected by cfg.Driver
func Open(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresURL, database.PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return NewPostgres(pool, logger), nil
	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQLite(db, logger), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
