package main

import (
	"context"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/config"
	"github.com/bl8ckfz/stock-alert-engine/internal/store"
	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		observability.NewLogger("migrate", observability.LevelInfo).Fatal("Failed to load configuration", err)
	}
	logger := cfg.NewLogger("migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store, logger.Zerolog())
	if err != nil {
		logger.Fatal("Failed to connect to database", err)
	}
	defer st.Close()

	logger.WithField("driver", cfg.Store.Driver).Info("Connected to database, running migrations")
	if err := st.Migrate(ctx); err != nil {
		logger.Fatal("Migration failed", err)
	}
	logger.Info("All migrations completed")
}
