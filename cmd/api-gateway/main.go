package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/api"
	"github.com/bl8ckfz/stock-alert-engine/internal/config"
	"github.com/bl8ckfz/stock-alert-engine/internal/feed"
	"github.com/bl8ckfz/stock-alert-engine/internal/pricecache"
	"github.com/bl8ckfz/stock-alert-engine/internal/store"
	"github.com/bl8ckfz/stock-alert-engine/pkg/messaging"
	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		observability.NewLogger("api-gateway", observability.LevelInfo).Fatal("Failed to load configuration", err)
	}
	logger := cfg.NewLogger("api-gateway")
	logger.Info("Starting API Gateway service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("API Gateway failed", err)
	}
	logger.Info("API Gateway service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	zl := logger.Zerolog()
	health := observability.NewHealthChecker()

	st, err := store.Open(ctx, cfg.Store, zl)
	if err != nil {
		return err
	}
	defer st.Close()
	if cfg.Store.Driver == "sqlite" {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
	}
	health.AddCheck("store", st.Ping)

	nc, err := messaging.NewNATSConn(messaging.Config{
		URL:             cfg.NATS.URL,
		Name:            "api-gateway",
		MaxReconnects:   -1,
		ReconnectWait:   cfg.NATS.ReconnectWait,
		EnableJetStream: true,
	})
	if err != nil {
		return err
	}
	defer messaging.Close(nc)
	health.AddCheck("nats", messaging.HealthCheck(nc))

	js, err := messaging.NewJetStream(nc)
	if err != nil {
		return err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		return err
	}

	catalog := store.NewCatalog(st, feed.NewChangePublisher(js), zl)

	// Optional Redis connection for the latest-price cache
	var prices api.PriceReader
	if cfg.Redis.URL != "" && cfg.Redis.URL != "disabled" {
		logger.WithField("url", cfg.Redis.URL).Info("Connecting to Redis")
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to connect to Redis, price cache disabled")
			_ = rdb.Close()
		} else {
			defer rdb.Close()
			cache := pricecache.New(rdb, cfg.Redis.TTL)
			health.AddCheck("redis", cache.Ping)
			prices = cache
		}
	}

	srv := api.NewServer(api.Config{
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		RateLimitRPS: cfg.HTTP.RateLimitRPS,
		Backlog:      cfg.HTTP.Backlog,
	}, catalog, prices, health, zl)
	defer srv.Close()

	stopTriggered, err := feed.SubscribeTriggered(nc, zl, srv.Hub().Broadcast)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API Gateway listening on %s", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		if err := stopTriggered(); err != nil {
			logger.Error("Failed to stop triggered alert stream", err)
		}
		// Ends websocket streams, which Shutdown does not wait for
		srv.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", err)
		}
		return nil
	})

	return g.Wait()
}
