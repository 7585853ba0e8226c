package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/internal/config"
	"github.com/bl8ckfz/stock-alert-engine/internal/feed"
	"github.com/bl8ckfz/stock-alert-engine/internal/pricecache"
	"github.com/bl8ckfz/stock-alert-engine/internal/simulator"
	"github.com/bl8ckfz/stock-alert-engine/pkg/messaging"
	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		observability.NewLogger("price-simulator", observability.LevelInfo).Fatal("Failed to load configuration", err)
	}
	logger := cfg.NewLogger("price-simulator")
	health := observability.NewHealthChecker()

	logger.Info("Starting Price Simulator service")

	// Context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Optional Redis for the latest-price cache
	var cache *pricecache.Cache
	if cfg.Redis.URL != "" && cfg.Redis.URL != "disabled" {
		logger.WithField("url", cfg.Redis.URL).Info("Connecting to Redis")
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to connect to Redis, price cache disabled")
			rdb.Close()
		} else {
			defer rdb.Close()
			cache = pricecache.New(rdb, cfg.Redis.TTL)
			health.AddCheck("redis", cache.Ping)
		}
	}

	logger.Infof("Connecting to NATS: %s", cfg.NATS.URL)
	nc, err := messaging.NewNATSConn(messaging.Config{
		URL:             cfg.NATS.URL,
		Name:            "price-simulator",
		MaxReconnects:   -1,
		ReconnectWait:   cfg.NATS.ReconnectWait,
		EnableJetStream: true,
	})
	if err != nil {
		logger.Fatal("Failed to connect to NATS", err)
	}
	defer messaging.Close(nc)
	health.AddCheck("nats", messaging.HealthCheck(nc))

	js, err := messaging.NewJetStream(nc)
	if err != nil {
		logger.Fatal("Failed to create JetStream context", err)
	}
	if err := messaging.EnsureStreams(js); err != nil {
		logger.Fatal("Failed to create streams", err)
	}

	sim := simulator.New(simulator.Config{
		Stocks:     cfg.Simulator.Stocks,
		Seed:       cfg.Simulator.Seed,
		Volatility: cfg.Simulator.Volatility,
		StartPrice: cfg.Simulator.StartPrice,
	})
	publisher := feed.NewTickPublisher(js)

	publish := func(ctx context.Context, ticks []alerts.PriceTick) error {
		var errs []error
		for _, tick := range ticks {
			if err := publisher.Publish(tick); err != nil {
				errs = append(errs, err)
				continue
			}
			observability.SimulatedTicks.Inc()
		}
		if cache != nil {
			if err := cache.Put(ctx, ticks...); err != nil {
				logger.WithField("error", err.Error()).Warn("Failed to update price cache")
			}
		}
		return errors.Join(errs...)
	}

	opsServer := observability.NewOpsServer(":"+cfg.HTTP.MetricsPort, health)
	go func() {
		logger.Infof("Metrics server listening on %s", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", err)
		}
	}()
	defer opsServer.Shutdown(context.Background())

	logger.WithFields(map[string]interface{}{
		"stocks":   sim.Stocks(),
		"interval": cfg.Simulator.Interval.String(),
	}).Info("Price Simulator service started")

	sim.Run(ctx, cfg.Simulator.Interval, publish, logger.Zerolog())

	logger.Info("Price Simulator service stopped")
}
