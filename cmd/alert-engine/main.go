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

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/internal/config"
	"github.com/bl8ckfz/stock-alert-engine/internal/feed"
	"github.com/bl8ckfz/stock-alert-engine/internal/store"
	"github.com/bl8ckfz/stock-alert-engine/pkg/messaging"
	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		observability.NewLogger("alert-engine", observability.LevelInfo).Fatal("Failed to load configuration", err)
	}
	logger := cfg.NewLogger("alert-engine")
	logger.Info("Starting Alert Engine service")

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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Alert Engine failed", err)
	}
	logger.Info("Alert Engine service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	zl := logger.Zerolog()
	health := observability.NewHealthChecker()

	// Alert store
	logger.WithField("driver", cfg.Store.Driver).Info("Connecting to alert store")
	st, err := store.Open(ctx, cfg.Store, zl)
	if err != nil {
		return err
	}
	defer st.Close()
	if cfg.Store.Driver == "sqlite" {
		// Embedded stores have no separate migration step
		if err := st.Migrate(ctx); err != nil {
			return err
		}
	}
	health.AddCheck("store", st.Ping)

	// NATS
	logger.Infof("Connecting to NATS: %s", cfg.NATS.URL)
	nc, err := messaging.NewNATSConn(messaging.Config{
		URL:             cfg.NATS.URL,
		Name:            "alert-engine",
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

	// Evaluation pipeline
	engine := alerts.NewEngine(zl)

	dispatcher := alerts.NewDispatcher(alerts.DispatcherConfig{
		Sink:        st,
		QueueSize:   cfg.Sink.QueueSize,
		Workers:     cfg.Sink.Workers,
		MaxRetries:  cfg.Sink.MaxRetries,
		BaseBackoff: cfg.Sink.BaseBackoff,
		MaxBackoff:  cfg.Sink.MaxBackoff,
	}, zl)
	dispatcher.Start()

	forwardCh, _ := dispatcher.Subscribe(cfg.Sink.QueueSize)
	forwarder := feed.NewForwarder(js, zl)

	notifier := alerts.NewNotifier(cfg.Webhooks, zl)
	logger.WithField("webhooks", len(cfg.Webhooks)).Info("Initialized notifier")
	notifyCh, _ := dispatcher.Subscribe(cfg.Sink.QueueSize)

	syncer := alerts.NewSyncer(engine, feed.NewChangeFeed(st, nc, zl), zl)
	stopChanges, err := syncer.Run(ctx)
	if err != nil {
		_ = dispatcher.Close(context.Background())
		return fmt.Errorf("loading alerts: %w", err)
	}
	stats := engine.Stats()
	logger.WithFields(map[string]interface{}{
		"alerts": stats.Alerts,
		"stocks": stats.Stocks,
	}).Info("Loaded alerts")

	processor := alerts.NewProcessor(engine, dispatcher, alerts.ProcessorConfig{
		Shards:    cfg.Engine.Shards,
		QueueSize: cfg.Engine.QueueSize,
	}, zl)
	processor.Start()

	tickSub, err := feed.NewTickSubscriber(js, processor, cfg.Engine.ConsumerName, zl).Start(ctx)
	if err != nil {
		_ = stopChanges()
		_ = processor.Shutdown(context.Background())
		_ = dispatcher.Close(context.Background())
		return err
	}

	opsServer := observability.NewOpsServer(":"+cfg.HTTP.MetricsPort, health)

	g, gctx := errgroup.WithContext(ctx)

	// Subscribers end when the dispatcher closes their streams
	g.Go(func() error {
		forwarder.Run(context.Background(), forwardCh)
		return nil
	})
	g.Go(func() error {
		notifier.Run(context.Background(), notifyCh)
		return nil
	})

	g.Go(func() error {
		logger.Infof("Metrics server listening on %s", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Stopping Alert Engine")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop intake first; ticks arriving from here on are redelivered later
		if err := tickSub.Drain(); err != nil {
			logger.Error("Failed to drain tick subscription", err)
		}
		if err := stopChanges(); err != nil {
			logger.Error("Failed to stop change feed", err)
		}
		if err := processor.Shutdown(shutdownCtx); err != nil {
			logger.Error("Processor did not drain", err)
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Error("Dispatcher did not drain", err)
		}
		return opsServer.Shutdown(shutdownCtx)
	})

	logger.Info("Alert Engine service started")
	return g.Wait()
}
