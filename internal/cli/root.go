// Package cli implements alertctl, the operator command line for alert
// definitions, manual price entry and the triggered alert log.
package cli

import (
	"context"
	"fmt"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/internal/config"
	"github.com/bl8ckfz/stock-alert-engine/internal/feed"
	"github.com/bl8ckfz/stock-alert-engine/internal/pricecache"
	"github.com/bl8ckfz/stock-alert-engine/internal/store"
	"github.com/bl8ckfz/stock-alert-engine/pkg/messaging"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information
const Version = "0.1.0"

// TickPublisher sends a manually entered tick to the evaluators
type TickPublisher interface {
	Publish(tick alerts.PriceTick) error
}

// PriceWriter records the latest price for readers of the cache
type PriceWriter interface {
	Put(ctx context.Context, ticks ...alerts.PriceTick) error
}

// App holds the application dependencies. Fields left nil are connected on
// first use from Config.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Catalog *store.Catalog
	Ticks   TickPublisher
	Prices  PriceWriter

	v       *viper.Viper
	nc      *nats.Conn
	closers []func()
}

// NewApp creates an app reading configuration from v
func NewApp(v *viper.Viper, logger zerolog.Logger) *App {
	return &App{v: v, Logger: logger}
}

// NewRootCmd creates the alertctl command tree
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alertctl",
		Short: "Manage stock price alerts",
		Long: `alertctl manages price-threshold alerts.

Alerts fire once when a stock's price leaves the [lower, upper] range and
re-arm when it returns. Definitions are written to the alert store and
announced to running alert engines over NATS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if err := config.ReadFile(app.v, path); err != nil {
				return err
			}
			cfg, err := config.FromViper(app.v)
			if err != nil {
				return err
			}
			app.Config = cfg

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file (default: $ALERTS_CONFIG)")
	flags.Bool("json", false, "output in JSON format")
	flags.Bool("debug", false, "enable debug logging")
	flags.Bool("no-publish", false, "do not announce alert changes over NATS")
	flags.String("store-driver", "", "alert store driver (postgres, sqlite)")
	flags.String("postgres-url", "", "PostgreSQL connection string")
	flags.String("sqlite-path", "", "SQLite database file")
	flags.String("nats-url", "", "NATS server URL")
	flags.String("redis-url", "", "Redis address for the latest-price cache")

	for key, name := range map[string]string{
		"store.driver":       "store-driver",
		"store.postgres_url": "postgres-url",
		"store.sqlite_path":  "sqlite-path",
		"nats.url":           "nats-url",
		"redis.url":          "redis-url",
	} {
		_ = app.v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newAlertsCmd(app))
	rootCmd.AddCommand(newTickCmd(app))
	rootCmd.AddCommand(newTriggeredCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				_ = output.JSON(map[string]string{"version": Version})
				return
			}
			output.Printf("alertctl v%s\n", Version)
		},
	}
}

// Close releases connections opened by commands
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// catalog connects the alert store, and the change publisher unless disabled
func (a *App) catalog(cmd *cobra.Command) (*store.Catalog, error) {
	if a.Catalog != nil {
		return a.Catalog, nil
	}

	ctx := cmd.Context()
	st, err := store.Open(ctx, a.Config.Store, a.Logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)

	var publisher store.ChangePublisher
	if noPublish, _ := cmd.Flags().GetBool("no-publish"); !noPublish {
		js, err := a.jetStream()
		if err != nil {
			a.Logger.Warn().Err(err).Msg("NATS unavailable, running engines pick up changes on restart")
		} else {
			publisher = feed.NewChangePublisher(js)
		}
	}

	a.Catalog = store.NewCatalog(st, publisher, a.Logger)
	return a.Catalog, nil
}

// tickOutputs connects the tick stream and, when reachable, the price cache
func (a *App) tickOutputs(cmd *cobra.Command) (TickPublisher, PriceWriter, error) {
	if a.Ticks == nil {
		js, err := a.jetStream()
		if err != nil {
			return nil, nil, err
		}
		a.Ticks = feed.NewTickPublisher(js)
	}

	if a.Prices == nil && a.Config.Redis.URL != "" && a.Config.Redis.URL != "disabled" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.URL,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		if err := rdb.Ping(cmd.Context()).Err(); err != nil {
			a.Logger.Warn().Err(err).Msg("Redis unavailable, price cache not updated")
			_ = rdb.Close()
		} else {
			a.closers = append(a.closers, func() { _ = rdb.Close() })
			a.Prices = pricecache.New(rdb, a.Config.Redis.TTL)
		}
	}
	return a.Ticks, a.Prices, nil
}

func (a *App) jetStream() (nats.JetStreamContext, error) {
	if a.nc == nil {
		nc, err := messaging.NewNATSConn(messaging.Config{
			URL:             a.Config.NATS.URL,
			Name:            "alertctl",
			MaxReconnects:   1,
			ReconnectWait:   a.Config.NATS.ReconnectWait,
			EnableJetStream: true,
		})
		if err != nil {
			return nil, err
		}
		a.nc = nc
		a.closers = append(a.closers, func() { messaging.Close(nc) })
	}

	js, err := messaging.NewJetStream(a.nc)
	if err != nil {
		return nil, err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		return nil, fmt.Errorf("preparing streams: %w", err)
	}
	return js, nil
}
