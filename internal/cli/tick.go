package cli

import (
	"fmt"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newTickCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick <stock> <price>",
		Short: "Publish a price observation",
		Long: `Publish a manually entered price to the tick stream, where every running
alert engine evaluates it. The latest-price cache is updated when reachable.`,
		Example: "  alertctl tick ACME 101.25\n  alertctl tick ACME 99 --at 2024-03-01T10:00:00Z",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tick, err := parseTick(cmd, args[0], args[1])
			if err != nil {
				return err
			}

			ticks, prices, err := app.tickOutputs(cmd)
			if err != nil {
				return err
			}
			if err := ticks.Publish(tick); err != nil {
				return err
			}
			if prices != nil {
				if err := prices.Put(cmd.Context(), tick); err != nil {
					app.Logger.Warn().Err(err).Msg("Failed to update price cache")
				}
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(tick)
			}
			output.Success("Published %s @ %s", tick.StockName, tick.Price.String())
			return nil
		},
	}
	cmd.Flags().String("at", "", "observation time, RFC3339 (default: now)")
	return cmd
}

func parseTick(cmd *cobra.Command, stock, rawPrice string) (alerts.PriceTick, error) {
	tick := alerts.PriceTick{StockName: alerts.NormalizeStock(stock)}
	if tick.StockName == "" {
		return tick, fmt.Errorf("stock must not be empty")
	}

	price, err := decimal.NewFromString(rawPrice)
	if err != nil {
		return tick, fmt.Errorf("invalid price %q: %w", rawPrice, err)
	}
	tick.Price = price

	tick.ObservedAt = time.Now().UTC()
	if at, _ := cmd.Flags().GetString("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return tick, fmt.Errorf("invalid --at %q: %w", at, err)
		}
		tick.ObservedAt = t.UTC()
	}
	return tick, nil
}
