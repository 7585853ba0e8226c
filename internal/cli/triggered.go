package cli

import (
	"fmt"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/internal/store"
	"github.com/spf13/cobra"
)

func newTriggeredCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggered",
		Short: "Inspect the triggered alert log",
	}

	list := &cobra.Command{
		Use:     "list",
		Short:   "List triggered alerts, newest first",
		Example: "  alertctl triggered list --stock ACME --since 24h",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := triggeredFilter(cmd, time.Now())
			if err != nil {
				return err
			}
			catalog, err := app.catalog(cmd)
			if err != nil {
				return err
			}
			events, err := catalog.Triggered(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printTriggered(NewOutput(cmd), events)
		},
	}
	list.Flags().String("stock", "", "only this stock")
	list.Flags().String("alert", "", "only this alert id")
	list.Flags().String("since", "", "RFC3339 time or a duration back from now (e.g. 24h)")
	list.Flags().Int("limit", 100, "maximum rows")

	cmd.AddCommand(list)
	return cmd
}

func triggeredFilter(cmd *cobra.Command, now time.Time) (store.TriggeredFilter, error) {
	flags := cmd.Flags()
	var filter store.TriggeredFilter
	filter.StockName, _ = flags.GetString("stock")
	filter.AlertID, _ = flags.GetString("alert")
	filter.Limit, _ = flags.GetInt("limit")

	since, _ := flags.GetString("since")
	if since == "" {
		return filter, nil
	}
	if d, err := time.ParseDuration(since); err == nil {
		filter.Since = now.Add(-d)
		return filter, nil
	}
	t, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return filter, fmt.Errorf("invalid --since %q: want RFC3339 or a duration", since)
	}
	filter.Since = t
	return filter, nil
}

func printTriggered(output *Output, events []alerts.TriggeredAlert) error {
	if output.IsJSON() {
		if events == nil {
			events = []alerts.TriggeredAlert{}
		}
		return output.JSON(events)
	}
	if len(events) == 0 {
		output.Dim("No triggered alerts")
		return nil
	}

	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.TriggeredAt.Format(time.RFC3339),
			ev.StockName,
			ev.AlertID,
			string(ev.BoundCrossed),
			ev.BoundValue.String(),
			ev.PriceAtTrigger.String(),
		})
	}
	output.Table([]string{"TIME", "STOCK", "ALERT", "BOUND", "VALUE", "PRICE"}, rows)
	return nil
}
