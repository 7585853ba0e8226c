package cli

import (
	"fmt"
	"strconv"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/internal/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newAlertsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alerts",
		Aliases: []string{"alert"},
		Short:   "Manage alert definitions",
	}

	cmd.AddCommand(newAlertsListCmd(app))
	cmd.AddCommand(newAlertsGetCmd(app))
	cmd.AddCommand(newAlertsCreateCmd(app))
	cmd.AddCommand(newAlertsUpdateCmd(app))
	cmd.AddCommand(newAlertsDeleteCmd(app))
	cmd.AddCommand(newAlertsEnableCmd(app, "enable", true))
	cmd.AddCommand(newAlertsEnableCmd(app, "disable", false))

	return cmd
}

func newAlertsListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := app.catalog(cmd)
			if err != nil {
				return err
			}
			stock, _ := cmd.Flags().GetString("stock")
			enabledOnly, _ := cmd.Flags().GetBool("enabled")

			list, err := catalog.List(cmd.Context(), store.AlertFilter{StockName: stock, EnabledOnly: enabledOnly})
			if err != nil {
				return err
			}
			return printAlerts(NewOutput(cmd), list)
		},
	}
	cmd.Flags().String("stock", "", "only alerts on this stock")
	cmd.Flags().Bool("enabled", false, "only enabled alerts")
	return cmd
}

func newAlertsGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := app.catalog(cmd)
			if err != nil {
				return err
			}
			a, err := catalog.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printAlerts(NewOutput(cmd), []alerts.Alert{a})
		},
	}
}

func newAlertsCreateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an alert",
		Example: `  alertctl alerts create --stock ACME --lower 95 --upper 110
  alertctl alerts create --stock GLOBEX --name "Globex breakout" --lower 10.5 --upper 12 --disabled`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := alertInput(cmd, store.AlertInput{})
			if err != nil {
				return err
			}
			if disabled, _ := cmd.Flags().GetBool("disabled"); disabled {
				enabled := false
				in.Enabled = &enabled
			}

			catalog, err := app.catalog(cmd)
			if err != nil {
				return err
			}
			a, err := catalog.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printChanged(NewOutput(cmd), "Created", a)
		},
	}
	addDefinitionFlags(cmd)
	cmd.Flags().Bool("disabled", false, "create the alert disabled")
	_ = cmd.MarkFlagRequired("stock")
	_ = cmd.MarkFlagRequired("lower")
	_ = cmd.MarkFlagRequired("upper")
	return cmd
}

func newAlertsUpdateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an alert's stock, name or bounds",
		Long:  "Change an alert's stock, name or bounds. Flags not given keep their current value.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := app.catalog(cmd)
			if err != nil {
				return err
			}
			current, err := catalog.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			in, err := alertInput(cmd, store.AlertInput{
				StockName:   current.StockName,
				DisplayName: current.DisplayName,
				LowerBound:  current.LowerBound,
				UpperBound:  current.UpperBound,
			})
			if err != nil {
				return err
			}

			a, err := catalog.Update(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			return printChanged(NewOutput(cmd), "Updated", a)
		},
	}
	addDefinitionFlags(cmd)
	return cmd
}

func newAlertsDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an alert (its triggered history is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := app.catalog(cmd)
			if err != nil {
				return err
			}
			if err := catalog.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"deleted": args[0]})
			}
			output.Success("Deleted %s", args[0])
			return nil
		},
	}
}

func newAlertsEnableCmd(app *App, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("%s evaluation of an alert", capitalize(use)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := app.catalog(cmd)
			if err != nil {
				return err
			}
			a, err := catalog.SetEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			return printChanged(NewOutput(cmd), capitalize(use)+"d", a)
		},
	}
}

func addDefinitionFlags(cmd *cobra.Command) {
	cmd.Flags().String("stock", "", "stock symbol")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("lower", "", "lower bound")
	cmd.Flags().String("upper", "", "upper bound")
}

// alertInput overlays the flags that were set onto base
func alertInput(cmd *cobra.Command, base store.AlertInput) (store.AlertInput, error) {
	flags := cmd.Flags()
	if flags.Changed("stock") {
		base.StockName, _ = flags.GetString("stock")
	}
	if flags.Changed("name") {
		base.DisplayName, _ = flags.GetString("name")
	}
	for _, b := range []struct {
		flag string
		dst  *decimal.Decimal
	}{
		{"lower", &base.LowerBound},
		{"upper", &base.UpperBound},
	} {
		if !flags.Changed(b.flag) {
			continue
		}
		raw, _ := flags.GetString(b.flag)
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return base, fmt.Errorf("invalid --%s %q: %w", b.flag, raw, err)
		}
		*b.dst = d
	}
	return base, nil
}

func printAlerts(output *Output, list []alerts.Alert) error {
	if output.IsJSON() {
		if list == nil {
			list = []alerts.Alert{}
		}
		return output.JSON(list)
	}
	if len(list) == 0 {
		output.Dim("No alerts")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, a := range list {
		rows = append(rows, []string{
			a.ID,
			a.StockName,
			a.DisplayName,
			a.LowerBound.String(),
			a.UpperBound.String(),
			strconv.FormatBool(a.Enabled),
		})
	}
	output.Table([]string{"ID", "STOCK", "NAME", "LOWER", "UPPER", "ENABLED"}, rows)
	return nil
}

func printChanged(output *Output, verb string, a alerts.Alert) error {
	if output.IsJSON() {
		return output.JSON(a)
	}
	output.Success("%s alert %s", verb, a.ID)
	return printAlerts(output, []alerts.Alert{a})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
