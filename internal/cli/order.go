package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/pkg/utils"
)

// newOrderCmd creates the order command group.
func newOrderCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place, amend and inspect orders",
	}

	cmd.AddCommand(
		newOrderPlaceCmd(app),
		newOrderModifyCmd(app),
		newOrderCancelCmd(app),
		newOrderListCmd(app),
	)
	return cmd
}

type orderFlags struct {
	segment string
	side    string
	otype   string
	product string
	qty     int
	price   float64
	trigger float64
	amo     bool
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	var flags orderFlags

	cmd := &cobra.Command{
		Use:   "place SYMBOL",
		Short: "Submit a new order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			seg := models.ExchangeSegment(flags.segment)
			if !seg.Valid() {
				return fmt.Errorf("unknown segment %q", flags.segment)
			}
			if err := app.ensureMaster(ctx, seg); err != nil {
				return err
			}
			inst, err := app.Resolver.LookupSymbol(seg, args[0])
			if err != nil {
				return err
			}

			spec := models.OrderSpec{
				Instrument:   inst,
				Side:         models.OrderSide(strings.ToUpper(flags.side)),
				Type:         models.OrderType(strings.ToUpper(flags.otype)),
				Product:      models.ProductType(strings.ToUpper(flags.product)),
				Quantity:     flags.qty,
				Price:        flags.price,
				TriggerPrice: flags.trigger,
				AMO:          flags.amo,
			}

			order, err := app.Gateway.PlaceOrder(ctx, spec)
			if err != nil {
				if order != nil {
					output.Error("Order %s failed: %v", order.LocalID, err)
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Order placed: %s %d %s @ %s", order.Side, order.Quantity, inst.TradingSymbol, priceLabel(order.Type, order.Price))
			output.Printf("  local id: %s\n", order.LocalID)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.segment, "segment", string(models.NSECash), "exchange segment")
	cmd.Flags().StringVarP(&flags.side, "side", "s", "", "BUY or SELL")
	cmd.Flags().StringVarP(&flags.otype, "type", "t", "MARKET", "MARKET, LIMIT, SL or SL-M")
	cmd.Flags().StringVar(&flags.product, "product", "CNC", "CNC, MIS or NRML")
	cmd.Flags().IntVarP(&flags.qty, "quantity", "q", 0, "order quantity")
	cmd.Flags().Float64VarP(&flags.price, "price", "p", 0, "limit price")
	cmd.Flags().Float64Var(&flags.trigger, "trigger", 0, "trigger price for SL orders")
	cmd.Flags().BoolVar(&flags.amo, "amo", false, "after market order")
	cobra.CheckErr(cmd.MarkFlagRequired("side"))
	cobra.CheckErr(cmd.MarkFlagRequired("quantity"))
	return cmd
}

func newOrderModifyCmd(app *App) *cobra.Command {
	var (
		price   float64
		trigger float64
		qty     int
	)

	cmd := &cobra.Command{
		Use:   "modify LOCAL_ID",
		Short: "Amend an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Gateway.ModifyOrder(cmd.Context(), args[0], price, trigger, qty); err != nil {
				return err
			}
			output.Success("Modification submitted for %s", args[0])
			return nil
		},
	}

	cmd.Flags().Float64VarP(&price, "price", "p", 0, "new limit price")
	cmd.Flags().Float64Var(&trigger, "trigger", 0, "new trigger price")
	cmd.Flags().IntVarP(&qty, "quantity", "q", 0, "new quantity (0 keeps current)")
	return cmd
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel LOCAL_ID",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Gateway.CancelOrder(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.Success("Cancellation submitted for %s", args[0])
			return nil
		},
	}
}

func newOrderListCmd(app *App) *cobra.Command {
	var reconcile bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show tracked orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if reconcile {
				if err := app.Gateway.Reconcile(cmd.Context()); err != nil {
					output.Warning("Reconciliation failed: %v", err)
				}
			}

			orders := app.Gateway.Orders()
			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Info("No orders")
				return nil
			}

			table := NewTable(output, "LOCAL ID", "SYMBOL", "SIDE", "TYPE", "QTY", "FILLED", "PRICE", "STATUS", "REASON")
			for _, o := range orders {
				sym := "-"
				if o.Instrument != nil {
					sym = o.Instrument.TradingSymbol
				}
				table.AddRow(
					shortID(o.LocalID),
					sym,
					string(o.Side),
					string(o.Type),
					utils.FormatQuantity(int64(o.Quantity)),
					utils.FormatQuantity(int64(o.FilledQty)),
					priceLabel(o.Type, o.Price),
					string(o.Status),
					o.Reason,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "sync with the broker order book first")
	return cmd
}

func newPositionsCmd(app *App) *cobra.Command {
	var closeAll bool

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show positions with live P&L",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if closeAll {
				if err := app.Gateway.CloseAll(ctx); err != nil {
					return err
				}
				output.Success("Close-all orders submitted")
			}

			views, err := app.Gateway.Positions(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(views)
			}
			if len(views) == 0 {
				output.Info("No positions")
				return nil
			}

			var total float64
			table := NewTable(output, "SYMBOL", "NET QTY", "AVG PRICE", "LTP", "P&L", "P&L %")
			for _, v := range views {
				sym := "-"
				if v.Position.Instrument != nil {
					sym = v.Position.Instrument.TradingSymbol
				}
				ltp := "-"
				if v.HasLTP {
					ltp = fmt.Sprintf("%.2f", v.LTP)
				}
				pct := "-"
				if basis := v.Position.AvgPrice * float64(abs(v.Position.NetQty)); basis > 0 {
					pct = utils.FormatPercent(v.PnL / basis * 100)
				}
				table.AddRow(
					sym,
					utils.FormatQuantity(int64(v.Position.NetQty)),
					fmt.Sprintf("%.2f", v.Position.AvgPrice),
					ltp,
					output.FormatPnL(v.PnL),
					pct,
				)
				total += v.PnL
			}
			table.Render()
			output.Printf("\nTotal P&L: %s\n", output.FormatPnL(total))
			return nil
		},
	}

	cmd.Flags().BoolVar(&closeAll, "close-all", false, "flatten every open position at market")
	return cmd
}

func newLimitsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show account funds and margins",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			limits, err := app.Gateway.Limits(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(limits)
			}

			keys := make([]string, 0, len(limits))
			for k := range limits {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			table := NewTable(output, "FIELD", "VALUE")
			for _, k := range keys {
				table.AddRow(k, limits[k])
			}
			table.Render()
			return nil
		},
	}
}

func priceLabel(otype models.OrderType, price float64) string {
	if otype == models.OrderTypeMarket || otype == models.OrderTypeStopLossM {
		return "MKT"
	}
	return fmt.Sprintf("%.2f", price)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
