package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/scrip"
)

// newScripCmd creates the scrip command group.
func newScripCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrip",
		Short: "Contract master lookups",
	}

	cmd.AddCommand(
		newScripLoadCmd(app),
		newScripSearchCmd(app),
		newScripLotCmd(app),
	)
	return cmd
}

func newScripLoadCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "load SEGMENT",
		Short: "Download and cache the contract master for a segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			seg := models.ExchangeSegment(args[0])
			if !seg.Valid() {
				return fmt.Errorf("unknown segment %q", args[0])
			}

			if err := app.Resolver.LoadSegment(ctx, seg); err != nil {
				return err
			}
			instruments := app.Resolver.Instruments(seg)
			if app.Store != nil {
				if err := app.Store.SaveInstruments(seg, instruments); err != nil {
					output.Warning("Caching contract master failed: %v", err)
				}
			}
			output.Success("Loaded %d instruments for %s", len(instruments), seg)
			return nil
		},
	}
}

func newScripSearchCmd(app *App) *cobra.Command {
	var (
		segment    string
		expiry     string
		strike     float64
		optionType string
	)

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search instruments by symbol or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			filter := scrip.SearchFilter{}
			if segment != "" {
				seg := models.ExchangeSegment(segment)
				if !seg.Valid() {
					return fmt.Errorf("unknown segment %q", segment)
				}
				if err := app.ensureMaster(ctx, seg); err != nil {
					return err
				}
				filter.Segment = seg
			}
			if expiry != "" {
				day, err := time.Parse("2006-01-02", expiry)
				if err != nil {
					return fmt.Errorf("expiry must be YYYY-MM-DD: %w", err)
				}
				filter.Expiry = &day
			}
			if cmd.Flags().Changed("strike") {
				filter.Strike = &strike
			}
			if optionType != "" {
				filter.OptionType = models.OptionType(strings.ToUpper(optionType))
			}

			results := app.Resolver.Search(args[0], filter)
			if output.IsJSON() {
				return output.JSON(results)
			}
			if len(results) == 0 {
				output.Info("No matches")
				return nil
			}

			table := NewTable(output, "SYMBOL", "NAME", "SEGMENT", "LOT", "EXPIRY", "STRIKE", "TYPE")
			for _, inst := range results {
				exp, strk, typ := "-", "-", "-"
				if inst.Option != nil {
					exp = inst.Option.Expiry.Format("2006-01-02")
					if inst.Option.Strike > 0 {
						strk = fmt.Sprintf("%.2f", inst.Option.Strike)
					}
					if inst.Option.Type != "" {
						typ = string(inst.Option.Type)
					}
				}
				table.AddRow(
					inst.TradingSymbol,
					inst.Name,
					string(inst.ID.Segment),
					fmt.Sprintf("%d", inst.LotSize),
					exp, strk, typ,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&segment, "segment", "", "limit to one segment")
	cmd.Flags().StringVar(&expiry, "expiry", "", "derivatives expiry date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&strike, "strike", 0, "option strike price")
	cmd.Flags().StringVar(&optionType, "option-type", "", "CE or PE")
	return cmd
}

func newScripLotCmd(app *App) *cobra.Command {
	var segment string

	cmd := &cobra.Command{
		Use:   "lot SYMBOL",
		Short: "Show the lot size for an instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			seg := models.ExchangeSegment(segment)
			if !seg.Valid() {
				return fmt.Errorf("unknown segment %q", segment)
			}
			if err := app.ensureMaster(ctx, seg); err != nil {
				return err
			}

			inst, err := app.Resolver.LookupSymbol(seg, args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":   inst.TradingSymbol,
					"segment":  inst.ID.Segment,
					"lot_size": inst.LotSize,
				})
			}
			output.Printf("%s lot size: %d\n", inst.TradingSymbol, inst.LotSize)
			return nil
		},
	}

	cmd.Flags().StringVar(&segment, "segment", string(models.NSEFO), "exchange segment")
	return cmd
}
