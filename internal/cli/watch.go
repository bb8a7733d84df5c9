package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// newWatchCmd creates the watch command group.
func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the live watchlist",
	}

	cmd.AddCommand(
		newWatchAddCmd(app),
		newWatchRemoveCmd(app),
		newWatchListCmd(app),
		newWatchLiveCmd(app),
	)
	return cmd
}

func newWatchAddCmd(app *App) *cobra.Command {
	var segment string

	cmd := &cobra.Command{
		Use:   "add SYMBOL",
		Short: "Add an instrument to the watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			seg := models.ExchangeSegment(segment)
			if !seg.Valid() {
				return fmt.Errorf("unknown segment %q (nse_cm, bse_cm, nse_fo, bse_fo, mcx_fo)", segment)
			}

			if err := app.ensureMaster(ctx, seg); err != nil {
				return err
			}

			inst, err := app.Resolver.LookupSymbol(seg, args[0])
			if err != nil {
				return err
			}

			if err := app.Watchlist.Add(ctx, *inst); err != nil {
				return err
			}
			output.Success("Watching %s (%s)", inst.TradingSymbol, seg)
			return nil
		},
	}

	cmd.Flags().StringVar(&segment, "segment", string(models.NSECash), "exchange segment")
	return cmd
}

func newWatchRemoveCmd(app *App) *cobra.Command {
	var segment string

	cmd := &cobra.Command{
		Use:   "remove SYMBOL",
		Short: "Remove an instrument from the watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			seg := models.ExchangeSegment(segment)
			for _, entry := range app.Watchlist.Entries() {
				if entry.Instrument.TradingSymbol == args[0] && entry.Instrument.ID.Segment == seg {
					if err := app.Watchlist.Remove(entry.Instrument.ID); err != nil {
						return err
					}
					output.Success("Removed %s", args[0])
					return nil
				}
			}
			return fmt.Errorf("%s not on the watchlist", args[0])
		},
	}

	cmd.Flags().StringVar(&segment, "segment", string(models.NSECash), "exchange segment")
	return cmd
}

func newWatchListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the watchlist with latest quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			entries := app.Watchlist.Entries()

			if output.IsJSON() {
				return output.JSON(entries)
			}

			if len(entries) == 0 {
				output.Info("Watchlist is empty")
				return nil
			}

			table := NewTable(output, "SYMBOL", "SEGMENT", "LTP", "BID", "ASK", "VOLUME", "UPDATED")
			for _, entry := range entries {
				ltp, bid, ask, vol, upd := "-", "-", "-", "-", "-"
				if entry.HasQuote {
					ltp = fmt.Sprintf("%.2f", entry.Quote.LTP)
					bid = fmt.Sprintf("%.2f", entry.Quote.Bid)
					ask = fmt.Sprintf("%.2f", entry.Quote.Ask)
					vol = fmt.Sprintf("%d", entry.Quote.Volume)
					upd = entry.Quote.Timestamp.Format("15:04:05")
				}
				table.AddRow(entry.Instrument.TradingSymbol, string(entry.Instrument.ID.Segment), ltp, bid, ask, vol, upd)
			}
			table.Render()
			return nil
		},
	}
}

func newWatchLiveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Stream quote updates for the watchlist until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if len(app.Watchlist.Entries()) == 0 {
				output.Info("Watchlist is empty")
				return nil
			}

			app.Watchlist.OnQuote(func(id models.InstrumentID, quote models.Quote) {
				sym := id.String()
				if entry, ok := app.Watchlist.Entry(id); ok {
					sym = entry.Instrument.TradingSymbol
				}
				output.Printf("%s  %-20s %10.2f  bid %.2f  ask %.2f  vol %d\n",
					quote.Timestamp.Format("15:04:05"), sym, quote.LTP, quote.Bid, quote.Ask, quote.Volume)
			})

			output.Info("Streaming quotes, Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}
}

// ensureMaster loads the contract master for a segment, preferring the
// persisted cache and falling back to a fresh download.
func (a *App) ensureMaster(ctx context.Context, seg models.ExchangeSegment) error {
	if a.Resolver.Loaded(seg) {
		return nil
	}

	if a.Store != nil {
		if cached, err := a.Store.LoadInstruments(seg); err == nil && len(cached) > 0 {
			a.Resolver.Install(seg, cached)
			return nil
		}
	}

	start := time.Now()
	if err := a.Resolver.LoadSegment(ctx, seg); err != nil {
		return err
	}
	a.Logger.Debug().Str("segment", string(seg)).Dur("took", time.Since(start)).Msg("contract master downloaded")

	if a.Store != nil {
		if err := a.Store.SaveInstruments(seg, a.Resolver.Instruments(seg)); err != nil {
			a.Logger.Warn().Err(err).Msg("caching contract master failed")
		}
	}
	return nil
}
