package orders

import (
	"context"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// PositionView is a derived position row with P&L at the latest price.
// P&L is always recomputed on read, never cached.
type PositionView struct {
	Position models.Position
	LTP      float64
	HasLTP   bool
	PnL      float64
}

// Positions fetches raw positions from the broker and derives net
// quantity, volume-weighted average price and P&L.
func (g *Gateway) Positions(ctx context.Context) ([]PositionView, error) {
	reports, err := g.broker.GetPositions(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "fetching positions")
	}

	out := make([]PositionView, 0, len(reports))
	for _, report := range reports {
		pos := derivePosition(report)

		view := PositionView{Position: pos}
		if g.quotes != nil {
			if q, ok := g.quotes(pos.Instrument.ID); ok {
				view.LTP = q.LTP
				view.HasLTP = true
			}
		}
		view.PnL = pos.PnL(view.LTP)
		out = append(out, view)
	}
	return out, nil
}

// derivePosition computes the net view of a raw position row.
func derivePosition(report broker.PositionReport) models.Position {
	netQty := report.NetQty()
	buyQty := report.FlatBuyQty + report.CFBuyQty
	sellQty := report.FlatSellQty + report.CFSellQty

	var avg float64
	switch {
	case netQty > 0 && buyQty > 0:
		avg = report.TotalBuyValue() / float64(buyQty)
	case netQty < 0 && sellQty > 0:
		avg = report.TotalSellValue() / float64(sellQty)
	}

	return models.Position{
		Instrument: &models.Instrument{
			ID:            models.InstrumentID{Segment: report.Segment, Token: report.Token},
			TradingSymbol: report.TradingSymbol,
			LotSize:       report.LotSize,
		},
		NetQty:    netQty,
		AvgPrice:  avg,
		BuyValue:  report.TotalBuyValue(),
		SellValue: report.TotalSellValue(),
	}
}

// ExitPosition flattens a single position with a market order.
func (g *Gateway) ExitPosition(ctx context.Context, view PositionView, product models.ProductType) (*models.Order, error) {
	if view.Position.NetQty == 0 {
		return nil, apperrors.Wrap(apperrors.ErrInvalidOrderSpec, "position is already flat")
	}

	side := models.OrderSideSell
	qty := view.Position.NetQty
	if qty < 0 {
		side = models.OrderSideBuy
		qty = -qty
	}

	return g.PlaceOrder(ctx, models.OrderSpec{
		Instrument: view.Position.Instrument,
		Side:       side,
		Type:       models.OrderTypeMarket,
		Product:    product,
		Quantity:   qty,
	})
}

// CloseAll flattens every open position. Failures are collected per
// position; the first error is returned after all exits were attempted.
func (g *Gateway) CloseAll(ctx context.Context) error {
	views, err := g.Positions(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, view := range views {
		if view.Position.NetQty == 0 {
			continue
		}
		product := models.ProductNRML
		if view.Position.Instrument != nil && !view.Position.Instrument.IsFO() {
			product = models.ProductCNC
		}
		if _, err := g.ExitPosition(ctx, view, product); err != nil {
			g.logger.Error().Err(err).
				Str("symbol", view.Position.Instrument.TradingSymbol).
				Msg("close position failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Limits returns fund and margin figures from the broker.
func (g *Gateway) Limits(ctx context.Context) (map[string]string, error) {
	limits, err := g.broker.GetLimits(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "fetching limits")
	}
	return limits, nil
}
