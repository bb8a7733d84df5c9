// Package orders implements order submission, tracking and reconciliation.
package orders

import (
	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// validateSpec checks an order spec before anything touches the wire.
func validateSpec(spec *models.OrderSpec) error {
	if spec.Instrument == nil {
		return apperrors.NewValidationError("instrument", nil, "instrument is required", apperrors.ErrInvalidOrderSpec)
	}

	switch spec.Side {
	case models.OrderSideBuy, models.OrderSideSell:
	default:
		return apperrors.NewValidationError("side", string(spec.Side), "must be BUY or SELL", apperrors.ErrInvalidOrderSpec)
	}

	switch spec.Type {
	case models.OrderTypeLimit, models.OrderTypeMarket, models.OrderTypeStopLoss, models.OrderTypeStopLossM:
	default:
		return apperrors.NewValidationError("type", string(spec.Type), "unknown order type", apperrors.ErrInvalidOrderSpec)
	}

	switch spec.Product {
	case models.ProductNRML, models.ProductMIS, models.ProductCNC, models.ProductCO, models.ProductBO:
	default:
		return apperrors.NewValidationError("product", string(spec.Product), "unknown product type", apperrors.ErrInvalidOrderSpec)
	}

	// Delivery is cash-only, carry-forward is derivatives-only
	if spec.Instrument.IsFO() {
		if spec.Product == models.ProductCNC {
			return apperrors.NewValidationError("product", string(spec.Product), "CNC is not valid for derivatives", apperrors.ErrInvalidOrderSpec)
		}
	} else if spec.Product == models.ProductNRML {
		return apperrors.NewValidationError("product", string(spec.Product), "NRML is not valid for cash instruments", apperrors.ErrInvalidOrderSpec)
	}

	// Cover and bracket orders carry their own stop leg
	if spec.Product == models.ProductCO || spec.Product == models.ProductBO {
		if spec.Type == models.OrderTypeStopLoss || spec.Type == models.OrderTypeStopLossM {
			return apperrors.NewValidationError("type", string(spec.Type), "stop-loss types are not valid for cover or bracket orders", apperrors.ErrInvalidOrderSpec)
		}
	}

	if spec.Quantity <= 0 {
		return apperrors.NewValidationError("quantity", spec.Quantity, "must be positive", apperrors.ErrInvalidOrderSpec)
	}

	// Limit and stop-loss limit orders need a limit price
	if spec.Type == models.OrderTypeLimit || spec.Type == models.OrderTypeStopLoss {
		if spec.Price <= 0 {
			return apperrors.NewValidationError("price", spec.Price, "required for limit orders", apperrors.ErrInvalidOrderSpec)
		}
	}

	// Stop-loss variants need a trigger
	if spec.Type == models.OrderTypeStopLoss || spec.Type == models.OrderTypeStopLossM {
		if spec.TriggerPrice <= 0 {
			return apperrors.NewValidationError("trigger_price", spec.TriggerPrice, "required for stop-loss orders", apperrors.ErrInvalidOrderSpec)
		}
	}

	if spec.Validity == "" {
		spec.Validity = "DAY"
	}

	// Derivatives trade in lots
	if spec.Instrument.IsFO() {
		lot := spec.Instrument.LotSize
		if lot <= 0 {
			return apperrors.NewValidationError("lot_size", lot, "instrument has no lot size", apperrors.ErrInvalidOrderSpec)
		}
		if spec.Quantity%lot != 0 {
			return apperrors.NewValidationError("quantity", spec.Quantity, "must be a multiple of the lot size", apperrors.ErrInvalidOrderSpec)
		}
	}

	return nil
}
