// Package scrip resolves trading symbols against the broker contract master.
package scrip

import (
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// masterRow is one line of the contract master CSV as published per segment.
type masterRow struct {
	Token       string  `csv:"pSymbol"`
	TradeSymbol string  `csv:"pTrdSymbol"`
	SymbolName  string  `csv:"pSymbolName"`
	ExchSeg     string  `csv:"pExchSeg"`
	InstType    string  `csv:"pInstType"`
	OptionType  string  `csv:"pOptionType"`
	StrikePaise float64 `csv:"dStrikePrice"`
	ExpiryEpoch int64   `csv:"lExpiryDate"`
	LotSize     int     `csv:"lLotSize"`
	TickSize    float64 `csv:"dTickSize"`
}

// parseMaster reads a contract master CSV stream into instruments.
// Strike prices are published in paise times 100 and normalized here.
func parseMaster(r io.Reader, segment models.ExchangeSegment) ([]models.Instrument, error) {
	var rows []*masterRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, err
	}

	out := make([]models.Instrument, 0, len(rows))
	for _, row := range rows {
		if row.Token == "" || row.TradeSymbol == "" {
			continue
		}

		inst := models.Instrument{
			ID: models.InstrumentID{
				Segment: segment,
				Token:   strings.TrimSpace(row.Token),
			},
			TradingSymbol: strings.TrimSpace(row.TradeSymbol),
			Name:          strings.TrimSpace(row.SymbolName),
			LotSize:       row.LotSize,
			TickSize:      row.TickSize,
		}
		if inst.LotSize <= 0 {
			inst.LotSize = 1
		}

		if segment.IsFO() {
			opt := &models.OptionMeta{
				Strike: row.StrikePaise / 100,
			}
			if row.ExpiryEpoch > 0 {
				opt.Expiry = time.Unix(row.ExpiryEpoch, 0).UTC()
			}
			switch strings.ToUpper(strings.TrimSpace(row.OptionType)) {
			case "CE":
				opt.Type = models.OptionCall
			case "PE":
				opt.Type = models.OptionPut
			default:
				// Futures row: no option type, strike carries no meaning
				opt.Strike = 0
			}
			inst.Option = opt
		}

		out = append(out, inst)
	}
	return out, nil
}
