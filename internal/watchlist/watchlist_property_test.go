package watchlist

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// Property: after applying any sequence of ticks in any order, the cached
// quote is the one with the greatest timestamp in the sequence. Ties keep
// the first arrival, so a displayed price never regresses under reordered
// or duplicated deliveries.
func TestProperty_QuoteMergeKeepsLatestTimestamp(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	type tickSpec struct {
		OffsetSec int
		LTP       float64
	}

	tickGen := gopter.CombineGens(
		gen.IntRange(0, 3600),
		gen.Float64Range(1, 10000),
	).Map(func(values []interface{}) tickSpec {
		return tickSpec{
			OffsetSec: values[0].(int),
			LTP:       values[1].(float64),
		}
	})

	properties.Property("cached quote carries the max timestamp", prop.ForAll(
		func(specs []tickSpec) bool {
			inst := models.Instrument{
				ID:            models.InstrumentID{Segment: models.NSECash, Token: "2885"},
				TradingSymbol: "RELIANCE-EQ",
				LotSize:       1,
			}
			c := NewCache(nil, nil, nil, zerolog.Nop())
			if err := c.Add(context.Background(), inst); err != nil {
				return false
			}

			var maxTS time.Time
			for _, spec := range specs {
				ts := base.Add(time.Duration(spec.OffsetSec) * time.Second)
				c.ApplyTick(models.Tick{
					Instrument: inst.ID,
					Quote:      models.Quote{LTP: spec.LTP, Timestamp: ts},
				})
				if ts.After(maxTS) {
					maxTS = ts
				}
			}

			q, ok := c.Quote(inst.ID)
			if len(specs) == 0 {
				return !ok
			}
			return ok && q.Timestamp.Equal(maxTS)
		},
		gen.SliceOf(tickGen),
	))

	properties.TestingRun(t)
}
