package scrip

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

const cashMasterCSV = `pSymbol,pTrdSymbol,pSymbolName,pExchSeg,pInstType,pOptionType,dStrikePrice,lExpiryDate,lLotSize,dTickSize
11536,TCS-EQ,TATA CONSULTANCY,nse_cm,EQ,,0,0,1,0.05
2885,RELIANCE-EQ,RELIANCE INDUSTRIES,nse_cm,EQ,,0,0,1,0.05
14366,IDEA-EQ,VODAFONE IDEA,nse_cm,EQ,,0,0,1,0.01
1594,INFY-EQ,INFOSYS,nse_cm,EQ,,0,0,1,0.05
`

const foMasterCSV = `pSymbol,pTrdSymbol,pSymbolName,pExchSeg,pInstType,pOptionType,dStrikePrice,lExpiryDate,lLotSize,dTickSize
53179,NIFTY26MAR24500CE,NIFTY,nse_fo,OPTIDX,CE,2450000,1774422000,75,0.05
53180,NIFTY26MAR24500PE,NIFTY,nse_fo,OPTIDX,PE,2450000,1774422000,75,0.05
53181,NIFTY26MAR24600CE,NIFTY,nse_fo,OPTIDX,CE,2460000,1774422000,75,0.05
41220,NIFTY26MARFUT,NIFTY,nse_fo,FUTIDX,,0,1774422000,75,0.05
`

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r := NewResolver(nil, zerolog.Nop())

	cash, err := parseMaster(strings.NewReader(cashMasterCSV), models.NSECash)
	require.NoError(t, err)
	r.Install(models.NSECash, cash)

	fo, err := parseMaster(strings.NewReader(foMasterCSV), models.NSEFO)
	require.NoError(t, err)
	r.Install(models.NSEFO, fo)

	return r
}

func TestParseMasterCash(t *testing.T) {
	instruments, err := parseMaster(strings.NewReader(cashMasterCSV), models.NSECash)
	require.NoError(t, err)
	require.Len(t, instruments, 4)

	tcs := instruments[0]
	assert.Equal(t, "11536", tcs.ID.Token)
	assert.Equal(t, models.NSECash, tcs.ID.Segment)
	assert.Equal(t, "TCS-EQ", tcs.TradingSymbol)
	assert.Equal(t, 1, tcs.LotSize)
	assert.Nil(t, tcs.Option)
}

func TestParseMasterNormalizesStrike(t *testing.T) {
	instruments, err := parseMaster(strings.NewReader(foMasterCSV), models.NSEFO)
	require.NoError(t, err)
	require.Len(t, instruments, 4)

	call := instruments[0]
	require.NotNil(t, call.Option)
	assert.Equal(t, 24500.0, call.Option.Strike)
	assert.Equal(t, models.OptionCall, call.Option.Type)
	assert.Equal(t, 75, call.LotSize)
	assert.False(t, call.Option.Expiry.IsZero())

	fut := instruments[3]
	require.NotNil(t, fut.Option)
	assert.Equal(t, models.OptionType(""), fut.Option.Type)
	assert.Zero(t, fut.Option.Strike)
}

func TestSearchRanksPrefixFirst(t *testing.T) {
	r := newTestResolver(t)

	// "IN" prefixes INFY-EQ/INFOSYS but only appears inside RELIANCE INDUSTRIES
	// and VODAFONE IDEA's symbol
	results := r.Search("IN", SearchFilter{Segment: models.NSECash})
	require.NotEmpty(t, results)
	assert.Equal(t, "INFY-EQ", results[0].TradingSymbol)
}

func TestSearchCapsResults(t *testing.T) {
	r := NewResolver(nil, zerolog.Nop())

	instruments := make([]models.Instrument, 120)
	for i := range instruments {
		instruments[i] = models.Instrument{
			ID:            models.InstrumentID{Segment: models.NSECash, Token: string(rune('A' + i%26))},
			TradingSymbol: "SYM" + strings.Repeat("X", i%5),
			LotSize:       1,
		}
	}
	r.Install(models.NSECash, instruments)

	results := r.Search("SYM", SearchFilter{})
	assert.Len(t, results, searchLimit)
}

func TestSearchOptionFilters(t *testing.T) {
	r := newTestResolver(t)

	strike := 24500.0
	results := r.Search("NIFTY", SearchFilter{
		Segment:    models.NSEFO,
		Strike:     &strike,
		OptionType: models.OptionPut,
	})
	require.Len(t, results, 1)
	assert.Equal(t, "NIFTY26MAR24500PE", results[0].TradingSymbol)

	expiry := time.Unix(1774422000, 0).UTC()
	results = r.Search("NIFTY", SearchFilter{Segment: models.NSEFO, Expiry: &expiry, OptionType: models.OptionCall})
	assert.Len(t, results, 2)
}

func TestFetchLotSize(t *testing.T) {
	r := newTestResolver(t)

	lot, err := r.FetchLotSize(models.InstrumentID{Segment: models.NSEFO, Token: "53179"})
	require.NoError(t, err)
	assert.Equal(t, 75, lot)

	_, err = r.FetchLotSize(models.InstrumentID{Segment: models.NSEFO, Token: "99999"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrContractNotFound))
}

func TestLookupSymbol(t *testing.T) {
	r := newTestResolver(t)

	inst, err := r.LookupSymbol(models.NSECash, "tcs-eq")
	require.NoError(t, err)
	assert.Equal(t, "11536", inst.ID.Token)

	_, err = r.LookupSymbol(models.NSECash, "NOPE")
	assert.True(t, apperrors.Is(err, apperrors.ErrContractNotFound))
}
