// Package models provides domain models for the trading core.
package models

import (
	"fmt"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	MCX Exchange = "MCX"
)

// Segment represents an instrument category within an exchange.
type Segment string

const (
	SegmentCM Segment = "CM" // Cash market
	SegmentFO Segment = "FO" // Futures & options
)

// ExchangeSegment is the wire key the brokerage uses for an exchange+segment
// pair, e.g. "nse_cm" or "bse_fo".
type ExchangeSegment string

const (
	NSECash ExchangeSegment = "nse_cm"
	BSECash ExchangeSegment = "bse_cm"
	NSEFO   ExchangeSegment = "nse_fo"
	BSEFO   ExchangeSegment = "bse_fo"
	MCXFO   ExchangeSegment = "mcx_fo"
)

var exchangeSegments = map[ExchangeSegment]struct {
	Exchange Exchange
	Segment  Segment
}{
	NSECash: {NSE, SegmentCM},
	BSECash: {BSE, SegmentCM},
	NSEFO:   {NSE, SegmentFO},
	BSEFO:   {BSE, SegmentFO},
	MCXFO:   {MCX, SegmentFO},
}

// Valid reports whether the exchange segment is one the brokerage knows.
func (es ExchangeSegment) Valid() bool {
	_, ok := exchangeSegments[es]
	return ok
}

// Exchange returns the exchange part of the segment key.
func (es ExchangeSegment) Exchange() Exchange {
	return exchangeSegments[es].Exchange
}

// Segment returns the market segment part of the segment key.
func (es ExchangeSegment) Segment() Segment {
	return exchangeSegments[es].Segment
}

// IsFO reports whether the segment carries derivative contracts.
func (es ExchangeSegment) IsFO() bool {
	return exchangeSegments[es].Segment == SegmentFO
}

// MakeExchangeSegment builds the wire key from an exchange and segment.
func MakeExchangeSegment(ex Exchange, seg Segment) ExchangeSegment {
	for es, info := range exchangeSegments {
		if info.Exchange == ex && info.Segment == seg {
			return es
		}
	}
	return ""
}

// OptionType represents the option contract type.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// OptionMeta carries the derivative-specific attributes of an instrument.
type OptionMeta struct {
	Expiry time.Time
	Strike float64
	Type   OptionType
}

// InstrumentID identifies an instrument uniquely across the system:
// exchange segment plus the brokerage token. Every other entity references
// instruments by this identity, never by a copied struct.
type InstrumentID struct {
	Segment ExchangeSegment
	Token   string
}

func (id InstrumentID) String() string {
	return fmt.Sprintf("%s:%s", id.Segment, id.Token)
}

// Instrument represents a tradeable contract resolved from the scrip master.
// Identity is immutable once resolved; attribute corrections (lot size,
// expiry) propagate because every holder shares the same pointer.
type Instrument struct {
	ID            InstrumentID
	TradingSymbol string
	Name          string
	Option        *OptionMeta // nil for cash instruments
	LotSize       int         // 0 until resolved for F&O
	TickSize      float64
}

// IsFO reports whether the instrument is a derivative contract.
func (i *Instrument) IsFO() bool {
	return i.ID.Segment.IsFO()
}

// Quote holds the last-known market state for an instrument.
type Quote struct {
	LTP       float64
	Bid       float64
	Ask       float64
	Volume    int64
	Timestamp time.Time
}

// Tick is a single push-feed market data event.
type Tick struct {
	Instrument InstrumentID
	Quote      Quote
}
