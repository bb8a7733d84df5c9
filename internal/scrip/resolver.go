package scrip

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/pkg/utils"
)

// searchLimit caps the result count of a symbol search.
const searchLimit = 50

// Resolver maintains per-segment instrument caches loaded from the
// broker contract master and answers symbol lookups.
type Resolver struct {
	broker broker.Broker
	logger zerolog.Logger

	segments map[models.ExchangeSegment][]models.Instrument
	byID     map[models.InstrumentID]*models.Instrument
	loadedAt map[models.ExchangeSegment]time.Time

	mu sync.RWMutex
}

// SearchFilter narrows a symbol search.
type SearchFilter struct {
	Segment    models.ExchangeSegment // zero value means all loaded segments
	Expiry     *time.Time
	Strike     *float64
	OptionType models.OptionType
}

// NewResolver creates an empty resolver.
func NewResolver(b broker.Broker, logger zerolog.Logger) *Resolver {
	return &Resolver{
		broker:   b,
		logger:   logger,
		segments: make(map[models.ExchangeSegment][]models.Instrument),
		byID:     make(map[models.InstrumentID]*models.Instrument),
		loadedAt: make(map[models.ExchangeSegment]time.Time),
	}
}

// LoadSegment downloads and caches the contract master for a segment.
// Reloading replaces the previous cache for that segment.
func (r *Resolver) LoadSegment(ctx context.Context, segment models.ExchangeSegment) error {
	if !segment.Valid() {
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "unknown segment %q", segment)
	}

	// The master is a static file download; transient failures retry.
	body, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (io.ReadCloser, error) {
		return r.broker.ScripMaster(ctx, segment)
	})
	if err != nil {
		return err
	}
	defer body.Close()

	instruments, err := parseMaster(body, segment)
	if err != nil {
		return apperrors.Wrapf(err, "parsing contract master for %s", segment)
	}

	r.Install(segment, instruments)
	r.logger.Info().Str("segment", string(segment)).Int("instruments", len(instruments)).Msg("contract master loaded")
	return nil
}

// Install replaces the cached instruments for a segment. Also used to
// restore a persisted cache without a download.
func (r *Resolver) Install(segment models.ExchangeSegment, instruments []models.Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, old := range r.segments[segment] {
		delete(r.byID, old.ID)
	}
	r.segments[segment] = instruments
	for i := range instruments {
		r.byID[instruments[i].ID] = &instruments[i]
	}
	r.loadedAt[segment] = time.Now()
}

// Instruments returns a copy of the cached instruments for a segment.
func (r *Resolver) Instruments(segment models.ExchangeSegment) []models.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Instrument, len(r.segments[segment]))
	copy(out, r.segments[segment])
	return out
}

// Loaded reports whether a segment's master is cached.
func (r *Resolver) Loaded(segment models.ExchangeSegment) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loadedAt[segment]
	return ok
}

// Lookup returns the instrument for an exact id.
func (r *Resolver) Lookup(id models.InstrumentID) (*models.Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.byID[id]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrContractNotFound, "instrument %s", id)
	}
	cp := *inst
	return &cp, nil
}

// LookupSymbol returns the instrument with an exact trading symbol match
// in a segment.
func (r *Resolver) LookupSymbol(segment models.ExchangeSegment, tradingSymbol string) (*models.Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.segments[segment] {
		if strings.EqualFold(r.segments[segment][i].TradingSymbol, tradingSymbol) {
			cp := r.segments[segment][i]
			return &cp, nil
		}
	}
	return nil, apperrors.Wrapf(apperrors.ErrContractNotFound, "symbol %s in %s", tradingSymbol, segment)
}

// FetchLotSize returns the lot size for an instrument.
func (r *Resolver) FetchLotSize(id models.InstrumentID) (int, error) {
	inst, err := r.Lookup(id)
	if err != nil {
		return 0, err
	}
	return inst.LotSize, nil
}

// Search returns instruments matching the query, prefix matches ranked
// before substring matches, capped at 50 results. Matching is
// case-insensitive against trading symbol and name.
func (r *Resolver) Search(query string, filter SearchFilter) []models.Instrument {
	query = strings.ToUpper(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var pools [][]models.Instrument
	if filter.Segment != "" {
		pools = append(pools, r.segments[filter.Segment])
	} else {
		segs := make([]models.ExchangeSegment, 0, len(r.segments))
		for seg := range r.segments {
			segs = append(segs, seg)
		}
		sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
		for _, seg := range segs {
			pools = append(pools, r.segments[seg])
		}
	}

	var prefix, contains []models.Instrument
	for _, pool := range pools {
		for i := range pool {
			inst := &pool[i]
			if !matchesFilter(inst, filter) {
				continue
			}

			sym := strings.ToUpper(inst.TradingSymbol)
			name := strings.ToUpper(inst.Name)
			switch {
			case strings.HasPrefix(sym, query) || strings.HasPrefix(name, query):
				prefix = append(prefix, *inst)
			case strings.Contains(sym, query) || strings.Contains(name, query):
				contains = append(contains, *inst)
			}
		}
	}

	results := append(prefix, contains...)
	if len(results) > searchLimit {
		results = results[:searchLimit]
	}
	return results
}

func matchesFilter(inst *models.Instrument, f SearchFilter) bool {
	if f.Expiry == nil && f.Strike == nil && f.OptionType == "" {
		return true
	}
	if inst.Option == nil {
		return false
	}
	if f.Expiry != nil && !sameDay(inst.Option.Expiry, *f.Expiry) {
		return false
	}
	if f.Strike != nil && inst.Option.Strike != *f.Strike {
		return false
	}
	if f.OptionType != "" && inst.Option.Type != f.OptionType {
		return false
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
