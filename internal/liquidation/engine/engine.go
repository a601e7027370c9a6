package engine

import (
	"math"
	"sort"
	"sync"
	"time"

	"liqzones/internal/domain/liquidation"
	"liqzones/internal/domain/market_data"
	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/banding"
	"liqzones/internal/liquidation/cluster"
	"liqzones/internal/liquidation/inference"
	"liqzones/internal/liquidation/scoring"
	"liqzones/internal/liquidation/streaming"
	"liqzones/internal/metrics"
	"liqzones/internal/ml/regime"
	"liqzones/internal/ml/zonepredictor"
	"liqzones/pkg/logger"
)

const (
	confirmedBoost = 10.0
	oiHistory      = 2
)

// Engine infers liquidation zones for one coin from its trade, funding, open
// interest, candle and confirmed liquidation state.
//
// Ingestion replaces state slices instead of mutating them, so a computation
// works on a consistent snapshot taken under a read lock.
type Engine struct {
	cfg   Config
	clock func() time.Time

	mu           sync.RWMutex
	trades       []market_data.Trade
	seen         map[market_data.Trade]struct{}
	funding      map[string]market_data.FundingSnapshot
	openInterest map[string][]float64
	liquidations []liquidation.Liquidation
	candles      []market_data.Candle
	events       []zone.Event

	history   []zone.HistoryPoint
	lastZones []zone.Zone
	touches   map[string]int
	records   []zone.LifecycleRecord

	differ    *streaming.Differ
	predictor *zonepredictor.Predictor
	outcomes  zone.OutcomeRepository

	log *logger.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the wall clock, used by tests
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithOutcomeRepository persists recorded zone outcomes
func WithOutcomeRepository(repo zone.OutcomeRepository) Option {
	return func(e *Engine) { e.outcomes = repo }
}

// WithPredictor enables ML predictions with the given predictor
func WithPredictor(p *zonepredictor.Predictor) Option {
	return func(e *Engine) { e.predictor = p }
}

// New creates an engine for cfg.Coin
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:          cfg,
		clock:        func() time.Time { return time.Now().UTC() },
		seen:         make(map[market_data.Trade]struct{}),
		funding:      make(map[string]market_data.FundingSnapshot),
		openInterest: make(map[string][]float64),
		touches:      make(map[string]int),
		differ:       streaming.NewDiffer(cfg.Coin),
		log:          logger.Component("zone_engine").With("coin", cfg.Coin),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Coin returns the coin this engine serves
func (e *Engine) Coin() string { return e.cfg.Coin }

// Config returns the engine configuration
func (e *Engine) Config() Config { return e.cfg }

// IngestTrades adds trades, drops exact duplicates and trades older than the
// retention cutoff, and re-runs inference over the whole retained table.
// It returns how many new trades were accepted.
func (e *Engine) IngestTrades(trades []market_data.Trade) int {
	if len(trades) == 0 {
		return 0
	}
	now := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	merged := make([]market_data.Trade, len(e.trades), len(e.trades)+len(trades))
	copy(merged, e.trades)
	accepted := 0
	for _, t := range trades {
		if !t.Valid() {
			continue
		}
		t.Timestamp = t.Timestamp.UTC()
		if _, dup := e.seen[t]; dup {
			continue
		}
		e.seen[t] = struct{}{}
		merged = append(merged, t)
		accepted++
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })

	if e.cfg.Cutoff > 0 {
		cutoff := now.Add(-e.cfg.Cutoff)
		start := sort.Search(len(merged), func(i int) bool { return !merged[i].Timestamp.Before(cutoff) })
		if start > 0 {
			for _, t := range merged[:start] {
				delete(e.seen, t)
			}
			merged = merged[start:]
		}
	}

	e.trades = merged
	e.inferLocked(now)

	metrics.TradesIngested.WithLabelValues(e.cfg.Coin).Add(float64(accepted))
	return accepted
}

// IngestFunding stores the latest snapshot per symbol and keeps the two most
// recent open interest readings for the OI collapse pattern.
func (e *Engine) IngestFunding(snapshots []market_data.FundingSnapshot) {
	if len(snapshots) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sorted := make([]market_data.FundingSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	for _, s := range sorted {
		prev, ok := e.funding[s.Symbol]
		if ok && !s.Timestamp.After(prev.Timestamp) {
			continue
		}
		e.funding[s.Symbol] = s
		if s.OpenInterest > 0 {
			oi := append(e.openInterest[s.Symbol], s.OpenInterest)
			if len(oi) > oiHistory {
				oi = oi[len(oi)-oiHistory:]
			}
			e.openInterest[s.Symbol] = oi
		}
	}
	e.inferLocked(e.clock())
}

// IngestLiquidations stores confirmed liquidations for this coin, used to boost
// zones whose band contains them. Liquidations follow the trade retention cutoff.
func (e *Engine) IngestLiquidations(liqs []liquidation.Liquidation) {
	if len(liqs) == 0 {
		return
	}
	now := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	keep := func(l liquidation.Liquidation) bool {
		if e.cfg.Cutoff > 0 && l.Timestamp.Before(now.Add(-e.cfg.Cutoff)) {
			return false
		}
		return l.Price > 0 && (l.Symbol == "" || l.Symbol == e.cfg.Coin)
	}

	merged := make([]liquidation.Liquidation, 0, len(e.liquidations)+len(liqs))
	for _, l := range e.liquidations {
		if keep(l) {
			merged = append(merged, l)
		}
	}
	for _, l := range liqs {
		if keep(l) {
			merged = append(merged, l)
		}
	}
	e.liquidations = merged
}

// UpdateCandles replaces the candle series used for ATR banding
func (e *Engine) UpdateCandles(candles []market_data.Candle) {
	cp := make([]market_data.Candle, len(candles))
	copy(cp, candles)

	e.mu.Lock()
	e.candles = cp
	e.mu.Unlock()
}

// inferLocked recomputes inferred events. Callers hold the write lock.
func (e *Engine) inferLocked(now time.Time) {
	if len(e.trades) == 0 {
		e.events = nil
		return
	}

	sig := inference.Signals{Now: now, OpenInterest: e.openInterest[e.cfg.Coin]}
	if f, ok := e.funding[e.cfg.Coin]; ok {
		rate := f.FundingRate
		sig.FundingRate = &rate
	}

	events, stats := inference.InferWithStats(e.cfg.Coin, e.trades, sig, inference.Config{LiqSizeThreshold: e.cfg.LiqSizeThreshold})
	e.events = events
	for pattern, n := range stats {
		if n > 0 {
			metrics.InferredEvents.WithLabelValues(e.cfg.Coin, string(pattern)).Add(float64(n))
		}
	}
}

// snapshot is the immutable input of one computation
type snapshot struct {
	events       []zone.Event
	candles      []market_data.Candle
	liquidations []liquidation.Liquidation
}

func (e *Engine) snapshot() snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshot{events: e.events, candles: e.candles, liquidations: e.liquidations}
}

// Events returns the currently inferred liquidation events
func (e *Engine) Events() []zone.Event {
	s := e.snapshot()
	out := make([]zone.Event, len(s.events))
	copy(out, s.events)
	return out
}

// TradeCount returns the number of retained trades
func (e *Engine) TradeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.trades)
}

// LastPrice returns the most recent trade price
func (e *Engine) LastPrice() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.trades) == 0 {
		return 0, false
	}
	return e.trades[len(e.trades)-1].Price, true
}

// FundingRate returns the latest funding rate for the engine coin, 0 when unknown
func (e *Engine) FundingRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.funding[e.cfg.Coin].FundingRate
}

// ComputeZones clusters, scores and bands the inferred events inside the
// lookback window. Zones are sorted by strength. A non-empty result is added
// to the band width history and kept as the last computed zones.
func (e *Engine) ComputeZones(opts ComputeOptions) ([]zone.Zone, error) {
	zones, err := e.compute(e.snapshot(), e.cfg.resolve(opts), e.clock(), "")
	if err != nil {
		return nil, err
	}
	e.remember(zones)
	return zones, nil
}

// PreviewZones runs the same pipeline as ComputeZones without recording the
// result, so touches, outcomes and the width history are left untouched.
func (e *Engine) PreviewZones(opts ComputeOptions) ([]zone.Zone, error) {
	return e.compute(e.snapshot(), e.cfg.resolve(opts), e.clock(), "")
}

// compute is the pure pipeline over a snapshot
func (e *Engine) compute(s snapshot, opts ComputeOptions, now time.Time, timeframe string) ([]zone.Zone, error) {
	threshold, filter, err := scoring.ParseMinQuality(opts.MinQuality)
	if err != nil {
		return nil, err
	}
	if len(s.events) == 0 {
		return []zone.Zone{}, nil
	}

	start := time.Now()
	events := cluster.Window(s.events, now, time.Duration(opts.WindowMinutes)*time.Minute)
	path := "sequential"
	if e.cfg.Strategy.UseAccelerated(len(events)) {
		path = "accelerated"
	}

	raws := cluster.Run(events, opts.PctMerge, e.cfg.Strategy)
	zones := scoring.Score(e.cfg.Coin, raws, now)
	sort.SliceStable(zones, func(i, j int) bool { return zones[i].Strength > zones[j].Strength })

	atr := 0.0
	if !opts.SkipATR {
		atr = banding.LastATR(s.candles, e.cfg.ATRPeriod)
	}
	banding.Apply(zones, opts.PctMerge, atr, e.cfg.ZoneVolMult)

	if e.cfg.BoostConfirmed && len(s.liquidations) > 0 {
		boostConfirmed(zones, s.liquidations)
	}

	if filter {
		zones = scoring.FilterMinQuality(zones, threshold)
	}
	if timeframe != "" {
		for i := range zones {
			zones[i].Timeframe = timeframe
		}
	}

	metrics.RecordCompute(e.cfg.Coin, timeframeLabel(timeframe), path, len(zones), time.Since(start))
	return zones, nil
}

func timeframeLabel(tf string) string {
	if tf == "" {
		return "default"
	}
	return tf
}

// boostConfirmed credits zones whose band contains confirmed liquidations
func boostConfirmed(zones []zone.Zone, liqs []liquidation.Liquidation) {
	for i := range zones {
		z := &zones[i]
		for _, l := range liqs {
			if z.Contains(l.Price) {
				z.ConfirmedCount++
				z.ConfirmedUSD += l.Value()
			}
		}
		if z.ConfirmedCount > 0 {
			z.QualityScore = scoring.Clip(z.QualityScore + confirmedBoost)
			z.QualityLabel = scoring.Label(z.QualityScore)
		}
	}
}

// remember records band width history and the last zones after a computation
func (e *Engine) remember(zones []zone.Zone) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(zones) > 0 {
		sum := 0.0
		for _, z := range zones {
			sum += z.Band
		}
		e.history = append(e.history, zone.HistoryPoint{Timestamp: e.clock(), AvgBandWidth: sum / float64(len(zones))})
		if len(e.history) > MaxHistory {
			e.history = append([]zone.HistoryPoint(nil), e.history[len(e.history)-MaxHistory:]...)
		}
	}
	e.lastZones = zones
}

// LastZones returns the zones of the most recent computation
func (e *Engine) LastZones() []zone.Zone {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]zone.Zone, len(e.lastZones))
	copy(out, e.lastZones)
	return out
}

// ZoneHistory returns the recorded average band widths, oldest first
func (e *Engine) ZoneHistory() []zone.HistoryPoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]zone.HistoryPoint, len(e.history))
	copy(out, e.history)
	return out
}

// WidthRegime classifies the band width history as expanding, contracting or stable
func (e *Engine) WidthRegime() regime.Classification {
	return regime.Classify(e.ZoneHistory())
}

// NearestZone returns the zone whose mean is relatively closest to price
func NearestZone(price float64, zones []zone.Zone) (zone.Zone, bool) {
	best, bestDist := -1, math.Inf(1)
	for i, z := range zones {
		if z.PriceMean == 0 {
			continue
		}
		d := math.Abs(z.PriceMean-price) / z.PriceMean
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return zone.Zone{}, false
	}
	return zones[best], true
}

// NearestZone searches the last computed zones
func (e *Engine) NearestZone(price float64) (zone.Zone, bool) {
	return NearestZone(price, e.LastZones())
}
