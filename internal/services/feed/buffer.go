package feed

import (
	"sort"
	"sync"

	"liqzones/internal/domain/liquidation"
	"liqzones/internal/domain/market_data"
	"liqzones/pkg/logger"
)

// Defaults for Config
const (
	DefaultMaxPendingTrades = 50_000
	DefaultMaxCandles       = 200
)

// Config bounds what the buffer keeps per coin between drains
type Config struct {
	MaxPendingTrades int // oldest pending trades are dropped past this
	MaxCandles       int // closed candles kept for ATR banding
}

// Batch is everything collected for one coin since the previous drain
type Batch struct {
	Trades       []market_data.Trade
	Funding      []market_data.FundingSnapshot
	Liquidations []liquidation.Liquidation
	// Candles is the full rolling series, nil when no candle closed since the last drain
	Candles []market_data.Candle
}

// Empty reports whether the batch carries nothing for the engine
func (b Batch) Empty() bool {
	return len(b.Trades) == 0 && len(b.Funding) == 0 && len(b.Liquidations) == 0 && b.Candles == nil
}

type coinBuffer struct {
	trades        []market_data.Trade
	funding       []market_data.FundingSnapshot
	liquidations  []liquidation.Liquidation
	candles       []market_data.Candle
	candlesDirty  bool
	droppedTrades int64
}

// Buffer collects normalized market data from every source, keyed by coin,
// until the zone worker drains it into the engine. Safe for concurrent use.
type Buffer struct {
	cfg Config
	log *logger.Logger

	mu    sync.Mutex
	coins map[string]*coinBuffer
}

// NewBuffer creates an empty buffer, filling zero config fields with defaults
func NewBuffer(cfg Config, log *logger.Logger) *Buffer {
	if cfg.MaxPendingTrades <= 0 {
		cfg.MaxPendingTrades = DefaultMaxPendingTrades
	}
	if cfg.MaxCandles <= 0 {
		cfg.MaxCandles = DefaultMaxCandles
	}
	return &Buffer{
		cfg:   cfg,
		log:   log.With("component", "feed_buffer"),
		coins: make(map[string]*coinBuffer),
	}
}

func (b *Buffer) coin(coin string) *coinBuffer {
	cb, ok := b.coins[coin]
	if !ok {
		cb = &coinBuffer{}
		b.coins[coin] = cb
	}
	return cb
}

// AddTrades queues trades. Each trade is filed under its Symbol, which must
// already be a normalized coin tag.
func (b *Buffer) AddTrades(trades ...market_data.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range trades {
		cb := b.coin(t.Symbol)
		cb.trades = append(cb.trades, t)
		if over := len(cb.trades) - b.cfg.MaxPendingTrades; over > 0 {
			cb.trades = cb.trades[over:]
			cb.droppedTrades += int64(over)
		}
	}
}

// AddFunding queues funding snapshots
func (b *Buffer) AddFunding(snapshots ...market_data.FundingSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range snapshots {
		cb := b.coin(s.Symbol)
		cb.funding = append(cb.funding, s)
	}
}

// AddLiquidations queues confirmed liquidations
func (b *Buffer) AddLiquidations(liqs ...liquidation.Liquidation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range liqs {
		cb := b.coin(l.Symbol)
		cb.liquidations = append(cb.liquidations, l)
	}
}

// AddCandle upserts a closed candle into the rolling series of a coin
func (b *Buffer) AddCandle(coin string, c market_data.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb := b.coin(coin)
	cb.candlesDirty = true

	i := sort.Search(len(cb.candles), func(i int) bool { return !cb.candles[i].OpenTime.Before(c.OpenTime) })
	switch {
	case i < len(cb.candles) && cb.candles[i].OpenTime.Equal(c.OpenTime):
		cb.candles[i] = c
	case i == len(cb.candles):
		cb.candles = append(cb.candles, c)
	default:
		cb.candles = append(cb.candles, market_data.Candle{})
		copy(cb.candles[i+1:], cb.candles[i:])
		cb.candles[i] = c
	}

	if over := len(cb.candles) - b.cfg.MaxCandles; over > 0 {
		cb.candles = cb.candles[over:]
	}
}

// SetCandles replaces the rolling series, used by the REST backfill
func (b *Buffer) SetCandles(coin string, candles []market_data.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb := b.coin(coin)
	cb.candles = append(cb.candles[:0:0], candles...)
	sort.SliceStable(cb.candles, func(i, j int) bool { return cb.candles[i].OpenTime.Before(cb.candles[j].OpenTime) })
	if over := len(cb.candles) - b.cfg.MaxCandles; over > 0 {
		cb.candles = cb.candles[over:]
	}
	cb.candlesDirty = true
}

// Drain returns and clears everything pending for a coin
func (b *Buffer) Drain(coin string) Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.coins[coin]
	if !ok {
		return Batch{}
	}

	batch := Batch{
		Trades:       cb.trades,
		Funding:      cb.funding,
		Liquidations: cb.liquidations,
	}
	if cb.candlesDirty {
		batch.Candles = append([]market_data.Candle(nil), cb.candles...)
		cb.candlesDirty = false
	}
	if cb.droppedTrades > 0 {
		b.log.Warnw("Pending trades dropped before drain", "coin", coin, "dropped", cb.droppedTrades)
		cb.droppedTrades = 0
	}

	cb.trades = nil
	cb.funding = nil
	cb.liquidations = nil
	return batch
}

// Pending returns the number of queued trades for a coin
func (b *Buffer) Pending(coin string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.coins[coin]; ok {
		return len(cb.trades)
	}
	return 0
}
