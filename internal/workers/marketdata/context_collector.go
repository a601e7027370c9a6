package marketdata

import (
	"context"
	"time"

	"liqzones/internal/domain/market_data"
	"liqzones/internal/workers"
	"liqzones/pkg/errors"
)

// ContextSource reads funding, open interest and candles over REST
type ContextSource interface {
	FundingSnapshot(ctx context.Context, symbol string) (market_data.FundingSnapshot, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]market_data.Candle, error)
}

// ContextSink receives polled market context, keyed by coin
type ContextSink interface {
	AddFunding(snapshots ...market_data.FundingSnapshot)
	SetCandles(coin string, candles []market_data.Candle)
}

// MarketContextCollector polls funding, OI and candles for each symbol.
// Websocket streams keep these fresh while connected. The poll seeds the engine
// at startup and covers stream gaps.
type MarketContextCollector struct {
	*workers.BaseWorker
	source     ContextSource
	sink       ContextSink
	symbols    []string // exchange symbols, e.g. BTCUSDT
	klineTF    string
	klineLimit int
}

// NewMarketContextCollector creates a new market context collector worker
func NewMarketContextCollector(
	source ContextSource,
	sink ContextSink,
	symbols []string,
	klineTF string,
	klineLimit int,
	interval time.Duration,
	enabled bool,
) *MarketContextCollector {
	if klineTF == "" {
		klineTF = "1m"
	}
	if klineLimit <= 0 {
		klineLimit = 100
	}
	return &MarketContextCollector{
		BaseWorker: workers.NewBaseWorker("market_context_collector", interval, enabled),
		source:     source,
		sink:       sink,
		symbols:    symbols,
		klineTF:    klineTF,
		klineLimit: klineLimit,
	}
}

// Run executes one iteration of market context collection
func (mc *MarketContextCollector) Run(ctx context.Context) error {
	var (
		errs      errors.MultiError
		snapshots int
		candles   int
	)

	for idx, symbol := range mc.symbols {
		select {
		case <-ctx.Done():
			mc.Log().Infow("Market context collection interrupted by shutdown",
				"symbols_processed", idx,
				"symbols_remaining", len(mc.symbols)-idx,
			)
			return ctx.Err()
		default:
		}

		snapshot, err := mc.source.FundingSnapshot(ctx, symbol)
		if err != nil {
			errs.Add(errors.Wrapf(err, "funding snapshot %s", symbol))
		} else {
			mc.sink.AddFunding(snapshot)
			snapshots++
		}

		series, err := mc.source.Candles(ctx, symbol, mc.klineTF, mc.klineLimit)
		if err != nil {
			errs.Add(errors.Wrapf(err, "candles %s", symbol))
			continue
		}
		if len(series) > 0 {
			mc.sink.SetCandles(market_data.NormalizeSymbol(symbol), series)
			candles += len(series)
		}
	}

	mc.Log().Debugw("Market context collection complete",
		"snapshots", snapshots,
		"candles", candles,
		"errors", len(errs.Errors),
	)
	return errs.ToError()
}
