package inference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/internal/domain/market_data"
	"liqzones/internal/domain/zone"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func trade(offset time.Duration, price, size float64, side market_data.Side) market_data.Trade {
	return market_data.Trade{Timestamp: base.Add(offset), Price: price, Size: size, Side: side, Symbol: "BTC"}
}

func TestInfer_Empty(t *testing.T) {
	events := Infer("BTC", nil, Signals{}, Config{LiqSizeThreshold: 0.1})
	assert.Empty(t, events)
	assert.NotNil(t, events)
}

func TestInfer_LargeTrades(t *testing.T) {
	trades := []market_data.Trade{
		trade(0, 80000, 0.05, market_data.SideAsk),
		trade(time.Second, 80000, 0.1, market_data.SideAsk),
		trade(2*time.Second, 80000, 0.5, market_data.SideBid),
	}

	events, stats := InferWithStats("BTC", trades, Signals{Now: base}, Config{LiqSizeThreshold: 0.1})
	require.Len(t, events, 2)
	assert.Equal(t, 2, stats[PatternLargeTrade])
	assert.Equal(t, zone.SideLong, events[0].Side)
	assert.Equal(t, zone.SideShort, events[1].Side)
	assert.InDelta(t, 8000, events[0].UsdValue, 1e-9)
	assert.Equal(t, "BTC", events[1].Coin)
}

func TestInfer_Cascade(t *testing.T) {
	var trades []market_data.Trade
	for i := 0; i < 25; i++ {
		trades = append(trades, trade(time.Duration(i)*time.Second, 80000, 0.01, market_data.SideBid))
	}
	// 0.25% drop on a print 5x the trailing mean
	trades = append(trades, trade(30*time.Second, 79800, 0.05, market_data.SideAsk))

	events, stats := InferWithStats("BTC", trades, Signals{Now: base}, Config{LiqSizeThreshold: 10})
	require.Len(t, events, 1)
	assert.Equal(t, 1, stats[PatternCascade])
	assert.InDelta(t, 79800, events[0].Price, 1e-9)
	assert.Equal(t, zone.SideLong, events[0].Side)
}

func TestInfer_CascadeNeedsSizeSpike(t *testing.T) {
	trades := []market_data.Trade{
		trade(0, 80000, 0.01, market_data.SideBid),
		trade(time.Second, 79000, 0.01, market_data.SideAsk),
	}
	events := Infer("BTC", trades, Signals{Now: base}, Config{LiqSizeThreshold: 10})
	assert.Empty(t, events)
}

func TestInfer_FundingExtremeTakesMostRecent(t *testing.T) {
	var trades []market_data.Trade
	for i := 0; i < 10; i++ {
		trades = append(trades, trade(time.Duration(i)*time.Minute, 80000+float64(i), 0.01, market_data.SideAsk))
	}
	rate := 0.002

	events, stats := InferWithStats("BTC", trades, Signals{FundingRate: &rate, Now: base}, Config{LiqSizeThreshold: 10})
	require.Len(t, events, 3)
	assert.Equal(t, 3, stats[PatternFunding])
	assert.InDelta(t, 80007, events[0].Price, 1e-9)
	assert.InDelta(t, 80009*0.01*1.5, events[2].UsdValue, 1e-6)

	calm := 0.0005
	assert.Empty(t, Infer("BTC", trades, Signals{FundingRate: &calm, Now: base}, Config{LiqSizeThreshold: 10}))
}

func TestInfer_OICollapse(t *testing.T) {
	now := base.Add(10 * time.Minute)
	trades := []market_data.Trade{
		trade(0, 80000, 0.01, market_data.SideAsk),
		trade(8*time.Minute, 79900, 0.01, market_data.SideAsk),
		trade(9*time.Minute, 79800, 0.01, market_data.SideBid),
	}

	events := Infer("BTC", trades, Signals{OpenInterest: []float64{1000, 900}, Now: now}, Config{LiqSizeThreshold: 10})
	require.Len(t, events, 2)
	assert.InDelta(t, 79900*0.01*2, events[0].UsdValue, 1e-6)

	// a 4% drop is not a collapse
	events = Infer("BTC", trades, Signals{OpenInterest: []float64{1000, 960}, Now: now}, Config{LiqSizeThreshold: 10})
	assert.Empty(t, events)

	// a single reading is skipped
	events = Infer("BTC", trades, Signals{OpenInterest: []float64{1000}, Now: now}, Config{LiqSizeThreshold: 10})
	assert.Empty(t, events)
}

func TestInfer_DeduplicatesFirstPatternWins(t *testing.T) {
	trades := []market_data.Trade{
		trade(0, 80000, 1, market_data.SideAsk),
		trade(time.Second, 80001, 1, market_data.SideAsk),
		trade(2*time.Second, 80002, 1, market_data.SideAsk),
		trade(3*time.Second, 80003, 1, market_data.SideAsk),
	}
	rate := 0.01

	events := Infer("BTC", trades, Signals{FundingRate: &rate, Now: base}, Config{LiqSizeThreshold: 0.5})
	require.Len(t, events, 4)
	// large-trade usd kept, funding boost dropped as a duplicate
	assert.InDelta(t, 80003, events[3].UsdValue, 1e-9)
}

func TestInfer_SortsUnorderedInput(t *testing.T) {
	trades := []market_data.Trade{
		trade(2*time.Second, 80002, 1, market_data.SideBid),
		trade(0, 80000, 1, market_data.SideAsk),
	}
	events := Infer("BTC", trades, Signals{Now: base}, Config{LiqSizeThreshold: 0.5})
	require.Len(t, events, 2)
	assert.True(t, events[0].Timestamp.Before(events[1].Timestamp))
}

func TestRollingMean(t *testing.T) {
	var trades []market_data.Trade
	for i := 1; i <= 25; i++ {
		trades = append(trades, trade(time.Duration(i)*time.Second, 100, float64(i), market_data.SideAsk))
	}
	means := rollingMean(trades)
	assert.InDelta(t, 1.0, means[0], 1e-9)
	assert.InDelta(t, 1.5, means[1], 1e-9)
	assert.InDelta(t, 10.5, means[19], 1e-9)
	assert.InDelta(t, 15.5, means[24], 1e-9)
}
