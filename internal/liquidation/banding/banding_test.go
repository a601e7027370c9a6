package banding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/internal/domain/market_data"
	"liqzones/internal/domain/zone"
)

func candles(ranges ...float64) []market_data.Candle {
	out := make([]market_data.Candle, len(ranges))
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range ranges {
		out[i] = market_data.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     100,
			High:     100 + r/2,
			Low:      100 - r/2,
			Close:    100,
		}
	}
	return out
}

func TestTrueRange_UsesPreviousClose(t *testing.T) {
	c := []market_data.Candle{
		{High: 101, Low: 99, Close: 100},
		{High: 106, Low: 104, Close: 105},
	}
	tr := TrueRange(c)
	assert.InDelta(t, 2, tr[0], 1e-9)
	assert.InDelta(t, 6, tr[1], 1e-9)
}

func TestWilderATR_SeedAndSmoothing(t *testing.T) {
	ranges := make([]float64, 15)
	for i := 0; i < 14; i++ {
		ranges[i] = 2
	}
	ranges[14] = 16

	atr := WilderATR(candles(ranges...), 14)
	require.Len(t, atr, 15)
	for i := 0; i < 14; i++ {
		assert.InDelta(t, 2, atr[i], 1e-9, "bar %d", i)
	}
	assert.InDelta(t, 2*(13.0/14)+16.0/14, atr[14], 1e-9)
}

func TestWilderATR_ShortSeries(t *testing.T) {
	atr := WilderATR(candles(2, 4, 6), 14)
	assert.InDelta(t, 2, atr[0], 1e-9)
	assert.InDelta(t, 3, atr[1], 1e-9)
	assert.InDelta(t, 4, atr[2], 1e-9)
}

func TestLastATR_NoCandles(t *testing.T) {
	assert.Equal(t, 0.0, LastATR(nil, 14))
}

func TestApply_PctPadWins(t *testing.T) {
	zones := []zone.Zone{{PriceMean: 80000}}
	Apply(zones, 0.003, 0, 1.5)

	z := zones[0]
	assert.InDelta(t, 240, z.Band, 1e-9)
	assert.InDelta(t, 79760, z.EntryLow, 1e-9)
	assert.InDelta(t, 80240, z.EntryHigh, 1e-9)
	assert.InDelta(t, 0.003, z.BandPct, 1e-12)
}

func TestApply_ATRPadWins(t *testing.T) {
	zones := []zone.Zone{{PriceMean: 80000}}
	Apply(zones, 0.003, 400, 1.5)
	assert.InDelta(t, 600, zones[0].Band, 1e-9)
	assert.InDelta(t, 400, zones[0].ATR, 1e-9)
}

func TestApply_PctFloor(t *testing.T) {
	zones := []zone.Zone{{PriceMean: 1000}, {PriceMean: 0}}
	Apply(zones, 0.0001, 0, 1.5)
	assert.InDelta(t, 1, zones[0].Band, 1e-9)
	assert.GreaterOrEqual(t, zones[0].Band, zones[0].PriceMean*minPadPct)
	assert.Equal(t, 0.0, zones[1].BandPct)
	assert.LessOrEqual(t, zones[0].EntryLow, zones[0].PriceMean)
	assert.LessOrEqual(t, zones[0].PriceMean, zones[0].EntryHigh)
}
