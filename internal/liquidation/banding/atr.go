package banding

import (
	"math"

	"github.com/markcheno/go-talib"

	"liqzones/internal/domain/market_data"
)

// DefaultATRPeriod is the Wilder ATR lookback
const DefaultATRPeriod = 14

// TrueRange returns the true range of every candle. The first bar has no previous
// close, so its range is high minus low.
func TrueRange(candles []market_data.Candle) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			tr[i] = c.High - c.Low
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return tr
}

// WilderATR computes the Average True Range series with Wilder smoothing.
// The first full window is seeded with the simple mean of its true ranges and bars
// before it are back-filled with that seed. With fewer candles than period the
// series is the running mean of true range.
func WilderATR(candles []market_data.Candle, period int) []float64 {
	if len(candles) == 0 {
		return nil
	}
	if period <= 0 {
		period = DefaultATRPeriod
	}

	tr := TrueRange(candles)
	atr := make([]float64, len(tr))

	if len(tr) < period {
		sum := 0.0
		for i, v := range tr {
			sum += v
			atr[i] = sum / float64(i+1)
		}
		return atr
	}

	seed := talib.Sma(tr, period)[period-1]
	for i := 0; i < period; i++ {
		atr[i] = seed
	}

	alpha := 1 / float64(period)
	for i := period; i < len(tr); i++ {
		atr[i] = atr[i-1]*(1-alpha) + tr[i]*alpha
	}
	return atr
}

// LastATR returns the most recent ATR value, 0 without candles
func LastATR(candles []market_data.Candle, period int) float64 {
	atr := WilderATR(candles, period)
	if len(atr) == 0 {
		return 0
	}
	return atr[len(atr)-1]
}
