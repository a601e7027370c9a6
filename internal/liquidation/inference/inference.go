package inference

import (
	"math"
	"sort"
	"time"

	"github.com/markcheno/go-talib"

	"liqzones/internal/domain/market_data"
	"liqzones/internal/domain/zone"
)

// Pattern names the heuristic that flagged a trade
type Pattern string

const (
	PatternLargeTrade Pattern = "large_trade"
	PatternCascade    Pattern = "cascade"
	PatternFunding    Pattern = "funding_extreme"
	PatternOICollapse Pattern = "oi_collapse"
)

const (
	cascadePriceChange = 0.001
	cascadeSizeMult    = 2.0
	rollingWindow      = 20

	fundingExtreme = 0.001
	fundingShare   = 0.3
	fundingBoost   = 1.5

	oiDropThreshold = 0.05
	oiLookback      = 5 * time.Minute
	oiBoost         = 2.0
)

// Config holds inference thresholds
type Config struct {
	LiqSizeThreshold float64
}

// Signals is the derivative context for one coin.
// FundingRate is nil when no funding has been seen. OpenInterest is oldest first.
type Signals struct {
	FundingRate  *float64
	OpenInterest []float64
	Now          time.Time
}

// Stats counts candidates per pattern before deduplication
type Stats map[Pattern]int

type candidate struct {
	trade market_data.Trade
	usd   float64
}

type eventKey struct {
	ts    int64
	price float64
}

// Infer flags probable liquidations among trades.
// Patterns whose inputs are missing are skipped. No trades gives no events.
func Infer(coin string, trades []market_data.Trade, sig Signals, cfg Config) []zone.Event {
	events, _ := InferWithStats(coin, trades, sig, cfg)
	return events
}

// InferWithStats is Infer that also reports how many candidates each pattern produced
func InferWithStats(coin string, trades []market_data.Trade, sig Signals, cfg Config) ([]zone.Event, Stats) {
	stats := Stats{}
	if len(trades) == 0 {
		return []zone.Event{}, stats
	}

	if !sort.SliceIsSorted(trades, func(i, j int) bool { return trades[i].Timestamp.Before(trades[j].Timestamp) }) {
		sorted := make([]market_data.Trade, len(trades))
		copy(sorted, trades)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
		trades = sorted
	}

	now := sig.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	groups := []struct {
		pattern Pattern
		found   []candidate
	}{
		{PatternLargeTrade, largeTrades(trades, cfg.LiqSizeThreshold)},
		{PatternCascade, cascades(trades)},
		{PatternFunding, fundingExtremes(trades, sig.FundingRate)},
		{PatternOICollapse, oiCollapse(trades, sig.OpenInterest, now)},
	}

	seen := make(map[eventKey]struct{})
	events := make([]zone.Event, 0)
	for _, g := range groups {
		stats[g.pattern] = len(g.found)
		for _, c := range g.found {
			key := eventKey{ts: c.trade.Timestamp.UnixNano(), price: c.trade.Price}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			events = append(events, zone.Event{
				Timestamp: c.trade.Timestamp,
				Side:      SideOf(c.trade.Side),
				Coin:      coin,
				Price:     c.trade.Price,
				UsdValue:  c.usd,
			})
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, stats
}

// SideOf maps the aggressor side to the liquidated position side.
// A forced sell hits the bid, so ask-aggressor trades are long liquidations.
func SideOf(s market_data.Side) zone.Side {
	switch s {
	case market_data.SideAsk:
		return zone.SideLong
	case market_data.SideBid:
		return zone.SideShort
	default:
		return zone.SideUnknown
	}
}

func largeTrades(trades []market_data.Trade, threshold float64) []candidate {
	var out []candidate
	for _, t := range trades {
		if t.Size >= threshold {
			out = append(out, candidate{trade: t, usd: t.UsdValue()})
		}
	}
	return out
}

// cascades finds trades that move price sharply on an outsized print
func cascades(trades []market_data.Trade) []candidate {
	means := rollingMean(trades)

	var out []candidate
	for i, t := range trades {
		change := 0.0
		if i > 0 && trades[i-1].Price != 0 {
			change = (t.Price - trades[i-1].Price) / trades[i-1].Price
		}
		if math.Abs(change) > cascadePriceChange && t.Size > cascadeSizeMult*means[i] {
			out = append(out, candidate{trade: t, usd: t.UsdValue()})
		}
	}
	return out
}

// rollingMean is the trailing mean of trade sizes over rollingWindow trades.
// The first rollingWindow-1 values use however many trades are available.
func rollingMean(trades []market_data.Trade) []float64 {
	sizes := make([]float64, len(trades))
	for i, t := range trades {
		sizes[i] = t.Size
	}

	means := make([]float64, len(sizes))
	var sma []float64
	if len(sizes) >= rollingWindow {
		sma = talib.Sma(sizes, rollingWindow)
	}

	sum := 0.0
	for i, s := range sizes {
		if i < rollingWindow-1 {
			sum += s
			means[i] = sum / float64(i+1)
			continue
		}
		means[i] = sma[i]
	}
	return means
}

// fundingExtremes boosts the most recent share of trades when funding is stretched
func fundingExtremes(trades []market_data.Trade, rate *float64) []candidate {
	if rate == nil || math.Abs(*rate) <= fundingExtreme {
		return nil
	}

	n := int(math.Floor(float64(len(trades)) * fundingShare))
	if n == 0 {
		return nil
	}

	out := make([]candidate, 0, n)
	for _, t := range trades[len(trades)-n:] {
		out = append(out, candidate{trade: t, usd: t.UsdValue() * fundingBoost})
	}
	return out
}

// oiCollapse boosts the last few minutes of trades when open interest dropped sharply
func oiCollapse(trades []market_data.Trade, oi []float64, now time.Time) []candidate {
	if len(oi) < 2 {
		return nil
	}
	prev, last := oi[len(oi)-2], oi[len(oi)-1]
	if prev <= 0 || (prev-last)/prev <= oiDropThreshold {
		return nil
	}

	cutoff := now.Add(-oiLookback)
	var out []candidate
	for _, t := range trades {
		if t.Timestamp.After(cutoff) {
			out = append(out, candidate{trade: t, usd: t.UsdValue() * oiBoost})
		}
	}
	return out
}
