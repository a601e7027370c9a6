package cluster

import (
	"math"
	"sort"
	"strings"
	"time"

	"liqzones/internal/domain/zone"
	"liqzones/pkg/errors"
)

// Strategy selects the clustering implementation
type Strategy int

const (
	Auto Strategy = iota
	Never
	Always
)

// AcceleratedThreshold is the event count above which Auto uses the accelerated path
const AcceleratedThreshold = 100

// ParseStrategy reads auto, always or never
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "always":
		return Always, nil
	case "never":
		return Never, nil
	default:
		return Auto, errors.NewValidationError("accelerated", "must be auto, always or never", s)
	}
}

// UseAccelerated resolves the strategy for an input of n events
func (s Strategy) UseAccelerated(n int) bool {
	switch s {
	case Always:
		return true
	case Never:
		return false
	default:
		return n > AcceleratedThreshold
	}
}

// Run clusters events with the implementation chosen by strategy
func Run(events []zone.Event, pct float64, strategy Strategy) []zone.Raw {
	if strategy.UseAccelerated(len(events)) {
		return Accelerated(events, pct)
	}
	return Sequential(events, pct)
}

// Window keeps events at or after now-window.
// When nothing is that recent every event is kept.
func Window(events []zone.Event, now time.Time, window time.Duration) []zone.Event {
	cutoff := now.Add(-window)
	recent := make([]zone.Event, 0, len(events))
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			recent = append(recent, e)
		}
	}
	if len(recent) == 0 {
		return events
	}
	return recent
}

// accumulator carries the running aggregates of the cluster being built
type accumulator struct {
	sum   float64
	min   float64
	max   float64
	usd   float64
	count int
	first time.Time
	last  time.Time

	long    int
	short   int
	unknown int
}

func seed(e zone.Event) accumulator {
	return accumulator{}.add(e)
}

func (a accumulator) mean() float64 {
	return a.sum / float64(a.count)
}

// accepts reports whether price is within pct of the running mean
func (a accumulator) accepts(price, pct float64) bool {
	m := a.mean()
	return math.Abs(price-m)/m <= pct
}

func (a accumulator) add(e zone.Event) accumulator {
	if a.count == 0 {
		a.min, a.max = e.Price, e.Price
		a.first, a.last = e.Timestamp, e.Timestamp
	}
	a.sum += e.Price
	a.min = math.Min(a.min, e.Price)
	a.max = math.Max(a.max, e.Price)
	a.usd += e.UsdValue
	a.count++
	if e.Timestamp.Before(a.first) {
		a.first = e.Timestamp
	}
	if e.Timestamp.After(a.last) {
		a.last = e.Timestamp
	}

	switch e.Side {
	case zone.SideLong:
		a.long++
	case zone.SideShort:
		a.short++
	default:
		a.unknown++
	}
	return a
}

func (a accumulator) raw() zone.Raw {
	return zone.Raw{
		PriceMean:    a.mean(),
		PriceMin:     a.min,
		PriceMax:     a.max,
		TotalUSD:     a.usd,
		Count:        a.count,
		FirstTs:      a.first,
		LastTs:       a.last,
		DominantSide: dominant(a.long, a.short),
	}
}

// dominant is the strict majority of long vs short, otherwise unknown
func dominant(long, short int) zone.Side {
	switch {
	case long > short:
		return zone.SideLong
	case short > long:
		return zone.SideShort
	default:
		return zone.SideUnknown
	}
}

func byPrice(events []zone.Event) []zone.Event {
	sorted := make([]zone.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })
	return sorted
}

// Sequential is the reference greedy clustering.
// Events sorted by price are folded into the current cluster while they stay within
// pct of its running mean. The mean moves as members join, so a chain of small steps
// can carry a cluster well away from its first price.
func Sequential(events []zone.Event, pct float64) []zone.Raw {
	if len(events) == 0 {
		return []zone.Raw{}
	}

	sorted := byPrice(events)
	out := make([]zone.Raw, 0)

	acc := seed(sorted[0])
	for _, e := range sorted[1:] {
		if acc.accepts(e.Price, pct) {
			acc = acc.add(e)
			continue
		}
		out = append(out, acc.raw())
		acc = seed(e)
	}
	return append(out, acc.raw())
}
