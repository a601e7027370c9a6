package cluster

import (
	"math"
	"sort"
	"time"

	"liqzones/internal/domain/zone"
)

// columns is the event table split into parallel arrays ordered by price
type columns struct {
	price []float64
	usd   []float64
	ts    []int64
	side  []zone.Side
}

func toColumns(events []zone.Event) columns {
	idx := make([]int, len(events))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return events[idx[a]].Price < events[idx[b]].Price })

	c := columns{
		price: make([]float64, len(events)),
		usd:   make([]float64, len(events)),
		ts:    make([]int64, len(events)),
		side:  make([]zone.Side, len(events)),
	}
	for i, j := range idx {
		e := events[j]
		c.price[i] = e.Price
		c.usd[i] = e.UsdValue
		c.ts[i] = e.Timestamp.UnixNano()
		c.side[i] = e.Side
	}
	return c
}

// Accelerated produces the same clusters as Sequential for large inputs.
// The first pass finds cluster boundaries from the price column alone. The second
// aggregates each contiguous segment. Because prices are sorted, min and max are
// the segment endpoints.
func Accelerated(events []zone.Event, pct float64) []zone.Raw {
	if len(events) == 0 {
		return []zone.Raw{}
	}

	c := toColumns(events)
	starts := boundaries(c.price, pct)

	out := make([]zone.Raw, 0, len(starts))
	for k, start := range starts {
		end := len(c.price)
		if k+1 < len(starts) {
			end = starts[k+1]
		}
		out = append(out, c.segment(start, end))
	}
	return out
}

func boundaries(price []float64, pct float64) []int {
	starts := []int{0}
	sum, count := price[0], 1.0
	for i := 1; i < len(price); i++ {
		m := sum / count
		if math.Abs(price[i]-m)/m <= pct {
			sum += price[i]
			count++
			continue
		}
		starts = append(starts, i)
		sum, count = price[i], 1
	}
	return starts
}

func (c columns) segment(start, end int) zone.Raw {
	var sum, usd float64
	first, last := c.ts[start], c.ts[start]
	long, short := 0, 0
	for i := start; i < end; i++ {
		sum += c.price[i]
		usd += c.usd[i]
		if c.ts[i] < first {
			first = c.ts[i]
		}
		if c.ts[i] > last {
			last = c.ts[i]
		}
		switch c.side[i] {
		case zone.SideLong:
			long++
		case zone.SideShort:
			short++
		}
	}

	n := end - start
	return zone.Raw{
		PriceMean:    sum / float64(n),
		PriceMin:     c.price[start],
		PriceMax:     c.price[end-1],
		TotalUSD:     usd,
		Count:        n,
		FirstTs:      time.Unix(0, first).UTC(),
		LastTs:       time.Unix(0, last).UTC(),
		DominantSide: dominant(long, short),
	}
}
