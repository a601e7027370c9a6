package zonepredictor

import (
	"math"

	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/scoring"
)

// MinMetricsSamples is the smallest history performance metrics are computed on
const MinMetricsSamples = 10

// Metrics summarizes realized zone outcomes
type Metrics struct {
	NZones           int     `json:"n_zones"`
	WinRate          float64 `json:"win_rate"`
	AvgHoldTimeHours float64 `json:"avg_hold_time_hours"`
	Expectancy       float64 `json:"expectancy"`
	SQNScore         float64 `json:"sqn_score"`
	Interpretation   string  `json:"interpretation,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Insufficient reports whether there was too little history for metrics
func (m Metrics) Insufficient() bool {
	return m.Error != ""
}

// ComputeMetrics derives win rate, hold time, expectancy and SQN from records.
// SQN is taken over the binary outcome series (1 held, 0 broke).
func ComputeMetrics(records []zone.LifecycleRecord) Metrics {
	n := len(records)
	if n < MinMetricsSamples {
		return Metrics{NZones: n, Error: "Insufficient data for metrics (need 10+ zones)"}
	}

	wins := 0
	outcomes := make([]float64, n)
	holdHours := 0.0
	broken := 0
	for i, r := range records {
		if r.Held() {
			wins++
			outcomes[i] = 1
		}
		if r.BrokenAt != nil {
			holdHours += r.BrokenAt.Sub(r.CurrentTime).Hours()
			broken++
		}
	}

	winRate := float64(wins) / float64(n)
	avgHold := 0.0
	if broken > 0 {
		avgHold = holdHours / float64(broken)
	}

	sqn := 0.0
	if n > 1 {
		mean := 0.0
		for _, v := range outcomes {
			mean += v
		}
		mean /= float64(n)
		ss := 0.0
		for _, v := range outcomes {
			ss += (v - mean) * (v - mean)
		}
		std := math.Sqrt(ss / float64(n))
		sqn = mean / (std + 1e-6) * math.Sqrt(float64(n))
	}

	return Metrics{
		NZones:           n,
		WinRate:          scoring.Round(winRate*100, 1),
		AvgHoldTimeHours: scoring.Round(avgHold, 2),
		Expectancy:       scoring.Round(2*winRate-1, 3),
		SQNScore:         scoring.Round(sqn, 2),
		Interpretation:   interpretSQN(sqn),
	}
}

func interpretSQN(sqn float64) string {
	switch {
	case sqn > 2.5:
		return "Excellent (>2.5)"
	case sqn > 1.5:
		return "Good (1.5-2.5)"
	case sqn > 0.5:
		return "Fair (0.5-1.5)"
	default:
		return "Poor (<0.5)"
	}
}
