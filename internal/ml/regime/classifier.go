package regime

import (
	"github.com/markcheno/go-talib"

	"liqzones/internal/domain/zone"
)

// WidthRegime is the trend of average zone band width
type WidthRegime string

const (
	RegimeExpanding   WidthRegime = "expanding"
	RegimeContracting WidthRegime = "contracting"
	RegimeStable      WidthRegime = "stable"
	RegimeUnknown     WidthRegime = "unknown"
)

const (
	// MinSamples is the shortest history a trend is fit on
	MinSamples = 4
	// ChangeThreshold is the relative width change across the history that counts as a trend
	ChangeThreshold = 0.10
)

// Classification is the regime plus the fitted relative change behind it
type Classification struct {
	Regime    WidthRegime `json:"regime"`
	ChangePct float64     `json:"change_pct"`
	Samples   int         `json:"samples"`
}

// Classify fits a linear regression over the band width history and labels its slope.
// The slope is projected across the whole history and taken relative to the mean width.
func Classify(history []zone.HistoryPoint) Classification {
	n := len(history)
	if n < MinSamples {
		return Classification{Regime: RegimeUnknown, Samples: n}
	}

	widths := make([]float64, n)
	mean := 0.0
	for i, h := range history {
		widths[i] = h.AvgBandWidth
		mean += h.AvgBandWidth
	}
	mean /= float64(n)
	if mean <= 0 {
		return Classification{Regime: RegimeStable, Samples: n}
	}

	slope := talib.LinearRegSlope(widths, n)[n-1]
	change := slope * float64(n-1) / mean

	regime := RegimeStable
	switch {
	case change > ChangeThreshold:
		regime = RegimeExpanding
	case change < -ChangeThreshold:
		regime = RegimeContracting
	}

	return Classification{Regime: regime, ChangePct: change * 100, Samples: n}
}
