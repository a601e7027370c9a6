package banding

import (
	"math"

	"liqzones/internal/domain/zone"
)

// minPadPct is the floor on the percentage pad
const minPadPct = 0.001

// Pad is the half-width of the entry band: the wider of the percentage pad and
// the volatility pad
func Pad(priceMean, pct, atr, volMult float64) float64 {
	pctPad := priceMean * math.Max(minPadPct, pct)
	atrPad := atr * volMult
	return math.Max(pctPad, atrPad)
}

// Apply sets the entry band of every zone in place
func Apply(zones []zone.Zone, pct, atr, volMult float64) {
	for i := range zones {
		z := &zones[i]
		pad := Pad(z.PriceMean, pct, atr, volMult)

		z.ATR = atr
		z.Band = pad
		z.EntryLow = z.PriceMean - pad
		z.EntryHigh = z.PriceMean + pad
		z.BandPct = 0
		if z.PriceMean != 0 {
			z.BandPct = pad / z.PriceMean
		}
	}
}
