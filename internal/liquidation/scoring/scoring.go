package scoring

import (
	"math"
	"strings"
	"time"

	"liqzones/internal/domain/zone"
	"liqzones/pkg/errors"
)

// Quality blend weights
const (
	volumeWeight    = 0.4
	recencyWeight   = 0.3
	densityWeight   = 0.2
	tightnessWeight = 0.1

	recencyHalfLifeHours = 6.0
	tightnessDecay       = 10.0
)

// Label thresholds
const (
	MediumThreshold = 40.0
	StrongThreshold = 70.0
)

// Strength ranks zones by volume and member count, decaying with a one hour half-life
func Strength(r zone.Raw, now time.Time) float64 {
	base := 0.6*math.Log1p(r.TotalUSD) + 0.4*math.Log1p(float64(r.Count))
	return base / (1 + ageSeconds(r.LastTs, now)/3600)
}

// Quality blends volume, recency, density and tightness into a 0-100 score.
// maxUSD and maxCount are taken across the zones of the same computation.
func Quality(r zone.Raw, maxUSD float64, maxCount int, now time.Time) float64 {
	volume := 0.0
	if maxUSD > 0 {
		volume = 100 * math.Log1p(r.TotalUSD) / math.Log1p(maxUSD)
	}

	ageHours := ageSeconds(r.LastTs, now) / 3600
	recency := 100 / (1 + ageHours/recencyHalfLifeHours)

	density := 0.0
	if maxCount > 0 {
		density = 100 * math.Log1p(float64(r.Count)) / math.Log1p(float64(maxCount))
	}

	tightness := 100 * math.Exp(-tightnessDecay*r.SpreadPct())

	score := volumeWeight*volume + recencyWeight*recency + densityWeight*density + tightnessWeight*tightness
	return Round(Clip(score), 1)
}

// Label buckets a quality score
func Label(score float64) zone.QualityLabel {
	switch {
	case score < MediumThreshold:
		return zone.QualityWeak
	case score < StrongThreshold:
		return zone.QualityMedium
	default:
		return zone.QualityStrong
	}
}

// ParseMinQuality maps a minimum label to its score threshold.
// An empty label disables filtering and reports ok=false.
func ParseMinQuality(label string) (threshold float64, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "":
		return 0, false, nil
	case string(zone.QualityWeak):
		return 0, true, nil
	case string(zone.QualityMedium):
		return MediumThreshold, true, nil
	case string(zone.QualityStrong):
		return StrongThreshold, true, nil
	default:
		return 0, false, errors.NewKindValidationError(errors.ErrUnknownQuality, "min_quality", "must be weak, medium or strong", label)
	}
}

// Score turns raw clusters into zones carrying strength, quality and label
func Score(coin string, raws []zone.Raw, now time.Time) []zone.Zone {
	maxUSD, maxCount := 0.0, 0
	for _, r := range raws {
		maxUSD = math.Max(maxUSD, r.TotalUSD)
		if r.Count > maxCount {
			maxCount = r.Count
		}
	}

	zones := make([]zone.Zone, 0, len(raws))
	for _, r := range raws {
		q := Quality(r, maxUSD, maxCount, now)
		zones = append(zones, zone.Zone{
			Coin:         coin,
			PriceMean:    r.PriceMean,
			PriceMin:     r.PriceMin,
			PriceMax:     r.PriceMax,
			TotalUSD:     r.TotalUSD,
			Count:        r.Count,
			FirstTs:      r.FirstTs,
			LastTs:       r.LastTs,
			DominantSide: r.DominantSide,
			Strength:     Strength(r, now),
			QualityScore: q,
			QualityLabel: Label(q),
		})
	}
	return zones
}

// FilterMinQuality keeps zones scoring at least threshold
func FilterMinQuality(zones []zone.Zone, threshold float64) []zone.Zone {
	out := make([]zone.Zone, 0, len(zones))
	for _, z := range zones {
		if z.QualityScore >= threshold {
			out = append(out, z)
		}
	}
	return out
}

// Clip bounds a score to [0, 100]
func Clip(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// Round rounds to the given number of decimals
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// ageSeconds is never negative so a clock skewed trade cannot inflate recency
func ageSeconds(last, now time.Time) float64 {
	if last.IsZero() {
		return 0
	}
	return math.Max(0, now.Sub(last).Seconds())
}
