package zonepredictor

import (
	"math"
	"time"

	"liqzones/internal/domain/zone"
)

// FeatureNames is the fixed feature schema, in vector order
var FeatureNames = []string{
	"volume_log",
	"recency_hours",
	"density",
	"tightness",
	"quality_score",
	"alignment_score",
	"zone_age_hours",
	"price_distance_pct",
	"touch_count",
	"funding_extreme",
}

const (
	defaultQuality   = 50.0
	touchCap         = 10
	fundingExtreme   = 0.001
	defaultSpreadPct = 0.01
)

// Context is the market state a zone is evaluated against
type Context struct {
	CurrentPrice float64
	CurrentTime  time.Time
	TouchCount   int
	FundingRate  float64
}

// ExtractFeatures builds the feature vector for a zone
func ExtractFeatures(z zone.Zone, ctx Context) []float64 {
	volumeLog := math.Log1p(z.TotalUSD)

	recencyHours := 0.0
	if !z.LastTs.IsZero() {
		recencyHours = ctx.CurrentTime.Sub(z.LastTs).Hours()
	}

	spreadPct := defaultSpreadPct
	if z.PriceMean > 0 {
		spreadPct = (z.PriceMax - z.PriceMin) / z.PriceMean
	}
	tightness := 1 / (spreadPct + 0.01)

	quality := defaultQuality
	if z.Scored() {
		quality = z.QualityScore
	}

	distance := 0.0
	if ctx.CurrentPrice != 0 {
		distance = math.Abs(z.PriceMean-ctx.CurrentPrice) / ctx.CurrentPrice * 100
	}

	touches := ctx.TouchCount
	if touches > touchCap {
		touches = touchCap
	}

	funding := 0.0
	if math.Abs(ctx.FundingRate) > fundingExtreme {
		funding = 1
	}

	return []float64{
		volumeLog,
		recencyHours,
		float64(z.Count),
		tightness,
		quality,
		z.AlignmentScore,
		recencyHours, // zone age, recency stands in for first detection
		distance,
		float64(touches),
		funding,
	}
}

// recordFeatures extracts the vector for a labelled lifecycle record
func recordFeatures(r zone.LifecycleRecord) []float64 {
	return ExtractFeatures(r.Zone, Context{
		CurrentPrice: r.CurrentPrice,
		CurrentTime:  r.CurrentTime,
		TouchCount:   r.TouchCount,
		FundingRate:  r.FundingRate,
	})
}
