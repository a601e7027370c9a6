package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/internal/domain/zone"
	"liqzones/pkg/errors"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStrength_Decay(t *testing.T) {
	fresh := zone.Raw{TotalUSD: 100000, Count: 5, LastTs: now}
	hourOld := fresh
	hourOld.LastTs = now.Add(-time.Hour)

	want := 0.6*math.Log1p(100000) + 0.4*math.Log1p(5)
	assert.InDelta(t, want, Strength(fresh, now), 1e-9)
	assert.InDelta(t, want/2, Strength(hourOld, now), 1e-9)
}

func TestQuality_Components(t *testing.T) {
	// largest zone, brand new, zero spread: every component is 100
	top := zone.Raw{PriceMean: 100, PriceMin: 100, PriceMax: 100, TotalUSD: 5000, Count: 4, LastTs: now}
	assert.InDelta(t, 100.0, Quality(top, 5000, 4, now), 1e-9)

	// six hours old halves recency
	old := top
	old.LastTs = now.Add(-6 * time.Hour)
	assert.InDelta(t, 85.0, Quality(old, 5000, 4, now), 1e-9)

	// nothing traded gives no volume component
	empty := top
	empty.TotalUSD = 0
	assert.InDelta(t, 60.0, Quality(empty, 0, 4, now), 1e-9)
}

func TestQuality_BoundsAndRounding(t *testing.T) {
	r := zone.Raw{PriceMean: 100, PriceMin: 95, PriceMax: 106, TotalUSD: 123.456, Count: 3, LastTs: now.Add(-90 * time.Minute)}
	q := Quality(r, 1e9, 50, now)
	assert.GreaterOrEqual(t, q, 0.0)
	assert.LessOrEqual(t, q, 100.0)
	assert.InDelta(t, q, math.Round(q*10)/10, 1e-12)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, zone.QualityWeak, Label(0))
	assert.Equal(t, zone.QualityWeak, Label(39.9))
	assert.Equal(t, zone.QualityMedium, Label(40))
	assert.Equal(t, zone.QualityMedium, Label(69.9))
	assert.Equal(t, zone.QualityStrong, Label(70))
	assert.Equal(t, zone.QualityStrong, Label(100))
}

func TestParseMinQuality(t *testing.T) {
	th, ok, err := ParseMinQuality("Medium")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 40.0, th)

	th, ok, err = ParseMinQuality("strong")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 70.0, th)

	_, ok, err = ParseMinQuality("")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseMinQuality("excellent")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.True(t, errors.Is(err, errors.ErrUnknownQuality))
}

func TestScoreAndFilter(t *testing.T) {
	raws := []zone.Raw{
		{PriceMean: 80005, PriceMin: 80000, PriceMax: 80010, TotalUSD: 152009, Count: 2, LastTs: now, DominantSide: zone.SideLong},
		{PriceMean: 70000, PriceMin: 70000, PriceMax: 70000, TotalUSD: 10, Count: 1, LastTs: now.Add(-48 * time.Hour), DominantSide: zone.SideShort},
	}

	zones := Score("BTC", raws, now)
	require.Len(t, zones, 2)
	for _, z := range zones {
		assert.Equal(t, "BTC", z.Coin)
		assert.Equal(t, Label(z.QualityScore), z.QualityLabel)
	}
	assert.Equal(t, zone.QualityStrong, zones[0].QualityLabel)
	assert.Equal(t, zone.QualityWeak, zones[1].QualityLabel)

	strong := FilterMinQuality(zones, StrongThreshold)
	require.Len(t, strong, 1)
	assert.InDelta(t, 80005, strong[0].PriceMean, 1e-9)
}
