package zonepredictor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/internal/domain/zone"
	"liqzones/pkg/errors"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func sampleZone(pm, quality float64) zone.Zone {
	return zone.Zone{
		PriceMean:    pm,
		PriceMin:     pm * 0.999,
		PriceMax:     pm * 1.001,
		TotalUSD:     250_000,
		Count:        6,
		LastTs:       testNow.Add(-2 * time.Hour),
		QualityScore: quality,
		QualityLabel: zone.QualityMedium,
	}
}

func TestExtractFeatures(t *testing.T) {
	z := sampleZone(100, 55)
	f := ExtractFeatures(z, Context{CurrentPrice: 110, CurrentTime: testNow, TouchCount: 25, FundingRate: -0.002})

	require.Len(t, f, len(FeatureNames))
	assert.InDelta(t, 2.0, f[1], 1e-9, "recency hours")
	assert.Equal(t, 6.0, f[2])
	assert.InDelta(t, 1/(0.002+0.01), f[3], 1e-6)
	assert.Equal(t, 55.0, f[4])
	assert.Equal(t, f[1], f[6])
	assert.InDelta(t, 10/110.0*100, f[7], 1e-9)
	assert.Equal(t, 10.0, f[8], "touches are capped")
	assert.Equal(t, 1.0, f[9])
}

func TestExtractFeatures_Defaults(t *testing.T) {
	z := zone.Zone{PriceMean: 0, TotalUSD: 0}
	f := ExtractFeatures(z, Context{CurrentPrice: 100, CurrentTime: testNow, FundingRate: 0.0005})

	assert.Equal(t, 0.0, f[1], "zero timestamp means no recency")
	assert.InDelta(t, 1/(0.01+0.01), f[3], 1e-9)
	assert.Equal(t, 50.0, f[4], "unscored zone gets neutral quality")
	assert.Equal(t, 0.0, f[9])
}

func TestFitScaler_ConstantColumn(t *testing.T) {
	s := FitScaler([][]float64{{1, 5}, {3, 5}})
	assert.Equal(t, []float64{2, 5}, s.Means)
	assert.Equal(t, []float64{1, 1}, s.Stds)
	assert.Equal(t, []float64{1, 0}, s.Transform([]float64{3, 5}))
}

func TestTrain_RequiresTwentyRecords(t *testing.T) {
	p := New()
	records := GenerateSynthetic(19, 1, testNow)

	_, err := p.Train(records)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientSamples))
	assert.False(t, p.IsTrained())

	records = GenerateSynthetic(20, 1, testNow)
	res, err := p.Train(records)
	require.NoError(t, err)
	assert.Equal(t, 20, res.NSamples)
	assert.True(t, p.IsTrained())
}

func TestPredict_Untrained(t *testing.T) {
	_, err := New().Predict(sampleZone(100, 50), Context{CurrentPrice: 100, CurrentTime: testNow})
	assert.ErrorIs(t, err, errors.ErrModelNotTrained)

	_, err = New().MarshalModel()
	assert.ErrorIs(t, err, errors.ErrModelNotTrained)
}

func TestPredict_ProbabilitiesAreConsistent(t *testing.T) {
	p := New()
	res, err := p.Train(GenerateSynthetic(300, 42, testNow))
	require.NoError(t, err)
	assert.Greater(t, res.TrainAccuracy, 0.6)
	assert.Greater(t, res.HoldRatio, 0.0)
	assert.Less(t, res.HoldRatio, 1.0)

	for _, q := range []float64{5, 50, 95} {
		pred, err := p.Predict(sampleZone(80000, q), Context{CurrentPrice: 80500, CurrentTime: testNow})
		require.NoError(t, err)

		assert.InDelta(t, 100, pred.HoldProbability+pred.BreakProbability, 0.11)
		assert.InDelta(t, abs(pred.HoldProbability-50)*2, pred.Confidence, 0.11)
		if pred.HoldProbability > pred.BreakProbability {
			assert.Equal(t, "HOLD", pred.Outcome)
		} else {
			assert.Equal(t, "BREAK", pred.Outcome)
		}
	}
}

func TestPredictZones_UsesTouchKey(t *testing.T) {
	p := New()
	_, err := p.Train(GenerateSynthetic(100, 7, testNow))
	require.NoError(t, err)

	zones := []zone.Zone{sampleZone(80000, 60), sampleZone(81000, 60)}
	out, err := p.PredictZones(zones, 80500, testNow, map[string]int{"80000": 8}, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, z := range out {
		require.NotNil(t, z.Prediction)
	}
	assert.Nil(t, zones[0].Prediction, "input slice is not mutated")
	assert.NotEqual(t, out[0].Prediction.HoldProbability, out[1].Prediction.HoldProbability)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	p := New()
	_, err := p.Train(GenerateSynthetic(80, 3, testNow))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "models", "zone.json")
	require.NoError(t, p.Save(path))

	loaded := New()
	require.NoError(t, loaded.Load(path))
	assert.True(t, loaded.IsTrained())

	ctx := Context{CurrentPrice: 79000, CurrentTime: testNow, TouchCount: 2}
	want, err := p.Predict(sampleZone(80000, 72), ctx)
	require.NoError(t, err)
	got, err := loaded.Predict(sampleZone(80000, 72), ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_Missing(t *testing.T) {
	err := New().Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUnmarshalModel_FeatureMismatch(t *testing.T) {
	err := New().UnmarshalModel([]byte(`{"weights":[1,2],"intercept":0,"means":[0,0],"stds":[1,1]}`))
	assert.True(t, errors.IsValidation(err))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
