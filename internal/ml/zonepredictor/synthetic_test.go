package zonepredictor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/internal/domain/zone"
)

func TestGenerateSynthetic_Deterministic(t *testing.T) {
	a := GenerateSynthetic(50, 11, testNow)
	b := GenerateSynthetic(50, 11, testNow)
	require.Len(t, a, 50)
	assert.Equal(t, a, b)

	c := GenerateSynthetic(50, 12, testNow)
	assert.NotEqual(t, a, c)
}

func TestGenerateSynthetic_Ranges(t *testing.T) {
	holds := 0
	for _, r := range GenerateSynthetic(500, 5, testNow) {
		assert.GreaterOrEqual(t, r.Zone.QualityScore, 0.0)
		assert.LessOrEqual(t, r.Zone.QualityScore, 100.0)
		assert.Greater(t, r.Zone.TotalUSD, 0.0)
		assert.GreaterOrEqual(t, r.Zone.Count, 0)
		assert.Less(t, r.Zone.PriceMin, r.Zone.PriceMax)
		assert.GreaterOrEqual(t, r.TouchCount, 0)
		assert.False(t, r.Zone.LastTs.After(testNow))
		assert.Contains(t, []int{zone.OutcomeBroke, zone.OutcomeHeld}, r.Outcome)
		if r.Held() {
			holds++
		}
	}
	assert.Greater(t, holds, 50)
	assert.Less(t, holds, 450)
}

func TestComputeMetrics_Gate(t *testing.T) {
	records := GenerateSynthetic(9, 1, testNow)
	m := ComputeMetrics(records)
	assert.True(t, m.Insufficient())
	assert.Equal(t, 9, m.NZones)

	m = ComputeMetrics(GenerateSynthetic(10, 1, testNow))
	assert.False(t, m.Insufficient())
	assert.Equal(t, 10, m.NZones)
}

func TestComputeMetrics_Values(t *testing.T) {
	records := make([]zone.LifecycleRecord, 10)
	for i := range records {
		records[i] = zone.LifecycleRecord{CurrentTime: testNow, Outcome: zone.OutcomeHeld}
	}
	for i := 0; i < 3; i++ {
		broken := testNow.Add(time.Duration(i+1) * time.Hour)
		records[i].Outcome = zone.OutcomeBroke
		records[i].BrokenAt = &broken
	}

	m := ComputeMetrics(records)
	assert.Equal(t, 70.0, m.WinRate)
	assert.Equal(t, 2.0, m.AvgHoldTimeHours)
	assert.Equal(t, 0.4, m.Expectancy)
	// outcomes 0/1: mean 0.7, population std ~0.4583
	assert.InDelta(t, 4.83, m.SQNScore, 0.01)
	assert.Equal(t, "Excellent (>2.5)", m.Interpretation)
}

func TestComputeMetrics_EvenSplit(t *testing.T) {
	records := make([]zone.LifecycleRecord, 10)
	for i := range records {
		records[i] = zone.LifecycleRecord{CurrentTime: testNow, Outcome: i % 2}
	}

	m := ComputeMetrics(records)
	assert.Equal(t, 50.0, m.WinRate)
	assert.Equal(t, 0.0, m.Expectancy)
	// mean 0.5, std 0.5, sqrt(10)
	assert.InDelta(t, 3.16, m.SQNScore, 0.01)
	assert.Equal(t, "Excellent (>2.5)", m.Interpretation)
}

func TestComputeMetrics_JSONKeys(t *testing.T) {
	raw, err := json.Marshal(ComputeMetrics(GenerateSynthetic(12, 3, testNow)))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"n_zones", "win_rate", "avg_hold_time_hours", "expectancy", "sqn_score", "interpretation"} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "error")

	raw, err = json.Marshal(ComputeMetrics(GenerateSynthetic(3, 3, testNow)))
	require.NoError(t, err)
	fields = nil
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "error")
	assert.NotContains(t, fields, "interpretation")
}

func TestInterpretSQN(t *testing.T) {
	assert.Equal(t, "Excellent (>2.5)", interpretSQN(3))
	assert.Equal(t, "Good (1.5-2.5)", interpretSQN(2))
	assert.Equal(t, "Fair (0.5-1.5)", interpretSQN(1))
	assert.Equal(t, "Poor (<0.5)", interpretSQN(0.2))
}
