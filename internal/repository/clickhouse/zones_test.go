package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/internal/domain/zone"
	"liqzones/internal/testsupport"
)

func TestZoneRepository_SnapshotRoundTrip(t *testing.T) {
	cfg := testsupport.ClickHouseConfigFromEnv(t)
	helper := testsupport.NewClickHouseTestHelper(t, cfg)
	ctx := context.Background()

	require.NoError(t, EnsureSchema(ctx, helper.Client().Conn()))
	repo := NewZoneRepository(helper.Client().Conn())

	coin := testsupport.UniqueCoin()
	helper.RegisterCoinCleanup(t, "zone_snapshots", "coin", coin)
	helper.RegisterCoinCleanup(t, "zone_lifecycle_events", "coin", coin)

	t.Run("EmptyBeforeFirstSnapshot", func(t *testing.T) {
		zones, err := repo.GetLatestSnapshot(ctx, coin)
		require.NoError(t, err)
		assert.Empty(t, zones)
	})

	t.Run("LatestSnapshotWins", func(t *testing.T) {
		older := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
		newer := older.Add(30 * time.Second)

		first := testsupport.NewZoneFixture().WithCoin(coin).WithPrice(48000).Build()
		require.NoError(t, repo.InsertSnapshots(ctx, older, []zone.Zone{first}))

		strong := testsupport.NewZoneFixture().
			WithCoin(coin).
			WithPrice(51000).
			WithQuality(82, zone.QualityStrong).
			WithPrediction(0.7).
			Build()
		weak := testsupport.NewZoneFixture().
			WithCoin(coin).
			WithPrice(50000).
			WithQuality(25, zone.QualityWeak).
			Build()
		require.NoError(t, repo.InsertSnapshots(ctx, newer, []zone.Zone{strong, weak}))

		zones, err := repo.GetLatestSnapshot(ctx, coin)
		require.NoError(t, err)
		require.Len(t, zones, 2)

		assert.Equal(t, 50000.0, zones[0].PriceMean, "ordered by price")
		assert.Nil(t, zones[0].Prediction)
		assert.Equal(t, zone.QualityStrong, zones[1].QualityLabel)
		require.NotNil(t, zones[1].Prediction)
		assert.Equal(t, "HOLD", zones[1].Prediction.Outcome)
		assert.InDelta(t, 0.7, zones[1].Prediction.HoldProbability, 1e-9)
	})

	t.Run("InsertLifecycleEvents", func(t *testing.T) {
		z := testsupport.NewZoneFixture().WithCoin(coin).Build()
		prev := z
		prev.QualityScore = 40

		err := repo.InsertLifecycleEvents(ctx, []zone.LifecycleEvent{
			{ID: uuid.New(), Kind: zone.EventFormed, Coin: coin, ZoneID: z.ID(), Zone: z, At: time.Now()},
			{ID: uuid.New(), Kind: zone.EventUpdated, Coin: coin, ZoneID: z.ID(), Zone: z, Previous: &prev, At: time.Now()},
		})
		require.NoError(t, err)

		var count uint64
		row := helper.Client().Conn().QueryRow(ctx, "SELECT count() FROM zone_lifecycle_events WHERE coin = $1", coin)
		require.NoError(t, row.Scan(&count))
		assert.Equal(t, uint64(2), count)
	})
}

func TestToZoneRow(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	z := testsupport.NewZoneFixture().WithPrice(50004).WithTimeframe("1h", 0.5).Build()

	row := toZoneRow(at, z)
	assert.Equal(t, "50000", row.ZoneID)
	assert.Equal(t, "1h", row.Timeframe)
	assert.Nil(t, row.HoldProb)
	assert.Empty(t, row.MLPrediction)

	back := row.toZone()
	assert.Equal(t, z.PriceMean, back.PriceMean)
	assert.Equal(t, z.AlignmentScore, back.AlignmentScore)
	assert.Equal(t, z.DominantSide, back.DominantSide)
}

func TestToZoneRow_Prediction(t *testing.T) {
	z := testsupport.NewZoneFixture().WithPrediction(0.2).Build()

	back := toZoneRow(time.Now(), z).toZone()
	require.NotNil(t, back.Prediction)
	assert.Equal(t, "BREAK", back.Prediction.Outcome)
	assert.InDelta(t, 0.8, back.Prediction.BreakProbability, 1e-9)
	assert.InDelta(t, 0.8, back.Prediction.Confidence, 1e-9)
}
