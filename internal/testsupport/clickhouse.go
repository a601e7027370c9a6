package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"liqzones/internal/adapters/clickhouse"
	"liqzones/internal/adapters/config"
	"liqzones/internal/domain/liquidation"
	"liqzones/internal/domain/market_data"
	"liqzones/internal/domain/zone"
)

// ClickHouseTestHelper manages cleanup for ClickHouse integration tests.
type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewClickHouseTestHelper creates a ClickHouse client for tests.
func NewClickHouseTestHelper(t *testing.T, cfg config.ClickHouseConfig) *ClickHouseTestHelper {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := clickhouse.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return &ClickHouseTestHelper{client: client}
}

// Client exposes the raw ClickHouse client for queries.
func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}

// RegisterCoinCleanup removes every row of a coin from the table once the test completes
func (h *ClickHouseTestHelper) RegisterCoinCleanup(t *testing.T, table, column, coin string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, column)
		_ = h.client.Conn().Exec(ctx, query, coin)
	})
}

// ZoneFixture provides builder pattern for creating test zones
type ZoneFixture struct {
	zone zone.Zone
}

// NewZoneFixture creates a medium quality BTC long zone around 50000
func NewZoneFixture() *ZoneFixture {
	now := time.Now().UTC().Truncate(time.Second)
	return &ZoneFixture{
		zone: zone.Zone{
			Coin:         "BTC",
			PriceMean:    50000,
			PriceMin:     49900,
			PriceMax:     50100,
			TotalUSD:     2_500_000,
			Count:        12,
			FirstTs:      now.Add(-30 * time.Minute),
			LastTs:       now,
			DominantSide: zone.SideLong,
			Strength:     0.6,
			QualityScore: 55,
			QualityLabel: zone.QualityMedium,
			ATR:          120,
			Band:         180,
			BandPct:      0.0036,
			EntryLow:     49820,
			EntryHigh:    50180,
		},
	}
}

// WithCoin sets the coin
func (f *ZoneFixture) WithCoin(coin string) *ZoneFixture {
	f.zone.Coin = coin
	return f
}

// WithPrice centres the zone on mean, keeping band widths
func (f *ZoneFixture) WithPrice(mean float64) *ZoneFixture {
	shift := mean - f.zone.PriceMean
	f.zone.PriceMean = mean
	f.zone.PriceMin += shift
	f.zone.PriceMax += shift
	f.zone.EntryLow += shift
	f.zone.EntryHigh += shift
	return f
}

// WithQuality sets score and label
func (f *ZoneFixture) WithQuality(score float64, label zone.QualityLabel) *ZoneFixture {
	f.zone.QualityScore = score
	f.zone.QualityLabel = label
	return f
}

func (f *ZoneFixture) WithSide(side zone.Side) *ZoneFixture {
	f.zone.DominantSide = side
	return f
}

// WithTimeframe tags the zone as produced by a multi-timeframe pass
func (f *ZoneFixture) WithTimeframe(tf string, alignment float64) *ZoneFixture {
	f.zone.Timeframe = tf
	f.zone.AlignmentScore = alignment
	return f
}

// WithPrediction attaches a hold/break forecast
func (f *ZoneFixture) WithPrediction(hold float64) *ZoneFixture {
	outcome := "BREAK"
	if hold >= 0.5 {
		outcome = "HOLD"
	}
	confidence := hold
	if 1-hold > confidence {
		confidence = 1 - hold
	}
	f.zone.Prediction = &zone.Prediction{
		HoldProbability:  hold,
		BreakProbability: 1 - hold,
		Confidence:       confidence,
		Outcome:          outcome,
	}
	return f
}

// Build returns the zone
func (f *ZoneFixture) Build() zone.Zone {
	return f.zone
}

// NewTradeFixture returns a trade for coin at price, t seconds after base
func NewTradeFixture(coin string, base time.Time, t int, price, size float64, side market_data.Side) market_data.Trade {
	return market_data.Trade{
		Timestamp: base.Add(time.Duration(t) * time.Second),
		Price:     price,
		Size:      size,
		Side:      side,
		Symbol:    coin,
	}
}

// NewLiquidationFixture returns a confirmed binance liquidation for symbol
func NewLiquidationFixture(symbol, side string, price, qty float64, at time.Time) liquidation.Liquidation {
	return liquidation.Liquidation{
		Exchange:  "binance",
		Symbol:    symbol,
		Timestamp: at.UTC().Truncate(time.Millisecond),
		Side:      side,
		Price:     price,
		Quantity:  qty,
		ValueUSD:  price * qty,
	}
}
