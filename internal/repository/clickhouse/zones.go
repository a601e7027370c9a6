package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"liqzones/internal/domain/zone"
	"liqzones/internal/metrics"
	"liqzones/pkg/errors"
)

// Compile-time check
var _ zone.SnapshotRepository = (*ZoneRepository)(nil)

// zoneRow is one zone of a snapshot as stored in zone_snapshots
type zoneRow struct {
	Coin           string    `ch:"coin"`
	ComputedAt     time.Time `ch:"computed_at"`
	ZoneID         string    `ch:"zone_id"`
	Timeframe      string    `ch:"timeframe"`
	PriceMean      float64   `ch:"price_mean"`
	PriceMin       float64   `ch:"price_min"`
	PriceMax       float64   `ch:"price_max"`
	TotalUSD       float64   `ch:"total_usd"`
	Count          uint32    `ch:"count"`
	FirstTs        time.Time `ch:"first_ts"`
	LastTs         time.Time `ch:"last_ts"`
	DominantSide   string    `ch:"dominant_side"`
	Strength       float64   `ch:"strength"`
	QualityScore   float64   `ch:"quality_score"`
	QualityLabel   string    `ch:"quality_label"`
	ATR            float64   `ch:"atr"`
	Band           float64   `ch:"band"`
	BandPct        float64   `ch:"band_pct"`
	EntryLow       float64   `ch:"entry_low"`
	EntryHigh      float64   `ch:"entry_high"`
	AlignmentScore float64   `ch:"alignment_score"`
	ConfirmedCount uint32    `ch:"confirmed_count"`
	ConfirmedUSD   float64   `ch:"confirmed_usd"`
	HoldProb       *float64  `ch:"hold_probability"`
	MLPrediction   string    `ch:"ml_prediction"`
}

func toZoneRow(computedAt time.Time, z zone.Zone) zoneRow {
	row := zoneRow{
		Coin:           z.Coin,
		ComputedAt:     computedAt.UTC(),
		ZoneID:         z.ID(),
		Timeframe:      z.Timeframe,
		PriceMean:      z.PriceMean,
		PriceMin:       z.PriceMin,
		PriceMax:       z.PriceMax,
		TotalUSD:       z.TotalUSD,
		Count:          uint32(z.Count),
		FirstTs:        z.FirstTs.UTC(),
		LastTs:         z.LastTs.UTC(),
		DominantSide:   string(z.DominantSide),
		Strength:       z.Strength,
		QualityScore:   z.QualityScore,
		QualityLabel:   string(z.QualityLabel),
		ATR:            z.ATR,
		Band:           z.Band,
		BandPct:        z.BandPct,
		EntryLow:       z.EntryLow,
		EntryHigh:      z.EntryHigh,
		AlignmentScore: z.AlignmentScore,
		ConfirmedCount: uint32(z.ConfirmedCount),
		ConfirmedUSD:   z.ConfirmedUSD,
	}
	if z.Prediction != nil {
		hold := z.Prediction.HoldProbability
		row.HoldProb = &hold
		row.MLPrediction = z.Prediction.Outcome
	}
	return row
}

func (r zoneRow) toZone() zone.Zone {
	z := zone.Zone{
		Coin:           r.Coin,
		PriceMean:      r.PriceMean,
		PriceMin:       r.PriceMin,
		PriceMax:       r.PriceMax,
		TotalUSD:       r.TotalUSD,
		Count:          int(r.Count),
		FirstTs:        r.FirstTs,
		LastTs:         r.LastTs,
		DominantSide:   zone.Side(r.DominantSide),
		Strength:       r.Strength,
		QualityScore:   r.QualityScore,
		QualityLabel:   zone.QualityLabel(r.QualityLabel),
		ATR:            r.ATR,
		Band:           r.Band,
		BandPct:        r.BandPct,
		EntryLow:       r.EntryLow,
		EntryHigh:      r.EntryHigh,
		Timeframe:      r.Timeframe,
		AlignmentScore: r.AlignmentScore,
		ConfirmedCount: int(r.ConfirmedCount),
		ConfirmedUSD:   r.ConfirmedUSD,
	}
	if r.HoldProb != nil {
		hold := *r.HoldProb
		confidence := hold
		if 1-hold > confidence {
			confidence = 1 - hold
		}
		z.Prediction = &zone.Prediction{
			HoldProbability:  hold,
			BreakProbability: 1 - hold,
			Confidence:       confidence,
			Outcome:          r.MLPrediction,
		}
	}
	return z
}

// lifecycleRow is one streaming transition as stored in zone_lifecycle_events
type lifecycleRow struct {
	ID           string    `ch:"id"`
	Coin         string    `ch:"coin"`
	Kind         string    `ch:"kind"`
	ZoneID       string    `ch:"zone_id"`
	At           time.Time `ch:"at"`
	PriceMean    float64   `ch:"price_mean"`
	TotalUSD     float64   `ch:"total_usd"`
	QualityScore float64   `ch:"quality_score"`
	QualityLabel string    `ch:"quality_label"`
	PrevQuality  float64   `ch:"prev_quality_score"`
	PrevTotalUSD float64   `ch:"prev_total_usd"`
}

// eventRow is one inferred liquidation as stored in inferred_liquidations
type eventRow struct {
	Coin      string    `ch:"coin"`
	Timestamp time.Time `ch:"timestamp"`
	Side      string    `ch:"side"`
	Price     float64   `ch:"price"`
	UsdValue  float64   `ch:"usd_value"`
}

// ZoneRepository implements zone.SnapshotRepository using ClickHouse
type ZoneRepository struct {
	conn driver.Conn
}

// NewZoneRepository creates a new zone repository
func NewZoneRepository(conn driver.Conn) *ZoneRepository {
	return &ZoneRepository{conn: conn}
}

// InsertSnapshots writes every zone of one compute under the same computed_at
func (r *ZoneRepository) InsertSnapshots(ctx context.Context, computedAt time.Time, zones []zone.Zone) error {
	if len(zones) == 0 {
		return nil
	}

	start := time.Now()
	err := r.insertSnapshots(ctx, computedAt, zones)
	metrics.RecordDBQuery("clickhouse", "insert_zone_snapshots", time.Since(start), err)
	return err
}

func (r *ZoneRepository) insertSnapshots(ctx context.Context, computedAt time.Time, zones []zone.Zone) error {
	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO zone_snapshots`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}

	for _, z := range zones {
		row := toZoneRow(computedAt, z)
		if err := batch.AppendStruct(&row); err != nil {
			return errors.Wrap(err, "failed to append zone")
		}
	}

	return errors.Wrap(batch.Send(), "failed to send zone snapshots")
}

// InsertLifecycleEvents writes formed/updated/broken transitions
func (r *ZoneRepository) InsertLifecycleEvents(ctx context.Context, events []zone.LifecycleEvent) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	err := r.insertLifecycleEvents(ctx, events)
	metrics.RecordDBQuery("clickhouse", "insert_lifecycle_events", time.Since(start), err)
	return err
}

func (r *ZoneRepository) insertLifecycleEvents(ctx context.Context, events []zone.LifecycleEvent) error {
	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO zone_lifecycle_events`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}

	for _, ev := range events {
		row := lifecycleRow{
			ID:           ev.ID.String(),
			Coin:         ev.Coin,
			Kind:         string(ev.Kind),
			ZoneID:       ev.ZoneID,
			At:           ev.At.UTC(),
			PriceMean:    ev.Zone.PriceMean,
			TotalUSD:     ev.Zone.TotalUSD,
			QualityScore: ev.Zone.QualityScore,
			QualityLabel: string(ev.Zone.QualityLabel),
		}
		if ev.Previous != nil {
			row.PrevQuality = ev.Previous.QualityScore
			row.PrevTotalUSD = ev.Previous.TotalUSD
		}
		if err := batch.AppendStruct(&row); err != nil {
			return errors.Wrap(err, "failed to append lifecycle event")
		}
	}

	return errors.Wrap(batch.Send(), "failed to send lifecycle events")
}

// InsertEvents stores inferred liquidation events for offline analysis
func (r *ZoneRepository) InsertEvents(ctx context.Context, events []zone.Event) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO inferred_liquidations`)
	if err != nil {
		metrics.RecordDBQuery("clickhouse", "insert_inferred_events", time.Since(start), err)
		return errors.Wrap(err, "failed to prepare batch")
	}

	for _, ev := range events {
		row := eventRow{
			Coin:      ev.Coin,
			Timestamp: ev.Timestamp.UTC(),
			Side:      string(ev.Side),
			Price:     ev.Price,
			UsdValue:  ev.UsdValue,
		}
		if err := batch.AppendStruct(&row); err != nil {
			return errors.Wrap(err, "failed to append inferred event")
		}
	}

	err = batch.Send()
	metrics.RecordDBQuery("clickhouse", "insert_inferred_events", time.Since(start), err)
	return errors.Wrap(err, "failed to send inferred events")
}

// GetLatestSnapshot returns the zones of the most recent compute for a coin,
// ordered by price. Empty when the coin has no snapshot yet.
func (r *ZoneRepository) GetLatestSnapshot(ctx context.Context, coin string) ([]zone.Zone, error) {
	start := time.Now()

	var rows []zoneRow
	err := r.conn.Select(ctx, &rows, `
		SELECT *
		FROM zone_snapshots
		WHERE coin = $1
		  AND computed_at = (SELECT max(computed_at) FROM zone_snapshots WHERE coin = $1)
		ORDER BY price_mean ASC`, coin)
	metrics.RecordDBQuery("clickhouse", "select_latest_snapshot", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load latest snapshot for %s", coin)
	}

	zones := make([]zone.Zone, 0, len(rows))
	for _, row := range rows {
		zones = append(zones, row.toZone())
	}
	return zones, nil
}
