package clickhouse

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"liqzones/pkg/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS zone_snapshots (
		coin             LowCardinality(String),
		computed_at      DateTime64(3, 'UTC'),
		zone_id          String,
		timeframe        LowCardinality(String),
		price_mean       Float64,
		price_min        Float64,
		price_max        Float64,
		total_usd        Float64,
		count            UInt32,
		first_ts         DateTime64(3, 'UTC'),
		last_ts          DateTime64(3, 'UTC'),
		dominant_side    LowCardinality(String),
		strength         Float64,
		quality_score    Float64,
		quality_label    LowCardinality(String),
		atr              Float64,
		band             Float64,
		band_pct         Float64,
		entry_low        Float64,
		entry_high       Float64,
		alignment_score  Float64,
		confirmed_count  UInt32,
		confirmed_usd    Float64,
		hold_probability Nullable(Float64),
		ml_prediction    LowCardinality(String)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(computed_at)
	ORDER BY (coin, computed_at, price_mean)
	TTL toDateTime(computed_at) + INTERVAL 90 DAY`,

	`CREATE TABLE IF NOT EXISTS zone_lifecycle_events (
		id                 String,
		coin               LowCardinality(String),
		kind               LowCardinality(String),
		zone_id            String,
		at                 DateTime64(3, 'UTC'),
		price_mean         Float64,
		total_usd          Float64,
		quality_score      Float64,
		quality_label      LowCardinality(String),
		prev_quality_score Float64,
		prev_total_usd     Float64
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(at)
	ORDER BY (coin, at)`,

	`CREATE TABLE IF NOT EXISTS inferred_liquidations (
		coin      LowCardinality(String),
		timestamp DateTime64(3, 'UTC'),
		side      LowCardinality(String),
		price     Float64,
		usd_value Float64
	) ENGINE = ReplacingMergeTree()
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (coin, timestamp, price)
	TTL toDateTime(timestamp) + INTERVAL 30 DAY`,

	`CREATE TABLE IF NOT EXISTS liquidations (
		exchange  LowCardinality(String),
		symbol    LowCardinality(String),
		timestamp DateTime64(3, 'UTC'),
		side      LowCardinality(String),
		price     Float64,
		quantity  Float64,
		value_usd Float64
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (symbol, timestamp)`,
}

// EnsureSchema creates the zone tables when they do not exist
func EnsureSchema(ctx context.Context, conn driver.Conn) error {
	for _, ddl := range schema {
		if err := conn.Exec(ctx, ddl); err != nil {
			return errors.Wrap(err, "failed to apply clickhouse schema")
		}
	}
	return nil
}
