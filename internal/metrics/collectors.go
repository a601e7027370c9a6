package metrics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"liqzones/pkg/logger"
)

// StoreCollector reports row counts from the optional stores at scrape time.
// Any nil store is skipped.
type StoreCollector struct {
	log        *logger.Logger
	postgres   *sqlx.DB
	clickhouse driver.Conn
	redis      *redis.Client
	coins      []string

	outcomeRecords  *prometheus.Desc
	snapshotRows    *prometheus.Desc
	checkpointZones *prometheus.Desc
}

// NewStoreCollector creates a collector for the given coins
func NewStoreCollector(log *logger.Logger, postgres *sqlx.DB, clickhouse driver.Conn, redis *redis.Client, coins []string) *StoreCollector {
	return &StoreCollector{
		log:        log,
		postgres:   postgres,
		clickhouse: clickhouse,
		redis:      redis,
		coins:      coins,

		outcomeRecords: prometheus.NewDesc(
			"liqzones_outcome_records",
			"Labelled zone outcomes stored in Postgres",
			[]string{"coin", "outcome"}, nil,
		),
		snapshotRows: prometheus.NewDesc(
			"liqzones_snapshot_rows_1h",
			"Zone snapshot rows written to ClickHouse in the last hour",
			[]string{"coin"}, nil,
		),
		checkpointZones: prometheus.NewDesc(
			"liqzones_checkpoint_zones",
			"Active zones in the Redis checkpoint",
			[]string{"coin"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.outcomeRecords
	ch <- c.snapshotRows
	ch <- c.checkpointZones
}

// Collect implements prometheus.Collector
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.postgres != nil {
		c.collectOutcomes(ctx, ch)
	}
	if c.clickhouse != nil {
		c.collectSnapshots(ctx, ch)
	}
	if c.redis != nil {
		c.collectCheckpoints(ctx, ch)
	}
}

func (c *StoreCollector) collectOutcomes(ctx context.Context, ch chan<- prometheus.Metric) {
	var rows []struct {
		Coin    string `db:"coin"`
		Outcome int    `db:"outcome"`
		Count   int    `db:"count"`
	}
	err := c.postgres.SelectContext(ctx, &rows, "SELECT coin, outcome, COUNT(*) AS count FROM zone_outcomes GROUP BY coin, outcome")
	if err != nil {
		c.log.Errorw("Failed to collect outcome metric", "error", err)
		return
	}

	for _, r := range rows {
		label := "broke"
		if r.Outcome == 1 {
			label = "held"
		}
		ch <- prometheus.MustNewConstMetric(c.outcomeRecords, prometheus.GaugeValue, float64(r.Count), r.Coin, label)
	}
}

func (c *StoreCollector) collectSnapshots(ctx context.Context, ch chan<- prometheus.Metric) {
	rows, err := c.clickhouse.Query(ctx, `
		SELECT coin, count() AS rows
		FROM zone_snapshots
		WHERE computed_at > now() - INTERVAL 1 HOUR
		GROUP BY coin
	`)
	if err != nil {
		c.log.Errorw("Failed to collect snapshot metric", "error", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var (
			coin  string
			count uint64
		)
		if err := rows.Scan(&coin, &count); err != nil {
			c.log.Errorw("Failed to scan snapshot metric", "error", err)
			return
		}
		ch <- prometheus.MustNewConstMetric(c.snapshotRows, prometheus.GaugeValue, float64(count), coin)
	}
}

func (c *StoreCollector) collectCheckpoints(ctx context.Context, ch chan<- prometheus.Metric) {
	for _, coin := range c.coins {
		n, err := c.redis.HLen(ctx, "liqzones:active:"+coin).Result()
		if err != nil {
			c.log.Errorw("Failed to collect checkpoint metric", "coin", coin, "error", err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.checkpointZones, prometheus.GaugeValue, float64(n), coin)
	}
}

// RegisterStoreCollector registers the collector with the default registry
func RegisterStoreCollector(collector *StoreCollector) {
	prometheus.MustRegister(collector)
}
