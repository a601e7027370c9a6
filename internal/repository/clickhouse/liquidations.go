package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"liqzones/internal/domain/liquidation"
	"liqzones/internal/metrics"
	"liqzones/pkg/errors"
)

// Compile-time check
var _ liquidation.Repository = (*LiquidationRepository)(nil)

// LiquidationRepository implements liquidation.Repository using ClickHouse
type LiquidationRepository struct {
	conn driver.Conn
}

// NewLiquidationRepository creates a new liquidation repository
func NewLiquidationRepository(conn driver.Conn) *LiquidationRepository {
	return &LiquidationRepository{conn: conn}
}

// InsertLiquidationBatch writes confirmed liquidations in one batch
func (r *LiquidationRepository) InsertLiquidationBatch(ctx context.Context, liqs []liquidation.Liquidation) error {
	if len(liqs) == 0 {
		return nil
	}

	start := time.Now()
	err := r.insert(ctx, liqs)
	metrics.RecordDBQuery("clickhouse", "insert_liquidations", time.Since(start), err)
	return err
}

func (r *LiquidationRepository) insert(ctx context.Context, liqs []liquidation.Liquidation) error {
	batch, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO liquidations (
			exchange, symbol, timestamp, side, price, quantity, value_usd
		)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}

	for _, liq := range liqs {
		err := batch.Append(
			liq.Exchange, liq.Symbol, liq.Timestamp.UTC(),
			liq.Side, liq.Price, liq.Quantity, liq.Value(),
		)
		if err != nil {
			return errors.Wrap(err, "failed to append liquidation")
		}
	}

	return errors.Wrap(batch.Send(), "failed to send liquidations")
}

// GetRecentLiquidations returns liquidations since the given time, oldest first.
// An empty exchange matches every venue.
func (r *LiquidationRepository) GetRecentLiquidations(ctx context.Context, exchange, symbol string, since time.Time) ([]liquidation.Liquidation, error) {
	query := `
		SELECT exchange, symbol, timestamp, side, price, quantity, value_usd
		FROM liquidations
		WHERE symbol = $1 AND timestamp >= $2`
	args := []interface{}{symbol, since.UTC()}

	if exchange != "" {
		query += ` AND exchange = $3`
		args = append(args, exchange)
	}
	query += ` ORDER BY timestamp ASC`

	start := time.Now()
	var liqs []liquidation.Liquidation
	err := r.conn.Select(ctx, &liqs, query, args...)
	metrics.RecordDBQuery("clickhouse", "select_liquidations", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load liquidations for %s", symbol)
	}
	return liqs, nil
}
