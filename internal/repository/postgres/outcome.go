package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"liqzones/internal/domain/zone"
	"liqzones/internal/metrics"
	"liqzones/pkg/errors"
)

// Compile-time check that we implement the interface
var _ zone.OutcomeRepository = (*OutcomeRepository)(nil)

// outcomeRow mirrors zone_outcomes; the zone snapshot lives in a JSONB column
type outcomeRow struct {
	zone.LifecycleRecord
	ZoneJSON  []byte    `db:"zone"`
	CreatedAt time.Time `db:"created_at"`
}

// OutcomeRepository implements zone.OutcomeRepository using sqlx
type OutcomeRepository struct {
	db DBTX
}

// NewOutcomeRepository creates a new outcome repository
func NewOutcomeRepository(db DBTX) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// SaveOutcome inserts a labelled lifecycle record. A missing ID is generated.
func (r *OutcomeRepository) SaveOutcome(ctx context.Context, rec *zone.LifecycleRecord) error {
	if rec == nil {
		return errors.NewValidationError("record", "must not be nil", nil)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	zoneJSON, err := json.Marshal(rec.Zone)
	if err != nil {
		return errors.Wrap(err, "failed to marshal zone")
	}

	query := `
		INSERT INTO zone_outcomes (
			id, coin, zone, current_price, evaluated_at, outcome,
			touch_count, funding_rate, broken_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (id) DO NOTHING`

	start := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.Coin, string(zoneJSON), rec.CurrentPrice, rec.CurrentTime,
		rec.Outcome, rec.TouchCount, rec.FundingRate, rec.BrokenAt,
	)
	metrics.RecordDBQuery("postgres", "insert_outcome", time.Since(start), err)

	return errors.Wrap(err, "failed to insert zone outcome")
}

// ListRecent returns the newest limit records for a coin, oldest first
func (r *OutcomeRepository) ListRecent(ctx context.Context, coin string, limit int) ([]zone.LifecycleRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT * FROM (
			SELECT id, coin, zone, current_price, evaluated_at, outcome,
			       touch_count, funding_rate, broken_at, created_at
			FROM zone_outcomes
			WHERE coin = $1
			ORDER BY evaluated_at DESC
			LIMIT $2
		) recent
		ORDER BY evaluated_at ASC`

	start := time.Now()
	var rows []outcomeRow
	err := r.db.SelectContext(ctx, &rows, query, coin, limit)
	metrics.RecordDBQuery("postgres", "select_outcomes", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list zone outcomes")
	}

	records := make([]zone.LifecycleRecord, 0, len(rows))
	for _, row := range rows {
		rec := row.LifecycleRecord
		if err := json.Unmarshal(row.ZoneJSON, &rec.Zone); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal zone of outcome %s", rec.ID)
		}
		records = append(records, rec)
	}
	return records, nil
}

// CountByCoin returns how many labelled records exist for a coin
func (r *OutcomeRepository) CountByCoin(ctx context.Context, coin string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM zone_outcomes WHERE coin = $1`, coin)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count zone outcomes")
	}
	return count, nil
}
