package postgres

import (
	"context"

	"liqzones/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS zone_outcomes (
	id            UUID PRIMARY KEY,
	coin          TEXT NOT NULL,
	zone          JSONB NOT NULL,
	current_price DOUBLE PRECISION NOT NULL,
	evaluated_at  TIMESTAMPTZ NOT NULL,
	outcome       SMALLINT NOT NULL CHECK (outcome IN (0, 1)),
	touch_count   INTEGER NOT NULL DEFAULT 0,
	funding_rate  DOUBLE PRECISION NOT NULL DEFAULT 0,
	broken_at     TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_zone_outcomes_coin_evaluated
	ON zone_outcomes (coin, evaluated_at DESC);
`

// EnsureSchema creates the outcome table when it does not exist
func EnsureSchema(ctx context.Context, db DBTX) error {
	_, err := db.ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to apply postgres schema")
}
