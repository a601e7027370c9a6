package liquidation

import (
	"context"
	"time"
)

// Repository defines the interface for confirmed liquidation storage
type Repository interface {
	InsertLiquidationBatch(ctx context.Context, liqs []Liquidation) error
	GetRecentLiquidations(ctx context.Context, exchange, symbol string, since time.Time) ([]Liquidation, error)
}
