package zone

import (
	"context"
	"time"
)

// SnapshotRepository stores computed zones and lifecycle transitions (ClickHouse)
type SnapshotRepository interface {
	InsertSnapshots(ctx context.Context, computedAt time.Time, zones []Zone) error
	InsertLifecycleEvents(ctx context.Context, events []LifecycleEvent) error
	GetLatestSnapshot(ctx context.Context, coin string) ([]Zone, error)
}

// OutcomeRepository stores labelled lifecycle records (Postgres)
type OutcomeRepository interface {
	SaveOutcome(ctx context.Context, rec *LifecycleRecord) error
	ListRecent(ctx context.Context, coin string, limit int) ([]LifecycleRecord, error)
}

// CheckpointStore persists the streaming active-zone map between restarts (Redis)
type CheckpointStore interface {
	SaveActive(ctx context.Context, coin string, active map[string]Zone) error
	LoadActive(ctx context.Context, coin string) (map[string]Zone, error)
}
