package engine

import (
	"context"

	"liqzones/internal/domain/market_data"
	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/streaming"
)

// UpdateIncremental ingests new trades and recomputes zones with the default
// options. In streaming mode the result is diffed against the previous snapshot
// and lifecycle subscribers are notified. In batch mode the change set is empty.
func (e *Engine) UpdateIncremental(ctx context.Context, trades []market_data.Trade) ([]zone.Zone, streaming.ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, streaming.ChangeSet{}, err
	}

	e.IngestTrades(trades)

	zones, err := e.ComputeZones(ComputeOptions{})
	if err != nil {
		return nil, streaming.ChangeSet{}, err
	}

	if e.cfg.Mode != ModeStreaming {
		return zones, streaming.ChangeSet{}, nil
	}

	changes := e.differ.Diff(zones)
	if !changes.Empty() {
		e.log.Debugw("Zone changes detected",
			"formed", len(changes.Formed),
			"updated", len(changes.Updated),
			"broken", len(changes.Broken),
		)
	}
	return zones, changes, nil
}

// OnZoneFormed registers a subscriber for newly formed zones
func (e *Engine) OnZoneFormed(fn streaming.FormedFunc) { e.differ.OnFormed(fn) }

// OnZoneUpdated registers a subscriber for materially changed zones
func (e *Engine) OnZoneUpdated(fn streaming.UpdatedFunc) { e.differ.OnUpdated(fn) }

// OnZoneBroken registers a subscriber for zones that disappeared
func (e *Engine) OnZoneBroken(fn streaming.BrokenFunc) { e.differ.OnBroken(fn) }

// ActiveZones returns the streaming active-zone map keyed by zone id
func (e *Engine) ActiveZones() map[string]zone.Zone {
	return e.differ.Active()
}

// RestoreActive seeds the streaming state from a checkpoint
func (e *Engine) RestoreActive(active map[string]zone.Zone) {
	e.differ.Restore(active)
}
