package zones

import (
	"context"
	"time"

	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/engine"
	"liqzones/internal/services/feed"
	"liqzones/internal/workers"
	"liqzones/pkg/errors"
)

// Feed hands out everything buffered for a coin since the previous drain
type Feed interface {
	Drain(coin string) feed.Batch
}

// SnapshotStore persists computed zones, transitions and inferred events
type SnapshotStore interface {
	InsertSnapshots(ctx context.Context, computedAt time.Time, zones []zone.Zone) error
	InsertLifecycleEvents(ctx context.Context, events []zone.LifecycleEvent) error
	InsertEvents(ctx context.Context, events []zone.Event) error
}

// LifecyclePublisher fans transitions out to other services
type LifecyclePublisher interface {
	PublishLifecycle(ctx context.Context, events []zone.LifecycleEvent) error
	PublishAlert(ctx context.Context, ev zone.LifecycleEvent) error
}

// Notifier delivers strong-zone alerts to humans
type Notifier interface {
	NotifyZone(ctx context.Context, ev zone.LifecycleEvent) (bool, error)
}

// Sinks are the optional outputs of the zone worker. Nil fields are skipped.
type Sinks struct {
	Snapshots  SnapshotStore
	Publisher  LifecyclePublisher
	Notifier   Notifier
	Checkpoint zone.CheckpointStore
}

// ZoneWorker drains the feed into every engine, runs the streaming update and
// fans the result out to storage, Kafka and alerts. It also follows price
// through the computed zones to record touches and hold/break outcomes.
type ZoneWorker struct {
	*workers.BaseWorker
	engines      []*engine.Engine
	feed         Feed
	sinks        Sinks
	strongAlerts bool
	clock        func() time.Time
	trackers     map[string]*OutcomeTracker
}

// NewZoneWorker creates the zone worker
func NewZoneWorker(
	engines []*engine.Engine,
	feed Feed,
	sinks Sinks,
	strongAlerts bool,
	interval time.Duration,
	enabled bool,
) *ZoneWorker {
	trackers := make(map[string]*OutcomeTracker, len(engines))
	for _, eng := range engines {
		trackers[eng.Coin()] = NewOutcomeTracker(DefaultOutcomeExpiry)
	}
	return &ZoneWorker{
		BaseWorker:   workers.NewBaseWorker("zone_worker", interval, enabled),
		engines:      engines,
		feed:         feed,
		sinks:        sinks,
		strongAlerts: strongAlerts,
		clock:        time.Now,
		trackers:     trackers,
	}
}

// Run executes one update for every coin
func (w *ZoneWorker) Run(ctx context.Context) error {
	var errs errors.MultiError
	for _, eng := range w.engines {
		if ctx.Err() != nil {
			break
		}
		if err := w.process(ctx, eng); err != nil {
			errs.Add(errors.Wrapf(err, "coin %s", eng.Coin()))
		}
	}
	return errs.ToError()
}

func (w *ZoneWorker) process(ctx context.Context, eng *engine.Engine) error {
	coin := eng.Coin()
	batch := w.feed.Drain(coin)

	if batch.Candles != nil {
		eng.UpdateCandles(batch.Candles)
	}
	if len(batch.Funding) > 0 {
		eng.IngestFunding(batch.Funding)
	}
	if len(batch.Liquidations) > 0 {
		eng.IngestLiquidations(batch.Liquidations)
	}

	// an empty engine would report every restored zone as broken
	if len(batch.Trades) == 0 && eng.TradeCount() == 0 {
		return nil
	}

	zones, changes, err := eng.UpdateIncremental(ctx, batch.Trades)
	if err != nil {
		return errors.Wrap(err, "streaming update failed")
	}

	now := w.clock()
	price, hasPrice := eng.LastPrice()
	if p := eng.Predictor(); p != nil && p.IsTrained() && hasPrice && len(zones) > 0 {
		predicted, err := p.PredictZones(zones, price, now, eng.TouchCounts(), eng.FundingRate())
		if err != nil {
			w.Log().Warnw("Zone prediction failed", "coin", coin, "error", err)
		} else {
			zones = predicted
		}
	}

	events := changes.Events(now)

	var errs errors.MultiError
	errs.Add(w.persist(ctx, eng, now, zones, events, len(batch.Trades) > 0))
	errs.Add(w.fanOut(ctx, events))

	if w.sinks.Checkpoint != nil && !changes.Empty() {
		if err := w.sinks.Checkpoint.SaveActive(ctx, coin, eng.ActiveZones()); err != nil {
			errs.Add(errors.Wrap(err, "checkpoint failed"))
		}
	}

	if hasPrice {
		eng.UpdateZoneTouches(price, engine.DefaultTouchTolerance)
		errs.Add(w.trackOutcomes(ctx, eng, zones, price, now))
	}

	w.Log().Debugw("Zones updated",
		"coin", coin,
		"trades", len(batch.Trades),
		"zones", len(zones),
		"formed", len(changes.Formed),
		"updated", len(changes.Updated),
		"broken", len(changes.Broken),
	)
	return errs.ToError()
}

func (w *ZoneWorker) persist(ctx context.Context, eng *engine.Engine, now time.Time, zones []zone.Zone, events []zone.LifecycleEvent, newTrades bool) error {
	store := w.sinks.Snapshots
	if store == nil {
		return nil
	}

	var errs errors.MultiError
	if len(zones) > 0 {
		errs.Add(store.InsertSnapshots(ctx, now, zones))
	}
	if len(events) > 0 {
		errs.Add(store.InsertLifecycleEvents(ctx, events))
	}
	// inferred events are deduplicated by the table engine
	if newTrades {
		if inferred := eng.Events(); len(inferred) > 0 {
			errs.Add(store.InsertEvents(ctx, inferred))
		}
	}
	return errs.ToError()
}

func (w *ZoneWorker) fanOut(ctx context.Context, events []zone.LifecycleEvent) error {
	if len(events) == 0 {
		return nil
	}

	var errs errors.MultiError
	if w.sinks.Publisher != nil {
		errs.Add(w.sinks.Publisher.PublishLifecycle(ctx, events))
	}

	if !w.strongAlerts {
		return errs.ToError()
	}
	for _, ev := range events {
		if ev.Zone.QualityLabel != zone.QualityStrong {
			continue
		}
		if w.sinks.Publisher != nil {
			errs.Add(w.sinks.Publisher.PublishAlert(ctx, ev))
		}
		if w.sinks.Notifier != nil {
			sent, err := w.sinks.Notifier.NotifyZone(ctx, ev)
			errs.Add(err)
			if sent {
				w.Log().Infow("Strong zone alert sent", "coin", ev.Coin, "zone_id", ev.ZoneID, "kind", ev.Kind)
			}
		}
	}
	return errs.ToError()
}

func (w *ZoneWorker) trackOutcomes(ctx context.Context, eng *engine.Engine, zones []zone.Zone, price float64, now time.Time) error {
	tracker, ok := w.trackers[eng.Coin()]
	if !ok {
		return nil
	}

	var errs errors.MultiError
	for _, r := range tracker.Observe(zones, price, now) {
		matched, err := eng.RecordZoneOutcome(ctx, r.Zone.PriceMean, r.Outcome, r.Price, r.At)
		if err != nil {
			errs.Add(errors.Wrap(err, "failed to record zone outcome"))
			continue
		}
		if matched {
			w.Log().Infow("Zone outcome recorded",
				"coin", eng.Coin(),
				"zone_price", r.Zone.PriceMean,
				"outcome", r.Outcome,
				"price", r.Price,
			)
		}
	}
	return errs.ToError()
}
