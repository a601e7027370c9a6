package streaming

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"liqzones/internal/domain/zone"
	"liqzones/internal/metrics"
	"liqzones/pkg/logger"
)

// Update thresholds between consecutive snapshots of the same zone
const (
	usdChangeThreshold      = 0.10
	countChangeThreshold    = 2
	strengthChangeThreshold = 0.05
)

// FormedFunc is called for a zone seen for the first time
type FormedFunc func(z zone.Zone) error

// UpdatedFunc is called when a tracked zone changed materially
type UpdatedFunc func(current, previous zone.Zone) error

// BrokenFunc is called for a zone that disappeared
type BrokenFunc func(z zone.Zone) error

// Update pairs the new and old state of a changed zone
type Update struct {
	Current  zone.Zone
	Previous zone.Zone
}

// ChangeSet lists the transitions produced by one snapshot
type ChangeSet struct {
	Formed  []zone.Zone
	Updated []Update
	Broken  []zone.Zone
}

// Empty reports whether nothing changed
func (c ChangeSet) Empty() bool {
	return len(c.Formed) == 0 && len(c.Updated) == 0 && len(c.Broken) == 0
}

// Events flattens the change set into lifecycle events stamped with at
func (c ChangeSet) Events(at time.Time) []zone.LifecycleEvent {
	out := make([]zone.LifecycleEvent, 0, len(c.Formed)+len(c.Updated)+len(c.Broken))
	add := func(kind zone.LifecycleEventKind, z zone.Zone, prev *zone.Zone) {
		out = append(out, zone.LifecycleEvent{
			ID:       uuid.New(),
			Kind:     kind,
			Coin:     z.Coin,
			ZoneID:   z.ID(),
			Zone:     z,
			Previous: prev,
			At:       at,
		})
	}
	for _, z := range c.Formed {
		add(zone.EventFormed, z, nil)
	}
	for _, u := range c.Updated {
		prev := u.Previous
		add(zone.EventUpdated, u.Current, &prev)
	}
	for _, z := range c.Broken {
		add(zone.EventBroken, z, nil)
	}
	return out
}

// Differ compares successive zone snapshots and notifies subscribers of
// formed, updated and broken zones. Zones are identified by their $10 price bucket.
type Differ struct {
	mu sync.Mutex

	coin     string
	previous []zone.Zone
	active   map[string]zone.Zone

	formed  []FormedFunc
	updated []UpdatedFunc
	broken  []BrokenFunc

	log *logger.Logger
}

// NewDiffer creates a differ for one coin
func NewDiffer(coin string) *Differ {
	return &Differ{
		coin:   coin,
		active: make(map[string]zone.Zone),
		log:    logger.Component("streaming").With("coin", coin),
	}
}

// OnFormed registers a subscriber. Subscribers run in registration order.
func (d *Differ) OnFormed(fn FormedFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.formed = append(d.formed, fn)
}

// OnUpdated registers a subscriber
func (d *Differ) OnUpdated(fn UpdatedFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updated = append(d.updated, fn)
}

// OnBroken registers a subscriber
func (d *Differ) OnBroken(fn BrokenFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broken = append(d.broken, fn)
}

// Diff classifies zones against the previous snapshot, stores zones as the new
// previous snapshot and then notifies subscribers. The first snapshot forms every zone.
// Subscribers run after the state update, so they may call back into the differ.
func (d *Differ) Diff(zones []zone.Zone) ChangeSet {
	d.mu.Lock()

	var (
		changes ChangeSet
		pending []func()
	)

	current := index(zones)
	before := index(d.previous)

	for _, id := range order(zones) {
		z := current[id]
		old, existed := before[id]
		switch {
		case !existed:
			d.active[id] = z
			changes.Formed = append(changes.Formed, z)
			pending = append(pending, d.formedCalls(z)...)
		case Changed(old, z):
			d.active[id] = z
			changes.Updated = append(changes.Updated, Update{Current: z, Previous: old})
			pending = append(pending, d.updatedCalls(z, old)...)
		}
	}

	for _, id := range order(d.previous) {
		if _, still := current[id]; still {
			continue
		}
		old := before[id]
		delete(d.active, id)
		changes.Broken = append(changes.Broken, old)
		pending = append(pending, d.brokenCalls(old)...)
	}

	d.previous = append([]zone.Zone(nil), zones...)
	d.record(changes)
	d.mu.Unlock()

	for _, call := range pending {
		call()
	}
	return changes
}

// Changed reports whether a zone moved enough to count as updated
func Changed(old, current zone.Zone) bool {
	usdDelta := math.Abs(current.TotalUSD-old.TotalUSD) / math.Max(old.TotalUSD, 1)
	countDelta := current.Count - old.Count
	if countDelta < 0 {
		countDelta = -countDelta
	}
	strengthDelta := math.Abs(current.Strength - old.Strength)

	return usdDelta > usdChangeThreshold ||
		countDelta >= countChangeThreshold ||
		strengthDelta > strengthChangeThreshold
}

// Active returns a copy of the tracked zones keyed by id
func (d *Differ) Active() map[string]zone.Zone {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]zone.Zone, len(d.active))
	for id, z := range d.active {
		out[id] = z
	}
	return out
}

// Restore seeds the differ from a checkpoint. The restored zones become the
// previous snapshot so they are not reported as formed again.
func (d *Differ) Restore(active map[string]zone.Zone) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.active = make(map[string]zone.Zone, len(active))
	d.previous = make([]zone.Zone, 0, len(active))
	for id, z := range active {
		d.active[id] = z
		d.previous = append(d.previous, z)
	}
}

func (d *Differ) record(c ChangeSet) {
	metrics.LifecycleEvents.WithLabelValues(d.coin, string(zone.EventFormed)).Add(float64(len(c.Formed)))
	metrics.LifecycleEvents.WithLabelValues(d.coin, string(zone.EventUpdated)).Add(float64(len(c.Updated)))
	metrics.LifecycleEvents.WithLabelValues(d.coin, string(zone.EventBroken)).Add(float64(len(c.Broken)))
	metrics.ActiveZones.WithLabelValues(d.coin).Set(float64(len(d.active)))

	if !c.Empty() {
		d.log.Debugw("Zone snapshot diffed",
			"formed", len(c.Formed),
			"updated", len(c.Updated),
			"broken", len(c.Broken),
			"active", len(d.active),
		)
	}
}

func (d *Differ) formedCalls(z zone.Zone) []func() {
	calls := make([]func(), 0, len(d.formed))
	for i, fn := range d.formed {
		calls = append(calls, func() { d.invoke(zone.EventFormed, i, z, func() error { return fn(z) }) })
	}
	return calls
}

func (d *Differ) updatedCalls(z, old zone.Zone) []func() {
	calls := make([]func(), 0, len(d.updated))
	for i, fn := range d.updated {
		calls = append(calls, func() { d.invoke(zone.EventUpdated, i, z, func() error { return fn(z, old) }) })
	}
	return calls
}

func (d *Differ) brokenCalls(z zone.Zone) []func() {
	calls := make([]func(), 0, len(d.broken))
	for i, fn := range d.broken {
		calls = append(calls, func() { d.invoke(zone.EventBroken, i, z, func() error { return fn(z) }) })
	}
	return calls
}

// invoke runs one subscriber, turning panics into logged failures
func (d *Differ) invoke(kind zone.LifecycleEventKind, idx int, z zone.Zone, call func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("subscriber panic: %v", r)
			}
		}()
		return call()
	}()
	if err == nil {
		return
	}

	metrics.SubscriberFailures.WithLabelValues(d.coin, string(kind)).Inc()
	d.log.Errorw("Zone subscriber failed",
		"kind", kind,
		"subscriber", idx,
		"zone_id", z.ID(),
		"error", err,
	)
}

// index keys zones by id. When two zones share a bucket the later one wins.
func index(zones []zone.Zone) map[string]zone.Zone {
	m := make(map[string]zone.Zone, len(zones))
	for _, z := range zones {
		m[z.ID()] = z
	}
	return m
}

// order lists distinct ids in first-seen order
func order(zones []zone.Zone) []string {
	seen := make(map[string]struct{}, len(zones))
	ids := make([]string, 0, len(zones))
	for _, z := range zones {
		id := z.ID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
