package zones

import (
	"time"

	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/engine"
)

// DefaultOutcomeExpiry drops touched zones that never resolved
const DefaultOutcomeExpiry = 24 * time.Hour

// ResolvedOutcome is a touched zone that price has left again
type ResolvedOutcome struct {
	Zone    zone.Zone
	Outcome string // engine.OutcomeHold or engine.OutcomeBreak
	Price   float64
	At      time.Time
}

type trackedZone struct {
	zone      zone.Zone
	fromAbove bool
	touched   bool
	touchedAt time.Time
}

// OutcomeTracker labels zones from the price path. A zone is watched from the
// side price first saw it on. Once price enters the entry band, leaving one band
// width past the far edge is a break and retreating one band width past the
// near edge is a hold. Not safe for concurrent use.
type OutcomeTracker struct {
	expiry  time.Duration
	tracked map[string]*trackedZone
}

// NewOutcomeTracker creates an empty tracker
func NewOutcomeTracker(expiry time.Duration) *OutcomeTracker {
	if expiry <= 0 {
		expiry = DefaultOutcomeExpiry
	}
	return &OutcomeTracker{
		expiry:  expiry,
		tracked: make(map[string]*trackedZone),
	}
}

// Tracked returns the number of zones being watched
func (t *OutcomeTracker) Tracked() int {
	return len(t.tracked)
}

// Observe feeds the latest zones and price, returning zones resolved by it
func (t *OutcomeTracker) Observe(zones []zone.Zone, price float64, now time.Time) []ResolvedOutcome {
	if price <= 0 {
		return nil
	}

	current := make(map[string]zone.Zone, len(zones))
	for _, z := range zones {
		id := z.ID()
		current[id] = z
		if tz, ok := t.tracked[id]; ok {
			tz.zone = z
			continue
		}
		if z.Contains(price) {
			// side unknown until price is seen outside the band
			continue
		}
		t.tracked[id] = &trackedZone{zone: z, fromAbove: price > z.EntryHigh}
	}

	var resolved []ResolvedOutcome
	for id, tz := range t.tracked {
		z := tz.zone

		if !tz.touched {
			if _, ok := current[id]; !ok {
				delete(t.tracked, id)
				continue
			}
			if z.Contains(price) {
				tz.touched = true
				tz.touchedAt = now
			}
			continue
		}

		if now.Sub(tz.touchedAt) > t.expiry {
			delete(t.tracked, id)
			continue
		}

		width := z.Band
		if width <= 0 {
			width = (z.EntryHigh - z.EntryLow) / 2
		}
		above := price > z.EntryHigh+width
		below := price < z.EntryLow-width
		if !above && !below {
			continue
		}

		outcome := engine.OutcomeBreak
		if above == tz.fromAbove {
			outcome = engine.OutcomeHold
		}
		resolved = append(resolved, ResolvedOutcome{Zone: z, Outcome: outcome, Price: price, At: now})
		delete(t.tracked, id)
	}
	return resolved
}
