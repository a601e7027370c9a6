package engine

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"liqzones/internal/domain/zone"
	"liqzones/pkg/errors"
)

const (
	// DefaultTouchTolerance is how close price must come to a zone mean to count as a touch
	DefaultTouchTolerance = 0.005
	outcomeMatchTolerance = 0.005
)

// Outcome labels accepted by RecordZoneOutcome
const (
	OutcomeHold  = "HOLD"
	OutcomeBreak = "BREAK"
)

// UpdateZoneTouches counts a touch for every last computed zone whose mean is
// within tolerance of price. tolerance <= 0 uses DefaultTouchTolerance.
func (e *Engine) UpdateZoneTouches(price, tolerance float64) int {
	if tolerance <= 0 {
		tolerance = DefaultTouchTolerance
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	touched := 0
	for _, z := range e.lastZones {
		if z.PriceMean == 0 {
			continue
		}
		if math.Abs(price-z.PriceMean)/z.PriceMean < tolerance {
			e.touches[zone.PriceKey(z.PriceMean)]++
			touched++
		}
	}
	return touched
}

// TouchCounts returns touches keyed by whole-dollar zone mean
func (e *Engine) TouchCounts() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, len(e.touches))
	for k, v := range e.touches {
		out[k] = v
	}
	return out
}

// RecordZoneOutcome labels the first last-computed zone within 0.5% of
// zonePrice as held or broken. It reports false when no zone matched.
// The record is kept in memory and persisted when a repository is configured.
func (e *Engine) RecordZoneOutcome(ctx context.Context, zonePrice float64, outcome string, price float64, at time.Time) (bool, error) {
	held := false
	switch strings.ToUpper(outcome) {
	case OutcomeHold:
		held = true
	case OutcomeBreak:
	default:
		return false, errors.NewValidationError("outcome", "must be HOLD or BREAK", outcome)
	}
	if zonePrice <= 0 {
		return false, errors.NewValidationError("zone_price", "must be positive", zonePrice)
	}

	e.mu.Lock()
	var (
		matched zone.Zone
		found   bool
	)
	for _, z := range e.lastZones {
		if math.Abs(z.PriceMean-zonePrice)/zonePrice < outcomeMatchTolerance {
			matched, found = z, true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		return false, nil
	}

	rec := zone.LifecycleRecord{
		ID:           uuid.New(),
		Coin:         e.cfg.Coin,
		Zone:         matched,
		CurrentPrice: price,
		CurrentTime:  at,
		Outcome:      zone.OutcomeBroke,
		TouchCount:   e.touches[zone.PriceKey(matched.PriceMean)],
		FundingRate:  e.funding[e.cfg.Coin].FundingRate,
	}
	if held {
		rec.Outcome = zone.OutcomeHeld
	} else {
		brokenAt := at
		rec.BrokenAt = &brokenAt
	}
	e.appendRecordLocked(rec)
	e.mu.Unlock()

	e.log.Infow("Zone outcome recorded",
		"zone_price", matched.PriceMean,
		"outcome", strings.ToUpper(outcome),
		"touches", rec.TouchCount,
	)

	if e.outcomes != nil {
		if err := e.outcomes.SaveOutcome(ctx, &rec); err != nil {
			return true, errors.Wrap(err, "failed to persist zone outcome")
		}
	}
	return true, nil
}

func (e *Engine) appendRecordLocked(rec zone.LifecycleRecord) {
	e.records = append(e.records, rec)
	if len(e.records) > MaxRecords {
		e.records = append([]zone.LifecycleRecord(nil), e.records[len(e.records)-MaxRecords:]...)
	}
}

// Records returns the lifecycle ring buffer, oldest first
func (e *Engine) Records() []zone.LifecycleRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]zone.LifecycleRecord, len(e.records))
	copy(out, e.records)
	return out
}

// LoadRecords fills the ring buffer from the outcome repository after a restart
func (e *Engine) LoadRecords(ctx context.Context) (int, error) {
	if e.outcomes == nil {
		return 0, nil
	}
	recs, err := e.outcomes.ListRecent(ctx, e.cfg.Coin, MaxRecords)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load zone outcomes")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = nil
	for _, r := range recs {
		e.appendRecordLocked(r)
	}
	return len(e.records), nil
}
