package zone

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Side of the positions believed to be liquidated
type Side string

const (
	SideLong    Side = "long"
	SideShort   Side = "short"
	SideUnknown Side = "unknown"
)

// QualityLabel buckets the 0-100 quality score
type QualityLabel string

const (
	QualityWeak   QualityLabel = "weak"
	QualityMedium QualityLabel = "medium"
	QualityStrong QualityLabel = "strong"
)

// Event is an inferred liquidation. Events are recomputed from trade state on every
// ingestion and are never stored as engine state.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Side      Side      `json:"side"`
	Coin      string    `json:"coin"`
	Price     float64   `json:"price"`
	UsdValue  float64   `json:"usd_value"`
}

// Raw holds per-cluster aggregates before scoring
type Raw struct {
	PriceMean    float64
	PriceMin     float64
	PriceMax     float64
	TotalUSD     float64
	Count        int
	FirstTs      time.Time
	LastTs       time.Time
	DominantSide Side
}

// SpreadPct is the relative width of the clustered price range
func (r Raw) SpreadPct() float64 {
	if r.PriceMean == 0 {
		return 0
	}
	return (r.PriceMax - r.PriceMin) / r.PriceMean
}

// Prediction is the hold/break forecast attached to a zone
type Prediction struct {
	HoldProbability  float64 `json:"hold_probability"`
	BreakProbability float64 `json:"break_probability"`
	Confidence       float64 `json:"prediction_confidence"`
	Outcome          string  `json:"ml_prediction"` // HOLD or BREAK
}

// Zone is a scored and banded liquidation cluster
type Zone struct {
	Coin         string    `json:"coin"`
	PriceMean    float64   `json:"price_mean"`
	PriceMin     float64   `json:"price_min"`
	PriceMax     float64   `json:"price_max"`
	TotalUSD     float64   `json:"total_usd"`
	Count        int       `json:"count"`
	FirstTs      time.Time `json:"first_ts"`
	LastTs       time.Time `json:"last_ts"`
	DominantSide Side      `json:"dominant_side"`

	Strength     float64      `json:"strength"`
	QualityScore float64      `json:"quality_score"`
	QualityLabel QualityLabel `json:"quality_label"`

	ATR       float64 `json:"atr"`
	Band      float64 `json:"band"`
	BandPct   float64 `json:"band_pct"`
	EntryLow  float64 `json:"entry_low"`
	EntryHigh float64 `json:"entry_high"`

	// multi-timeframe
	Timeframe      string  `json:"timeframe,omitempty"`
	AlignmentScore float64 `json:"alignment_score,omitempty"`

	// confirmed liquidations that landed inside the band
	ConfirmedCount int     `json:"confirmed_count,omitempty"`
	ConfirmedUSD   float64 `json:"confirmed_usd,omitempty"`

	Prediction *Prediction `json:"prediction,omitempty"`
}

// ID buckets the zone by its mean price rounded to the nearest $10.
// A zone whose mean drifts across a bucket boundary gets a new identity.
func (z Zone) ID() string {
	return BucketID(z.PriceMean)
}

// BucketID returns the $10 bucket identity for a price
func BucketID(price float64) string {
	return strconv.Itoa(int(math.RoundToEven(price/10)) * 10)
}

// PriceKey is the whole-dollar key used for touch counters
func PriceKey(price float64) string {
	return fmt.Sprintf("%.0f", price)
}

// SpreadPct is the relative width of the clustered price range
func (z Zone) SpreadPct() float64 {
	if z.PriceMean <= 0 {
		return 0
	}
	return (z.PriceMax - z.PriceMin) / z.PriceMean
}

// Contains reports whether price falls inside the entry band
func (z Zone) Contains(price float64) bool {
	return price >= z.EntryLow && price <= z.EntryHigh
}

// Scored reports whether quality has been computed for the zone
func (z Zone) Scored() bool {
	return z.QualityLabel != ""
}

// LifecycleEventKind is the streaming transition a zone went through
type LifecycleEventKind string

const (
	EventFormed  LifecycleEventKind = "formed"
	EventUpdated LifecycleEventKind = "updated"
	EventBroken  LifecycleEventKind = "broken"
)

// LifecycleEvent records one streaming transition
type LifecycleEvent struct {
	ID       uuid.UUID          `json:"id"`
	Kind     LifecycleEventKind `json:"kind"`
	Coin     string             `json:"coin"`
	ZoneID   string             `json:"zone_id"`
	Zone     Zone               `json:"zone"`
	Previous *Zone              `json:"previous,omitempty"`
	At       time.Time          `json:"at"`
}

// Outcome of a zone once price revisited it
const (
	OutcomeBroke = 0
	OutcomeHeld  = 1
)

// LifecycleRecord is a labelled zone observation used to train the predictor
type LifecycleRecord struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Coin         string     `json:"coin" db:"coin"`
	Zone         Zone       `json:"zone" db:"-"`
	CurrentPrice float64    `json:"current_price" db:"current_price"`
	CurrentTime  time.Time  `json:"current_time" db:"evaluated_at"`
	Outcome      int        `json:"outcome" db:"outcome"`
	TouchCount   int        `json:"touch_count" db:"touch_count"`
	FundingRate  float64    `json:"funding_rate" db:"funding_rate"`
	BrokenAt     *time.Time `json:"broken_at,omitempty" db:"broken_at"`
}

// Held reports whether the zone held
func (r LifecycleRecord) Held() bool {
	return r.Outcome == OutcomeHeld
}

// HistoryPoint is an average band width measurement
type HistoryPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	AvgBandWidth float64   `json:"avg_band_width"`
}
