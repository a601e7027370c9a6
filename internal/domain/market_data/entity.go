package market_data

import "time"

// Side is the aggressor side of a trade
type Side string

const (
	SideAsk Side = "A" // ask-aggressor, taker sold into bids
	SideBid Side = "B" // bid-aggressor, taker bought from asks
)

// Trade is the normalized public trade every exchange adapter produces
type Trade struct {
	Timestamp time.Time `ch:"timestamp" json:"time"`
	Price     float64   `ch:"price" json:"price"`
	Size      float64   `ch:"size" json:"size"`
	Side      Side      `ch:"side" json:"side"`
	Symbol    string    `ch:"symbol" json:"symbol"`
}

// UsdValue returns the notional of the trade
func (t Trade) UsdValue() float64 {
	return t.Price * t.Size
}

// Valid reports whether the trade can be fed to the engine
func (t Trade) Valid() bool {
	return !t.Timestamp.IsZero() && t.Price > 0 && t.Size > 0
}

// FundingSnapshot carries funding rate and open interest for a symbol.
// Only the most recent snapshot per symbol is retained.
type FundingSnapshot struct {
	Symbol       string    `json:"symbol"`
	FundingRate  float64   `json:"funding_rate"`
	OpenInterest float64   `json:"open_interest"` // 0 when the source has no OI
	Timestamp    time.Time `json:"timestamp"`
}

// Candle is an OHLCV bar used for volatility banding
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}
