package liquidation

import "time"

// Liquidation is a confirmed forced order reported by an exchange
type Liquidation struct {
	Exchange  string    `ch:"exchange" json:"exchange"`
	Symbol    string    `ch:"symbol" json:"symbol"`
	Timestamp time.Time `ch:"timestamp" json:"timestamp"`

	Side     string  `ch:"side" json:"side"` // long, short
	Price    float64 `ch:"price" json:"price"`
	Quantity float64 `ch:"quantity" json:"quantity"`
	ValueUSD float64 `ch:"value_usd" json:"value_usd"`
}

// Value returns the USD notional, falling back to price * quantity when the venue omits it
func (l Liquidation) Value() float64 {
	if l.ValueUSD > 0 {
		return l.ValueUSD
	}
	return l.Price * l.Quantity
}

// PositionSide maps the side of the forced order to the side of the liquidated position.
// A forced SELL closes a long, a forced BUY closes a short.
func PositionSide(orderSide string) string {
	switch orderSide {
	case "SELL", "Sell", "sell":
		return "long"
	case "BUY", "Buy", "buy":
		return "short"
	default:
		return orderSide
	}
}
