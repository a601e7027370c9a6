package liquidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiquidation_Value(t *testing.T) {
	assert.InDelta(t, 500.0, Liquidation{Price: 100, Quantity: 5}.Value(), 1e-9)
	assert.InDelta(t, 42.0, Liquidation{Price: 100, Quantity: 5, ValueUSD: 42}.Value(), 1e-9)
}

func TestPositionSide(t *testing.T) {
	assert.Equal(t, "long", PositionSide("SELL"))
	assert.Equal(t, "short", PositionSide("Buy"))
	assert.Equal(t, "long", PositionSide("long"))
}
