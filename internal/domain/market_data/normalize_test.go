package market_data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/pkg/errors"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTCUSDT", "BTC"},
		{"BTC-USDT", "BTC"},
		{"btc_usdt", "BTC"},
		{"ETH/USD", "ETH"},
		{"SOL-PERP", "SOL"},
		{"XBTUSD", "BTC"},
		{"BTC", "BTC"},
		{"BTCUSDTPERP", "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSymbol(tt.in))
		})
	}
}

func TestFromExchange(t *testing.T) {
	coin, err := FromExchange("Binance", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ETH", coin)

	_, err = FromExchange("nowhere", "ETHUSDT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedExchange))
	assert.True(t, errors.IsValidation(err))
}

func TestParseDecimal(t *testing.T) {
	v, err := ParseDecimal("80012.50")
	require.NoError(t, err)
	assert.InDelta(t, 80012.5, v, 1e-9)

	_, err = ParseDecimal("abc")
	assert.Error(t, err)
}

func TestParseSide(t *testing.T) {
	assert.Equal(t, SideAsk, ParseSide("Sell"))
	assert.Equal(t, SideBid, ParseSide("buy"))
	assert.Equal(t, SideAsk, ParseSide("A"))
	assert.Equal(t, Side("X"), ParseSide("X"))
}

func TestTrade_UsdValue(t *testing.T) {
	tr := Trade{Price: 80000, Size: 0.5}
	assert.InDelta(t, 40000, tr.UsdValue(), 1e-9)
	assert.False(t, tr.Valid())
}
