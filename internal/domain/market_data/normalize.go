package market_data

import (
	"strings"

	"github.com/shopspring/decimal"

	"liqzones/pkg/errors"
)

var supportedExchanges = map[string]struct{}{
	"hyperliquid": {}, "binance": {}, "coinbase": {}, "bybit": {}, "kraken": {},
	"okx": {}, "htx": {}, "huobi": {}, "gateio": {}, "gate": {}, "mexc": {},
	"bitmex": {}, "deribit": {}, "bitfinex": {}, "kucoin": {}, "phemex": {},
	"bitget": {}, "cryptocom": {}, "crypto.com": {}, "bingx": {}, "bitstamp": {},
	"gemini": {}, "poloniex": {},
}

// quote and contract suffixes stripped from venue symbols, longest first
var symbolSuffixes = []string{"PERP", "USDT", "USD"}

// IsSupportedExchange reports whether symbols from this venue can be normalized
func IsSupportedExchange(exchange string) bool {
	_, ok := supportedExchanges[strings.ToLower(strings.TrimSpace(exchange))]
	return ok
}

// NormalizeSymbol maps a venue symbol to the coin tag used by the engine.
// BTC-USDT, BTC_USDT, BTCUSDT, btc-perp and XBTUSD all become BTC.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("-", "", "/", "", "_", "").Replace(s)

	for stripped := true; stripped; {
		stripped = false
		for _, suffix := range symbolSuffixes {
			if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				stripped = true
				break
			}
		}
	}

	if s == "XBT" {
		return "BTC"
	}
	return s
}

// FromExchange normalizes a symbol after checking the venue is supported
func FromExchange(exchange, symbol string) (string, error) {
	if !IsSupportedExchange(exchange) {
		return "", errors.NewKindValidationError(errors.ErrUnsupportedExchange, "exchange", "unsupported exchange", exchange)
	}
	return NormalizeSymbol(symbol), nil
}

// ParseDecimal converts an exchange decimal string into a float64.
// Exchanges send prices and quantities as strings to keep precision on the wire.
func ParseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "parse decimal %q", s)
	}
	return d.InexactFloat64(), nil
}

// ParseSide maps venue side spellings to an aggressor side.
// Sell, ask and A mean the taker sold.
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "ASK", "SELL", "S":
		return SideAsk
	case "B", "BID", "BUY":
		return SideBid
	default:
		return Side(s)
	}
}
