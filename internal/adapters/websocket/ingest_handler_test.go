package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liqzones/internal/domain/liquidation"
	"liqzones/internal/domain/market_data"
	"liqzones/pkg/logger"
)

type recordingSink struct {
	trades  []market_data.Trade
	funding []market_data.FundingSnapshot
	liqs    []liquidation.Liquidation
	candles map[string][]market_data.Candle
}

func (s *recordingSink) AddTrades(trades ...market_data.Trade) { s.trades = append(s.trades, trades...) }
func (s *recordingSink) AddFunding(snapshots ...market_data.FundingSnapshot) {
	s.funding = append(s.funding, snapshots...)
}
func (s *recordingSink) AddLiquidations(liqs ...liquidation.Liquidation) {
	s.liqs = append(s.liqs, liqs...)
}
func (s *recordingSink) AddCandle(coin string, c market_data.Candle) {
	if s.candles == nil {
		s.candles = map[string][]market_data.Candle{}
	}
	s.candles[coin] = append(s.candles[coin], c)
}

type recordingPublisher struct {
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ string, _ interface{}) error {
	p.topics = append(p.topics, topic)
	return p.err
}

func newTestLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

var eventTime = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

func TestIngestHandler_OnTrade(t *testing.T) {
	sink := &recordingSink{}
	pub := &recordingPublisher{err: errors.New("kafka down")}
	h := NewIngestHandler(sink, IngestHandlerConfig{TradeTopic: "market.trades", TradePublisher: pub}, newTestLogger())

	err := h.OnTrade(&TradeEvent{
		Exchange:     "binance",
		Symbol:       "BTCUSDT",
		Price:        "64000.10",
		Quantity:     "0.250",
		TradeTime:    eventTime,
		IsBuyerMaker: true,
	})
	require.NoError(t, err, "forwarding failures do not fail ingestion")

	require.Len(t, sink.trades, 1)
	tr := sink.trades[0]
	assert.Equal(t, "BTC", tr.Symbol)
	assert.Equal(t, market_data.SideAsk, tr.Side)
	assert.InDelta(t, 64000.10, tr.Price, 1e-9)
	assert.Equal(t, []string{"market.trades"}, pub.topics)
}

func TestIngestHandler_OnTrade_Invalid(t *testing.T) {
	sink := &recordingSink{}
	h := NewIngestHandler(sink, IngestHandlerConfig{}, newTestLogger())

	assert.Error(t, h.OnTrade(&TradeEvent{Exchange: "nowhere", Symbol: "BTCUSDT", Price: "1", Quantity: "1"}))
	assert.Error(t, h.OnTrade(&TradeEvent{Exchange: "binance", Symbol: "BTCUSDT", Price: "abc", Quantity: "1"}))

	require.NoError(t, h.OnTrade(&TradeEvent{Exchange: "binance", Symbol: "BTCUSDT", Price: "0", Quantity: "1", TradeTime: eventTime}))
	assert.Empty(t, sink.trades, "zero price is dropped")
}

func TestIngestHandler_OnMarkPrice(t *testing.T) {
	sink := &recordingSink{}
	h := NewIngestHandler(sink, IngestHandlerConfig{}, newTestLogger())

	require.NoError(t, h.OnMarkPrice(&MarkPriceEvent{Exchange: "binance", Symbol: "ETHUSDT", MarkPrice: "3000"}))
	assert.Empty(t, sink.funding, "no funding rate, nothing to store")

	require.NoError(t, h.OnMarkPrice(&MarkPriceEvent{
		Exchange:     "bybit",
		Symbol:       "ETHUSDT",
		FundingRate:  "-0.0012",
		OpenInterest: "152000.5",
		EventTime:    eventTime,
	}))
	require.Len(t, sink.funding, 1)
	assert.Equal(t, "ETH", sink.funding[0].Symbol)
	assert.InDelta(t, -0.0012, sink.funding[0].FundingRate, 1e-12)
	assert.InDelta(t, 152000.5, sink.funding[0].OpenInterest, 1e-9)
}

func TestIngestHandler_OnLiquidation(t *testing.T) {
	sink := &recordingSink{}
	var stored []liquidation.Liquidation
	h := NewIngestHandler(sink, IngestHandlerConfig{
		StoreLiquidations: func(_ context.Context, liqs ...liquidation.Liquidation) error {
			stored = append(stored, liqs...)
			return nil
		},
	}, newTestLogger())

	require.NoError(t, h.OnLiquidation(&LiquidationEvent{
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Side:      "SELL",
		Price:     "60000",
		Quantity:  "2",
		EventTime: eventTime,
	}))

	require.Len(t, sink.liqs, 1)
	assert.Equal(t, "long", sink.liqs[0].Side)
	assert.Equal(t, "BTC", sink.liqs[0].Symbol)
	assert.Equal(t, 120000.0, sink.liqs[0].ValueUSD)
	assert.Len(t, stored, 1)
}

func TestIngestHandler_OnKline(t *testing.T) {
	sink := &recordingSink{}
	h := NewIngestHandler(sink, IngestHandlerConfig{KlineInterval: "1m"}, newTestLogger())

	kline := KlineEvent{
		Exchange: "binance", Symbol: "BTCUSDT", Interval: "1m", OpenTime: eventTime,
		Open: "100", High: "110", Low: "95", Close: "105", Volume: "12",
	}

	open := kline
	require.NoError(t, h.OnKline(&open))

	other := kline
	other.IsFinal, other.Interval = true, "5m"
	require.NoError(t, h.OnKline(&other))
	assert.Empty(t, sink.candles)

	final := kline
	final.IsFinal = true
	require.NoError(t, h.OnKline(&final))
	require.Len(t, sink.candles["BTC"], 1)
	assert.Equal(t, 110.0, sink.candles["BTC"][0].High)

	bad := final
	bad.Close = ""
	assert.Error(t, h.OnKline(&bad))
}
