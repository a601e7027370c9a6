package websocket

import (
	"context"
	"time"
)

// StreamType defines the type of WebSocket stream
type StreamType string
type Interval string

const (
	StreamTypeKline       StreamType = "kline"
	StreamTypeTrade       StreamType = "trade"
	StreamTypeMarkPrice   StreamType = "markPrice"
	StreamTypeLiquidation StreamType = "liquidation"
)

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// StreamConfig defines configuration for a single WebSocket stream.
// Symbols are exchange-native (BTCUSDT for Binance and Bybit).
type StreamConfig struct {
	Type     StreamType
	Symbol   string
	Interval Interval // kline only
}

// ConnectionConfig defines configuration for WebSocket connection
type ConnectionConfig struct {
	Streams          []StreamConfig
	ReconnectBackoff time.Duration
	MaxReconnects    int
	PingInterval     time.Duration
}

// TradeEvent is a single aggregated public trade
type TradeEvent struct {
	Exchange     string
	Symbol       string
	TradeID      int64
	Price        string
	Quantity     string
	TradeTime    time.Time
	IsBuyerMaker bool
	EventTime    time.Time
}

// MarkPriceEvent carries mark price, funding and, where the venue streams it, open interest.
// OpenInterest is empty when the exchange does not provide it on this channel.
type MarkPriceEvent struct {
	Exchange        string
	Symbol          string
	MarkPrice       string
	IndexPrice      string
	FundingRate     string
	OpenInterest    string
	NextFundingTime time.Time
	EventTime       time.Time
}

// LiquidationEvent represents a forced order. Side is the order side
// (SELL closes a long, BUY closes a short).
type LiquidationEvent struct {
	Exchange  string
	Symbol    string
	Side      string
	Price     string
	Quantity  string
	EventTime time.Time
}

// KlineEvent represents a candlestick update
type KlineEvent struct {
	Exchange  string
	Symbol    string
	Interval  string
	OpenTime  time.Time
	CloseTime time.Time
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	IsFinal   bool
	EventTime time.Time
}

// Client defines the interface for exchange WebSocket clients
type Client interface {
	// Connect establishes WebSocket connection(s) based on config
	Connect(ctx context.Context, config ConnectionConfig) error

	// Start begins receiving events and publishing them to handlers
	Start(ctx context.Context) error

	// Stop gracefully closes all connections
	Stop(ctx context.Context) error

	IsConnected() bool
	GetStats() Stats
}

// Stats represents WebSocket client statistics
type Stats struct {
	ConnectedSince   time.Time
	ReconnectCount   int
	MessagesReceived int64
	ErrorCount       int64
	LastError        error
	ActiveStreams    int
}

// EventHandler is called when events are received from WebSocket
type EventHandler interface {
	OnTrade(event *TradeEvent) error
	OnMarkPrice(event *MarkPriceEvent) error
	OnLiquidation(event *LiquidationEvent) error
	OnKline(event *KlineEvent) error
	OnError(err error)
}
