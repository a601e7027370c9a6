package consumers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	kafkaadapter "liqzones/internal/adapters/kafka"
	"liqzones/internal/domain/market_data"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

const (
	tradeBatchSize     = 500
	tradeFlushInterval = time.Second
	tradeStatsInterval = time.Minute
)

// TradeSink receives decoded trades, feed.Buffer implements it
type TradeSink interface {
	AddTrades(trades ...market_data.Trade)
}

// MessageSource is the part of kafka.Consumer the trade consumer reads from
type MessageSource interface {
	Consume(ctx context.Context, handler kafkaadapter.MessageHandler) error
	Close() error
}

// tradeMessage is the wire form of a trade on the market trades topic
type tradeMessage struct {
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
	Side   string    `json:"side"`
	Symbol string    `json:"symbol"`
}

// TradeConsumer reads normalized trades from Kafka and batches them into the feed
type TradeConsumer struct {
	source MessageSource
	sink   TradeSink
	log    *logger.Logger

	mu    sync.Mutex
	batch []market_data.Trade

	received, invalid, flushed int64
	lastStats                  time.Time
}

// NewTradeConsumer creates a new trade consumer
func NewTradeConsumer(source MessageSource, sink TradeSink, log *logger.Logger) *TradeConsumer {
	return &TradeConsumer{
		source:    source,
		sink:      sink,
		log:       log.With("component", "trade_consumer"),
		batch:     make([]market_data.Trade, 0, tradeBatchSize),
		lastStats: time.Now(),
	}
}

// Start consumes until ctx is cancelled
func (c *TradeConsumer) Start(ctx context.Context) error {
	lifecycle := NewBatchConsumerLifecycle(BatchConsumerConfig{
		ConsumerName:  "Trade Consumer",
		FlushInterval: tradeFlushInterval,
		StatsInterval: tradeStatsInterval,
		Logger:        c.log,
	}, c.source, c)

	cleanup := lifecycle.Start(ctx)
	defer cleanup()
	lifecycle.StartBackgroundWorkers(ctx)

	err := c.source.Consume(ctx, c.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleMessage decodes one trade and flushes when the batch is full
func (c *TradeConsumer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	trade, err := DecodeTrade(msg.Value)

	c.mu.Lock()
	c.received++
	if err != nil {
		c.invalid++
		c.mu.Unlock()
		return err
	}
	c.batch = append(c.batch, trade)
	full := len(c.batch) >= tradeBatchSize
	c.mu.Unlock()

	if full {
		return c.FlushBatch(ctx)
	}
	return nil
}

// FlushBatch implements BatchConsumer
func (c *TradeConsumer) FlushBatch(_ context.Context) error {
	c.mu.Lock()
	if len(c.batch) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.batch
	c.batch = make([]market_data.Trade, 0, tradeBatchSize)
	c.flushed += int64(len(batch))
	c.mu.Unlock()

	c.sink.AddTrades(batch...)
	return nil
}

// LogStats implements BatchConsumer
func (c *TradeConsumer) LogStats(final bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := "Trade consumer stats"
	if final {
		msg = "Trade consumer final stats"
	}
	elapsed := time.Since(c.lastStats).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(c.received) / elapsed
	}
	c.log.Infow(msg,
		"received", c.received,
		"invalid", c.invalid,
		"flushed", c.flushed,
		"pending", len(c.batch),
		"msg_per_sec", rate,
	)
	c.received, c.invalid, c.flushed = 0, 0, 0
	c.lastStats = time.Now()
}

// DecodeTrade parses a trade message and normalizes its symbol and side
func DecodeTrade(data []byte) (market_data.Trade, error) {
	var m tradeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return market_data.Trade{}, errors.Wrap(err, "failed to decode trade")
	}

	trade := market_data.Trade{
		Timestamp: m.Time.UTC(),
		Price:     m.Price,
		Size:      m.Size,
		Side:      market_data.ParseSide(m.Side),
		Symbol:    market_data.NormalizeSymbol(m.Symbol),
	}
	if !trade.Valid() || trade.Symbol == "" {
		return market_data.Trade{}, errors.NewValidationError("trade", "missing time, price, size or symbol", m)
	}
	return trade, nil
}
