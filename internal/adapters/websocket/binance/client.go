package binance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"liqzones/internal/adapters/websocket"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

const stopTimeout = 10 * time.Second

// Client implements websocket.Client for Binance USD-M futures public streams
type Client struct {
	exchange   string
	handler    websocket.EventHandler
	config     websocket.ConnectionConfig
	useTestnet bool

	mu           sync.RWMutex
	connected    atomic.Bool
	stopping     atomic.Bool // set before stop signals so handlers stop publishing
	stopChannels []chan struct{}
	doneChannels []chan struct{}

	stats            websocket.Stats
	statsMu          sync.RWMutex
	messagesReceived atomic.Int64
	errorCount       atomic.Int64
	reconnectCount   atomic.Int32

	logger *logger.Logger
}

var _ websocket.Client = (*Client)(nil)

// NewClient creates a new Binance futures WebSocket client
func NewClient(exchange string, handler websocket.EventHandler, useTestnet bool, log *logger.Logger) *Client {
	return &Client{
		exchange:   exchange,
		handler:    handler,
		useTestnet: useTestnet,
		logger:     log,
	}
}

// Connect opens one combined connection per stream type
func (c *Client) Connect(ctx context.Context, config websocket.ConnectionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return errors.New("client already connected")
	}

	c.config = config
	c.stopping.Store(false)
	futures.UseTestnet = c.useTestnet

	c.logger.Infow("Connecting to Binance WebSocket streams",
		"exchange", c.exchange,
		"stream_count", len(config.Streams),
		"testnet", c.useTestnet,
	)

	klineStreams := make(map[string][]string) // symbol -> []interval
	var tradeSymbols, markPriceSymbols, liquidationSymbols []string

	for _, stream := range config.Streams {
		switch stream.Type {
		case websocket.StreamTypeKline:
			klineStreams[stream.Symbol] = append(klineStreams[stream.Symbol], string(stream.Interval))
		case websocket.StreamTypeTrade:
			tradeSymbols = append(tradeSymbols, stream.Symbol)
		case websocket.StreamTypeMarkPrice:
			markPriceSymbols = append(markPriceSymbols, stream.Symbol)
		case websocket.StreamTypeLiquidation:
			liquidationSymbols = append(liquidationSymbols, stream.Symbol)
		default:
			c.logger.Warnw("Unsupported stream type", "type", stream.Type, "symbol", stream.Symbol)
		}
	}

	if len(tradeSymbols) > 0 {
		if err := c.connectAggTradeStreams(tradeSymbols); err != nil {
			c.closeStreamsLocked()
			return err
		}
	}
	if len(markPriceSymbols) > 0 {
		if err := c.connectMarkPriceStreams(markPriceSymbols); err != nil {
			c.closeStreamsLocked()
			return err
		}
	}
	if len(liquidationSymbols) > 0 {
		if err := c.connectLiquidationStreams(liquidationSymbols); err != nil {
			c.closeStreamsLocked()
			return err
		}
	}
	if len(klineStreams) > 0 {
		if err := c.connectKlineStreams(klineStreams); err != nil {
			c.closeStreamsLocked()
			return err
		}
	}

	c.connected.Store(true)
	c.statsMu.Lock()
	c.stats.ConnectedSince = time.Now()
	c.stats.ActiveStreams = len(c.stopChannels)
	c.statsMu.Unlock()

	return nil
}

// errHandler builds the shared error callback for one stream kind
func (c *Client) errHandler(kind string) futures.ErrHandler {
	return func(err error) {
		c.errorCount.Add(1)
		c.statsMu.Lock()
		c.stats.LastError = err
		c.statsMu.Unlock()

		c.logger.Errorw("Binance WebSocket error",
			"exchange", c.exchange,
			"stream", kind,
			"error", err.Error(),
		)

		if c.handler != nil {
			c.handler.OnError(errors.Wrapf(err, "binance %s stream", kind))
		}
	}
}

// accept counts an incoming message and reports whether it should reach the handler
func (c *Client) accept() bool {
	c.messagesReceived.Add(1)
	return !c.stopping.Load() && c.handler != nil
}

func (c *Client) handleErr(kind, symbol string, err error) {
	if err == nil {
		return
	}
	c.errorCount.Add(1)
	c.logger.Errorw("Failed to handle event",
		"exchange", c.exchange,
		"stream", kind,
		"symbol", symbol,
		"error", err.Error(),
	)
}

func (c *Client) track(doneC, stopC chan struct{}) {
	c.stopChannels = append(c.stopChannels, stopC)
	c.doneChannels = append(c.doneChannels, doneC)
}

func (c *Client) connectAggTradeStreams(symbols []string) error {
	handler := func(event *futures.WsAggTradeEvent) {
		if !c.accept() {
			return
		}
		c.handleErr("aggTrade", event.Symbol, c.handler.OnTrade(c.convertAggTradeEvent(event)))
	}

	doneC, stopC, err := futures.WsCombinedAggTradeServe(symbols, handler, c.errHandler("aggTrade"))
	if err != nil {
		return errors.Wrap(err, "failed to start agg trade WebSocket")
	}
	c.track(doneC, stopC)

	c.logger.Infow("Connected to agg trade streams", "exchange", c.exchange, "symbols", len(symbols))
	return nil
}

func (c *Client) connectMarkPriceStreams(symbols []string) error {
	handler := func(event *futures.WsMarkPriceEvent) {
		if !c.accept() {
			return
		}
		c.handleErr("markPrice", event.Symbol, c.handler.OnMarkPrice(c.convertMarkPriceEvent(event)))
	}

	doneC, stopC, err := futures.WsCombinedMarkPriceServe(symbols, handler, c.errHandler("markPrice"))
	if err != nil {
		return errors.Wrap(err, "failed to start mark price WebSocket")
	}
	c.track(doneC, stopC)

	c.logger.Infow("Connected to mark price streams", "exchange", c.exchange, "symbols", len(symbols))
	return nil
}

// connectLiquidationStreams opens one forceOrder stream per symbol
func (c *Client) connectLiquidationStreams(symbols []string) error {
	handler := func(event *futures.WsLiquidationOrderEvent) {
		if !c.accept() {
			return
		}
		c.handleErr("forceOrder", event.LiquidationOrder.Symbol, c.handler.OnLiquidation(c.convertLiquidationEvent(event)))
	}

	for _, symbol := range symbols {
		doneC, stopC, err := futures.WsLiquidationOrderServe(symbol, handler, c.errHandler("forceOrder"))
		if err != nil {
			return errors.Wrapf(err, "failed to start liquidation WebSocket for %s", symbol)
		}
		c.track(doneC, stopC)
	}

	c.logger.Infow("Connected to liquidation streams", "exchange", c.exchange, "symbols", len(symbols))
	return nil
}

func (c *Client) connectKlineStreams(symbolIntervals map[string][]string) error {
	handler := func(event *futures.WsKlineEvent) {
		if !c.accept() {
			return
		}
		c.handleErr("kline", event.Symbol, c.handler.OnKline(c.convertKlineEvent(event)))
	}

	doneC, stopC, err := futures.WsCombinedKlineServeMultiInterval(symbolIntervals, handler, c.errHandler("kline"))
	if err != nil {
		return errors.Wrap(err, "failed to start kline WebSocket")
	}
	c.track(doneC, stopC)

	c.logger.Infow("Connected to kline streams", "exchange", c.exchange, "symbols", len(symbolIntervals))
	return nil
}

func (c *Client) convertAggTradeEvent(event *futures.WsAggTradeEvent) *websocket.TradeEvent {
	return &websocket.TradeEvent{
		Exchange:     c.exchange,
		Symbol:       event.Symbol,
		TradeID:      event.AggregateTradeID,
		Price:        event.Price,
		Quantity:     event.Quantity,
		TradeTime:    time.UnixMilli(event.TradeTime),
		IsBuyerMaker: event.Maker,
		EventTime:    time.UnixMilli(event.Time),
	}
}

func (c *Client) convertMarkPriceEvent(event *futures.WsMarkPriceEvent) *websocket.MarkPriceEvent {
	return &websocket.MarkPriceEvent{
		Exchange:        c.exchange,
		Symbol:          event.Symbol,
		MarkPrice:       event.MarkPrice,
		IndexPrice:      event.IndexPrice,
		FundingRate:     event.FundingRate,
		NextFundingTime: time.UnixMilli(event.NextFundingTime),
		EventTime:       time.UnixMilli(event.Time),
	}
}

func (c *Client) convertLiquidationEvent(event *futures.WsLiquidationOrderEvent) *websocket.LiquidationEvent {
	order := event.LiquidationOrder
	price := order.AvgPrice
	if price == "" || price == "0" {
		price = order.Price
	}
	return &websocket.LiquidationEvent{
		Exchange:  c.exchange,
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		Price:     price,
		Quantity:  order.OrigQuantity,
		EventTime: time.UnixMilli(order.TradeTime),
	}
}

func (c *Client) convertKlineEvent(event *futures.WsKlineEvent) *websocket.KlineEvent {
	k := event.Kline
	return &websocket.KlineEvent{
		Exchange:  c.exchange,
		Symbol:    event.Symbol,
		Interval:  k.Interval,
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
		IsFinal:   k.IsFinal,
		EventTime: time.UnixMilli(event.Time),
	}
}

// Start begins receiving events (streams are already running after Connect)
func (c *Client) Start(ctx context.Context) error {
	if !c.connected.Load() {
		return errors.ErrWSNotConnected
	}

	c.logger.Infow("WebSocket client started", "exchange", c.exchange)

	go func() {
		<-ctx.Done()
		if err := c.Stop(context.Background()); err != nil {
			c.logger.Errorw("Error stopping WebSocket client", "exchange", c.exchange, "error", err.Error())
		}
	}()

	return nil
}

// Stop gracefully closes all WebSocket connections
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return nil
	}

	c.logger.Infow("Stopping WebSocket client", "exchange", c.exchange, "active_streams", len(c.stopChannels))

	if err := c.closeStreamsLocked(); err != nil {
		return err
	}

	c.connected.Store(false)
	c.logger.Infow("WebSocket client stopped", "exchange", c.exchange)
	return nil
}

// closeStreamsLocked signals every stream and waits for its done channel
func (c *Client) closeStreamsLocked() error {
	c.stopping.Store(true)

	for _, stopC := range c.stopChannels {
		select {
		case stopC <- struct{}{}:
		default:
			close(stopC)
		}
	}

	done := make(chan struct{})
	doneChannels := c.doneChannels
	go func() {
		for _, doneC := range doneChannels {
			<-doneC
		}
		close(done)
	}()

	c.stopChannels = nil
	c.doneChannels = nil

	select {
	case <-done:
		return nil
	case <-time.After(stopTimeout):
		c.logger.Errorw("WebSocket stop timeout, some streams may still be running",
			"exchange", c.exchange,
			"timeout", stopTimeout,
		)
		return errors.Wrap(errors.ErrTimeout, "websocket stop")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// GetStats returns current statistics
func (c *Client) GetStats() websocket.Stats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	stats := c.stats
	stats.MessagesReceived = c.messagesReceived.Load()
	stats.ErrorCount = c.errorCount.Load()
	stats.ReconnectCount = int(c.reconnectCount.Load())
	return stats
}
