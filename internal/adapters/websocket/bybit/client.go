package bybit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	bybitws "github.com/hirokisan/bybit/v2"

	"liqzones/internal/adapters/websocket"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

const (
	mainnetURL = "wss://stream.bybit.com"
	testnetURL = "wss://stream-testnet.bybit.com"
)

// Client implements websocket.Client for Bybit linear perpetuals.
// Tickers (mark price, funding, open interest) go through hirokisan/bybit;
// public trades and liquidations go through a raw topic stream.
type Client struct {
	exchange string
	handler  websocket.EventHandler
	config   websocket.ConnectionConfig
	testnet  bool

	wsClient *bybitws.WebSocketClient
	wsPublic bybitws.V5WebsocketPublicServiceI
	topics   *topicStream

	mu        sync.RWMutex
	connected atomic.Bool
	stopping  atomic.Bool
	doneChan  chan struct{}

	stats            websocket.Stats
	statsMu          sync.RWMutex
	messagesReceived atomic.Int64
	errorCount       atomic.Int64
	reconnectCount   atomic.Int32

	logger *logger.Logger
}

var _ websocket.Client = (*Client)(nil)

// NewClient creates a new Bybit WebSocket client
func NewClient(exchange string, handler websocket.EventHandler, testnet bool, log *logger.Logger) *Client {
	return &Client{
		exchange: exchange,
		handler:  handler,
		testnet:  testnet,
		logger:   log,
	}
}

func (c *Client) baseURL() string {
	if c.testnet {
		return testnetURL
	}
	return mainnetURL
}

// Connect subscribes to every configured stream
func (c *Client) Connect(ctx context.Context, config websocket.ConnectionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return errors.New("client already connected")
	}

	c.config = config
	c.stopping.Store(false)
	c.doneChan = make(chan struct{})

	c.logger.Infow("Connecting to Bybit WebSocket streams",
		"exchange", c.exchange,
		"stream_count", len(config.Streams),
		"testnet", c.testnet,
	)

	var tickerSymbols []bybitws.SymbolV5
	var topics []string

	for _, stream := range config.Streams {
		switch stream.Type {
		case websocket.StreamTypeMarkPrice:
			tickerSymbols = append(tickerSymbols, bybitws.SymbolV5(stream.Symbol))
		case websocket.StreamTypeTrade:
			topics = append(topics, "publicTrade."+stream.Symbol)
		case websocket.StreamTypeLiquidation:
			topics = append(topics, "allLiquidation."+stream.Symbol)
		default:
			c.logger.Warnw("Stream type not supported for Bybit", "type", stream.Type)
		}
	}

	if len(tickerSymbols) > 0 {
		if err := c.subscribeToTickers(tickerSymbols); err != nil {
			return errors.Wrap(err, "failed to subscribe to tickers")
		}
	}

	if len(topics) > 0 {
		c.topics = newTopicStream(c.baseURL()+"/v5/public/linear", topics, config.PingInterval, c.logger)
		if err := c.topics.dial(ctx); err != nil {
			return errors.Wrap(err, "failed to open topic stream")
		}
	}

	c.connected.Store(true)
	c.statsMu.Lock()
	c.stats.ConnectedSince = time.Now()
	c.stats.ActiveStreams = len(config.Streams)
	c.statsMu.Unlock()

	return nil
}

func (c *Client) subscribeToTickers(symbols []bybitws.SymbolV5) error {
	c.wsClient = bybitws.NewWebsocketClient().WithBaseURL(c.baseURL())

	svc, err := c.wsClient.V5().Public(bybitws.CategoryV5Linear)
	if err != nil {
		return errors.Wrap(err, "failed to create V5 public service")
	}
	c.wsPublic = svc

	for _, symbol := range symbols {
		if _, err := svc.SubscribeTicker(
			bybitws.V5WebsocketPublicTickerParamKey{Symbol: symbol},
			c.handleTickerMessage,
		); err != nil {
			return errors.Wrapf(err, "failed to subscribe to ticker for %s", symbol)
		}
		c.logger.Debugw("Subscribed to ticker", "symbol", symbol)
	}
	return nil
}

// handleTickerMessage converts ticker snapshots into mark price events.
// Deltas only carry changed fields and are skipped.
func (c *Client) handleTickerMessage(response bybitws.V5WebsocketPublicTickerResponse) error {
	c.messagesReceived.Add(1)

	if c.stopping.Load() || c.handler == nil {
		return nil
	}
	if response.Type != "snapshot" || response.Data.LinearInverse == nil {
		return nil
	}

	data := response.Data.LinearInverse
	event := &websocket.MarkPriceEvent{
		Exchange:        c.exchange,
		Symbol:          string(data.Symbol),
		MarkPrice:       data.MarkPrice,
		IndexPrice:      data.IndexPrice,
		FundingRate:     data.FundingRate,
		OpenInterest:    data.OpenInterest,
		NextFundingTime: parseTimestamp(data.NextFundingTime),
		EventTime:       time.UnixMilli(response.TimeStamp),
	}

	if err := c.handler.OnMarkPrice(event); err != nil {
		c.logger.Errorw("Failed to handle mark price event", "symbol", data.Symbol, "error", err)
		c.errorCount.Add(1)
		return err
	}
	return nil
}

func (c *Client) handleTopicMessage(msg topicMessage) {
	c.messagesReceived.Add(1)

	if c.stopping.Load() || c.handler == nil {
		return
	}

	switch {
	case msg.isTrade():
		for _, t := range msg.Data {
			event := &websocket.TradeEvent{
				Exchange:     c.exchange,
				Symbol:       t.Symbol,
				Price:        t.Price,
				Quantity:     t.Size,
				TradeTime:    time.UnixMilli(t.Time),
				IsBuyerMaker: t.Side == "Sell",
				EventTime:    time.UnixMilli(msg.TS),
			}
			if err := c.handler.OnTrade(event); err != nil {
				c.errorCount.Add(1)
				c.logger.Errorw("Failed to handle trade event", "symbol", t.Symbol, "error", err)
			}
		}
	case msg.isLiquidation():
		for _, l := range msg.Data {
			event := &websocket.LiquidationEvent{
				Exchange:  c.exchange,
				Symbol:    l.Symbol,
				Side:      liquidationOrderSide(l.Side),
				Price:     l.Price,
				Quantity:  l.Size,
				EventTime: time.UnixMilli(l.Time),
			}
			if err := c.handler.OnLiquidation(event); err != nil {
				c.errorCount.Add(1)
				c.logger.Errorw("Failed to handle liquidation event", "symbol", l.Symbol, "error", err)
			}
		}
	}
}

// liquidationOrderSide maps the liquidated position side to the closing order side
func liquidationOrderSide(positionSide string) string {
	if positionSide == "Buy" {
		return "SELL"
	}
	return "BUY"
}

func (c *Client) onError(err error) {
	c.errorCount.Add(1)
	c.statsMu.Lock()
	c.stats.LastError = err
	c.statsMu.Unlock()

	if c.handler != nil {
		c.handler.OnError(err)
	}
}

// Start runs the ticker service and the topic reader
func (c *Client) Start(ctx context.Context) error {
	if !c.connected.Load() {
		return errors.ErrWSNotConnected
	}

	c.logger.Infow("Bybit WebSocket client started", "exchange", c.exchange)

	var wg sync.WaitGroup

	if c.wsPublic != nil {
		errHandler := func(isWebsocketClosed bool, err error) {
			c.logger.Errorw("Bybit WebSocket error", "is_closed", isWebsocketClosed, "error", err)
			c.onError(errors.Wrap(err, "bybit ticker stream"))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.wsPublic.Start(ctx, errHandler); err != nil {
				c.logger.Errorw("WebSocket service start error", "error", err)
				c.errorCount.Add(1)
			}
		}()
	}

	if c.topics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.topics.run(ctx, c.handleTopicMessage); err != nil && ctx.Err() == nil {
				c.onError(errors.Wrap(err, "bybit topic stream"))
			}
		}()
	}

	done := c.doneChan
	go func() {
		wg.Wait()
		close(done)
	}()

	go func() {
		<-ctx.Done()
		if err := c.Stop(context.Background()); err != nil {
			c.logger.Errorw("Error stopping Bybit WebSocket client", "error", err)
		}
	}()

	return nil
}

// Stop gracefully closes the WebSocket connections
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return nil
	}

	c.stopping.Store(true)
	c.logger.Infow("Stopping Bybit WebSocket client", "exchange", c.exchange)

	if c.wsPublic != nil {
		if err := c.wsPublic.Close(); err != nil {
			c.logger.Errorw("Error closing WebSocket service", "error", err)
		}
	}
	if c.topics != nil {
		c.topics.close()
	}

	timeout := 5 * time.Second
	select {
	case <-c.doneChan:
	case <-time.After(timeout):
		c.logger.Warnw("Bybit WebSocket handler stop timeout", "timeout", timeout)
	}

	c.connected.Store(false)
	c.logger.Infow("Bybit WebSocket client stopped", "exchange", c.exchange)
	return nil
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

// parseTimestamp converts a millisecond string to time.Time
func parseTimestamp(ts string) time.Time {
	msec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(msec)
}
