package okx

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	okexapi "github.com/amir-the-h/okex"
	"github.com/amir-the-h/okex/api"
	"github.com/amir-the-h/okex/events/public"
	ws_public_requests "github.com/amir-the-h/okex/requests/ws/public"

	"liqzones/internal/adapters/websocket"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

// Client implements websocket.Client for OKX perpetual swaps.
// Only funding is streamed; OKX is a funding-context source for the engine.
type Client struct {
	exchange string
	handler  websocket.EventHandler
	config   websocket.ConnectionConfig
	testnet  bool

	client *api.Client

	mu        sync.RWMutex
	connected atomic.Bool
	stopping  atomic.Bool
	stopChan  chan struct{}
	doneChan  chan struct{}

	stats            websocket.Stats
	statsMu          sync.RWMutex
	messagesReceived atomic.Int64
	errorCount       atomic.Int64

	logger *logger.Logger
}

var _ websocket.Client = (*Client)(nil)

// NewClient creates a new OKX WebSocket client
func NewClient(exchange string, handler websocket.EventHandler, testnet bool, log *logger.Logger) *Client {
	return &Client{
		exchange: exchange,
		handler:  handler,
		testnet:  testnet,
		logger:   log,
	}
}

// Connect subscribes to funding rate channels for mark price streams
func (c *Client) Connect(ctx context.Context, config websocket.ConnectionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return errors.New("client already connected")
	}

	c.config = config
	c.stopping.Store(false)
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})

	dest := okexapi.NormalServer
	if c.testnet {
		dest = okexapi.AwsServer
	}

	// public channels need no credentials
	client, err := api.NewClient(ctx, "", "", "", dest)
	if err != nil {
		return errors.Wrap(err, "failed to create OKX client")
	}
	c.client = client

	var symbols []string
	for _, stream := range config.Streams {
		if stream.Type != websocket.StreamTypeMarkPrice {
			c.logger.Warnw("Stream type not supported for OKX", "type", stream.Type)
			continue
		}
		symbols = append(symbols, stream.Symbol)
	}

	if len(symbols) == 0 {
		close(c.doneChan)
	} else if err := c.subscribeToFundingRates(symbols); err != nil {
		return errors.Wrap(err, "failed to subscribe to funding rates")
	}

	c.connected.Store(true)
	c.statsMu.Lock()
	c.stats.ConnectedSince = time.Now()
	c.stats.ActiveStreams = len(symbols)
	c.statsMu.Unlock()

	return nil
}

func (c *Client) subscribeToFundingRates(symbols []string) error {
	ch := make(chan *public.FundingRate)

	for _, symbol := range symbols {
		instID := ToInstrument(symbol)
		if err := c.client.Ws.Public.FundingRate(ws_public_requests.FundingRate{InstID: instID}, ch); err != nil {
			return errors.Wrapf(err, "failed to subscribe to funding rate for %s", instID)
		}
		c.logger.Debugw("Subscribed to funding rate", "symbol", symbol, "inst_id", instID)
	}

	go c.handleFundingRateEvents(ch)
	return nil
}

func (c *Client) handleFundingRateEvents(ch chan *public.FundingRate) {
	defer close(c.doneChan)

	for {
		select {
		case <-c.stopChan:
			return
		case event, ok := <-ch:
			if !ok {
				c.logger.Warnw("OKX funding rate channel closed", "exchange", c.exchange)
				return
			}

			c.messagesReceived.Add(1)
			if c.stopping.Load() || c.handler == nil {
				continue
			}

			for _, rate := range event.Rates {
				markPriceEvent := &websocket.MarkPriceEvent{
					Exchange:        c.exchange,
					Symbol:          FromInstrument(rate.InstID),
					FundingRate:     strconv.FormatFloat(float64(rate.FundingRate), 'f', -1, 64),
					NextFundingTime: time.Time(rate.NextFundingTime),
					EventTime:       time.Now(),
				}

				if err := c.handler.OnMarkPrice(markPriceEvent); err != nil {
					c.logger.Errorw("Failed to handle mark price event", "symbol", markPriceEvent.Symbol, "error", err)
					c.errorCount.Add(1)
				}
			}
		}
	}
}

// ToInstrument converts BTCUSDT to BTC-USDT-SWAP
func ToInstrument(symbol string) string {
	if base, ok := strings.CutSuffix(symbol, "USDT"); ok && base != "" {
		return base + "-USDT-SWAP"
	}
	return symbol
}

// FromInstrument converts BTC-USDT-SWAP to BTCUSDT
func FromInstrument(instID string) string {
	return strings.ReplaceAll(strings.TrimSuffix(instID, "-SWAP"), "-", "")
}

// Start begins receiving events (already started in Connect)
func (c *Client) Start(ctx context.Context) error {
	if !c.connected.Load() {
		return errors.ErrWSNotConnected
	}

	go func() {
		<-ctx.Done()
		if err := c.Stop(context.Background()); err != nil {
			c.logger.Errorw("Error stopping OKX WebSocket client", "error", err)
		}
	}()

	return nil
}

// Stop gracefully closes the WebSocket connection
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return nil
	}

	c.stopping.Store(true)
	close(c.stopChan)

	timeout := 5 * time.Second
	select {
	case <-c.doneChan:
	case <-time.After(timeout):
		c.logger.Warnw("OKX WebSocket handler stop timeout", "timeout", timeout)
	}

	c.connected.Store(false)
	c.logger.Infow("OKX WebSocket client stopped", "exchange", c.exchange)
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
	return stats
}
