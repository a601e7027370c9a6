package websocket

import (
	"context"
	"time"

	"liqzones/internal/domain/liquidation"
	"liqzones/internal/domain/market_data"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

// Sink receives normalized market data. feed.Buffer implements it.
type Sink interface {
	AddTrades(trades ...market_data.Trade)
	AddFunding(snapshots ...market_data.FundingSnapshot)
	AddLiquidations(liqs ...liquidation.Liquidation)
	AddCandle(coin string, c market_data.Candle)
}

// TradePublisher forwards normalized trades, e.g. to the market trades Kafka topic
type TradePublisher interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// IngestHandlerConfig configures optional side outputs of the IngestHandler
type IngestHandlerConfig struct {
	// KlineInterval selects which final klines feed the ATR series, e.g. "1m"
	KlineInterval string
	// TradeTopic is used with TradePublisher; trades are not forwarded when either is empty
	TradeTopic     string
	TradePublisher TradePublisher
	// StoreLiquidations persists confirmed liquidations, usually a ClickHouse BatchWriter
	StoreLiquidations func(ctx context.Context, liqs ...liquidation.Liquidation) error
	PublishTimeout    time.Duration
}

// IngestHandler implements EventHandler: it converts exchange events to
// domain types and hands them to the sink
type IngestHandler struct {
	sink   Sink
	cfg    IngestHandlerConfig
	logger *logger.Logger
}

var _ EventHandler = (*IngestHandler)(nil)

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(sink Sink, cfg IngestHandlerConfig, log *logger.Logger) *IngestHandler {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &IngestHandler{
		sink:   sink,
		cfg:    cfg,
		logger: log.With("component", "ingest_handler"),
	}
}

// OnTrade handles trade events
func (h *IngestHandler) OnTrade(event *TradeEvent) error {
	trade, err := ConvertTrade(event)
	if err != nil {
		return errors.Wrap(err, "failed to convert trade event")
	}
	if !trade.Valid() {
		return nil
	}

	h.sink.AddTrades(trade)

	if h.cfg.TradePublisher != nil && h.cfg.TradeTopic != "" {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.PublishTimeout)
		defer cancel()
		if err := h.cfg.TradePublisher.Publish(ctx, h.cfg.TradeTopic, trade.Symbol, trade); err != nil {
			// the engine already has the trade, forwarding is best effort
			h.logger.Warnw("Failed to forward trade", "symbol", trade.Symbol, "error", err)
		}
	}
	return nil
}

// OnMarkPrice handles mark price events carrying funding and open interest
func (h *IngestHandler) OnMarkPrice(event *MarkPriceEvent) error {
	snapshot, ok, err := ConvertFunding(event)
	if err != nil {
		return errors.Wrap(err, "failed to convert mark price event")
	}
	if ok {
		h.sink.AddFunding(snapshot)
	}
	return nil
}

// OnLiquidation handles forced order events
func (h *IngestHandler) OnLiquidation(event *LiquidationEvent) error {
	liq, err := ConvertLiquidation(event)
	if err != nil {
		return errors.Wrap(err, "failed to convert liquidation event")
	}

	h.sink.AddLiquidations(liq)
	h.logger.Debugw("Confirmed liquidation",
		"exchange", liq.Exchange,
		"symbol", liq.Symbol,
		"side", liq.Side,
		"value_usd", liq.ValueUSD,
	)

	if h.cfg.StoreLiquidations != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.PublishTimeout)
		defer cancel()
		if err := h.cfg.StoreLiquidations(ctx, liq); err != nil {
			h.logger.Warnw("Failed to store liquidation", "symbol", liq.Symbol, "error", err)
		}
	}
	return nil
}

// OnKline handles kline events. Only final klines of the configured interval are used.
func (h *IngestHandler) OnKline(event *KlineEvent) error {
	if !event.IsFinal {
		return nil
	}
	if h.cfg.KlineInterval != "" && event.Interval != h.cfg.KlineInterval {
		return nil
	}

	candle, err := ConvertKline(event)
	if err != nil {
		return errors.Wrap(err, "failed to convert kline event")
	}
	h.sink.AddCandle(market_data.NormalizeSymbol(event.Symbol), candle)
	return nil
}

// OnError handles stream errors
func (h *IngestHandler) OnError(err error) {
	h.logger.Errorw("WebSocket stream error", "error", err)
}

// ConvertTrade normalizes a trade event. A buyer-maker trade means the taker sold.
func ConvertTrade(event *TradeEvent) (market_data.Trade, error) {
	coin, err := market_data.FromExchange(event.Exchange, event.Symbol)
	if err != nil {
		return market_data.Trade{}, err
	}
	price, err := market_data.ParseDecimal(event.Price)
	if err != nil {
		return market_data.Trade{}, err
	}
	size, err := market_data.ParseDecimal(event.Quantity)
	if err != nil {
		return market_data.Trade{}, err
	}

	side := market_data.SideBid
	if event.IsBuyerMaker {
		side = market_data.SideAsk
	}

	ts := event.TradeTime
	if ts.IsZero() {
		ts = event.EventTime
	}

	return market_data.Trade{
		Timestamp: ts.UTC(),
		Price:     price,
		Size:      size,
		Side:      side,
		Symbol:    coin,
	}, nil
}

// ConvertFunding turns a mark price event into a funding snapshot.
// ok is false when the event carries no funding rate.
func ConvertFunding(event *MarkPriceEvent) (snapshot market_data.FundingSnapshot, ok bool, err error) {
	if event.FundingRate == "" {
		return market_data.FundingSnapshot{}, false, nil
	}

	coin, err := market_data.FromExchange(event.Exchange, event.Symbol)
	if err != nil {
		return market_data.FundingSnapshot{}, false, err
	}
	rate, err := market_data.ParseDecimal(event.FundingRate)
	if err != nil {
		return market_data.FundingSnapshot{}, false, err
	}

	var oi float64
	if event.OpenInterest != "" {
		if oi, err = market_data.ParseDecimal(event.OpenInterest); err != nil {
			return market_data.FundingSnapshot{}, false, err
		}
	}

	return market_data.FundingSnapshot{
		Symbol:       coin,
		FundingRate:  rate,
		OpenInterest: oi,
		Timestamp:    event.EventTime.UTC(),
	}, true, nil
}

// ConvertLiquidation maps the forced order side to the liquidated position side
func ConvertLiquidation(event *LiquidationEvent) (liquidation.Liquidation, error) {
	coin, err := market_data.FromExchange(event.Exchange, event.Symbol)
	if err != nil {
		return liquidation.Liquidation{}, err
	}
	price, err := market_data.ParseDecimal(event.Price)
	if err != nil {
		return liquidation.Liquidation{}, err
	}
	qty, err := market_data.ParseDecimal(event.Quantity)
	if err != nil {
		return liquidation.Liquidation{}, err
	}

	return liquidation.Liquidation{
		Exchange:  event.Exchange,
		Symbol:    coin,
		Timestamp: event.EventTime.UTC(),
		Side:      liquidation.PositionSide(event.Side),
		Price:     price,
		Quantity:  qty,
		ValueUSD:  price * qty,
	}, nil
}

// ConvertKline converts a kline event into a candle
func ConvertKline(event *KlineEvent) (market_data.Candle, error) {
	candle := market_data.Candle{OpenTime: event.OpenTime.UTC()}
	for _, f := range []struct {
		dst *float64
		src string
	}{
		{&candle.Open, event.Open},
		{&candle.High, event.High},
		{&candle.Low, event.Low},
		{&candle.Close, event.Close},
		{&candle.Volume, event.Volume},
	} {
		v, err := market_data.ParseDecimal(f.src)
		if err != nil {
			return market_data.Candle{}, err
		}
		*f.dst = v
	}
	return candle, nil
}
