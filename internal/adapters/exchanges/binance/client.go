package binance

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"liqzones/internal/adapters/exchanges/ratelimit"
	"liqzones/internal/adapters/exchanges/retry"
	"liqzones/internal/domain/market_data"
	"liqzones/internal/metrics"
	"liqzones/pkg/errors"
)

const exchangeName = "binance"

// Config configures the Binance market context client. Keys are optional,
// every endpoint used here is public.
type Config struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	// RequestsPerMinute caps REST weight usage, 1200 by default
	RequestsPerMinute int
}

// Client reads open interest, funding and candles from the USD-M futures REST API
type Client struct {
	api     *futures.Client
	limiter *ratelimit.Limiter
	retry   *retry.Middleware
}

// NewClient creates a new Binance REST market context client
func NewClient(cfg Config) *Client {
	futures.UseTestnet = cfg.Testnet
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 1200
	}
	return &Client{
		api:     futures.NewClient(cfg.APIKey, cfg.SecretKey),
		limiter: ratelimit.NewLimiter("binance-rest", cfg.RequestsPerMinute),
		retry:   retry.New(retry.DefaultConfig()),
	}
}

// call rate limits, retries and records latency for one REST request
func (c *Client) call(ctx context.Context, endpoint string, fn func() error) error {
	start := time.Now()
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn()
	})
	metrics.RecordExchangeAPICall(exchangeName, endpoint, time.Since(start), err)
	return err
}

// FundingSnapshot combines premium index funding with open interest for one symbol
func (c *Client) FundingSnapshot(ctx context.Context, symbol string) (market_data.FundingSnapshot, error) {
	var premium []*futures.PremiumIndex
	err := c.call(ctx, "premiumIndex", func() (err error) {
		premium, err = c.api.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return market_data.FundingSnapshot{}, errors.Wrapf(err, "premium index %s", symbol)
	}
	if len(premium) == 0 {
		return market_data.FundingSnapshot{}, errors.Wrapf(errors.ErrNotFound, "premium index %s", symbol)
	}

	var oi *futures.OpenInterest
	err = c.call(ctx, "openInterest", func() (err error) {
		oi, err = c.api.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return market_data.FundingSnapshot{}, errors.Wrapf(err, "open interest %s", symbol)
	}

	rate, err := market_data.ParseDecimal(premium[0].LastFundingRate)
	if err != nil {
		return market_data.FundingSnapshot{}, err
	}
	openInterest, err := market_data.ParseDecimal(oi.OpenInterest)
	if err != nil {
		return market_data.FundingSnapshot{}, err
	}

	ts := time.UnixMilli(oi.Time).UTC()
	if oi.Time == 0 {
		ts = time.UnixMilli(premium[0].Time).UTC()
	}

	return market_data.FundingSnapshot{
		Symbol:       market_data.NormalizeSymbol(symbol),
		FundingRate:  rate,
		OpenInterest: openInterest,
		Timestamp:    ts,
	}, nil
}

// Candles returns the most recent klines, oldest first
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]market_data.Candle, error) {
	var klines []*futures.Kline
	err := c.call(ctx, "klines", func() (err error) {
		klines, err = c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "klines %s %s", symbol, interval)
	}

	candles := make([]market_data.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := convertKline(k)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func convertKline(k *futures.Kline) (market_data.Candle, error) {
	var (
		candle market_data.Candle
		err    error
	)
	candle.OpenTime = time.UnixMilli(k.OpenTime).UTC()
	for _, f := range []struct {
		dst *float64
		src string
	}{
		{&candle.Open, k.Open},
		{&candle.High, k.High},
		{&candle.Low, k.Low},
		{&candle.Close, k.Close},
		{&candle.Volume, k.Volume},
	} {
		if *f.dst, err = market_data.ParseDecimal(f.src); err != nil {
			return market_data.Candle{}, err
		}
	}
	return candle, nil
}
