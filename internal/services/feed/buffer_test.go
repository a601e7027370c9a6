package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liqzones/internal/domain/liquidation"
	"liqzones/internal/domain/market_data"
	"liqzones/pkg/logger"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

func trade(coin string, sec int, price float64) market_data.Trade {
	return market_data.Trade{Symbol: coin, Timestamp: base.Add(time.Duration(sec) * time.Second), Price: price, Size: 1, Side: market_data.SideBid}
}

func candle(minute int, close float64) market_data.Candle {
	return market_data.Candle{OpenTime: base.Add(time.Duration(minute) * time.Minute), Open: close, High: close + 1, Low: close - 1, Close: close}
}

func TestBuffer_DrainIsPerCoinAndClears(t *testing.T) {
	b := NewBuffer(Config{}, newTestLogger())

	b.AddTrades(trade("BTC", 1, 100), trade("ETH", 1, 10), trade("BTC", 2, 101))
	b.AddFunding(market_data.FundingSnapshot{Symbol: "BTC", FundingRate: 0.001, Timestamp: base})
	b.AddLiquidations(liquidation.Liquidation{Symbol: "BTC", Price: 99, Quantity: 1})

	batch := b.Drain("BTC")
	assert.Len(t, batch.Trades, 2)
	assert.Len(t, batch.Funding, 1)
	assert.Len(t, batch.Liquidations, 1)
	assert.Nil(t, batch.Candles)
	assert.False(t, batch.Empty())

	assert.True(t, b.Drain("BTC").Empty())
	assert.Equal(t, 1, b.Pending("ETH"))
	assert.True(t, b.Drain("SOL").Empty())
}

func TestBuffer_DropsOldestTradesPastLimit(t *testing.T) {
	b := NewBuffer(Config{MaxPendingTrades: 3}, newTestLogger())
	for i := 0; i < 5; i++ {
		b.AddTrades(trade("BTC", i, 100+float64(i)))
	}

	batch := b.Drain("BTC")
	require.Len(t, batch.Trades, 3)
	assert.Equal(t, 102.0, batch.Trades[0].Price)
}

func TestBuffer_CandlesUpsertAndRoll(t *testing.T) {
	b := NewBuffer(Config{MaxCandles: 3}, newTestLogger())

	b.AddCandle("BTC", candle(2, 102))
	b.AddCandle("BTC", candle(0, 100))
	b.AddCandle("BTC", candle(1, 101))
	b.AddCandle("BTC", candle(1, 111)) // revised bar replaces

	candles := b.Drain("BTC").Candles
	require.Len(t, candles, 3)
	assert.Equal(t, []float64{100, 111, 102}, []float64{candles[0].Close, candles[1].Close, candles[2].Close})

	assert.Nil(t, b.Drain("BTC").Candles, "series only resent after a change")

	b.AddCandle("BTC", candle(3, 103))
	candles = b.Drain("BTC").Candles
	require.Len(t, candles, 3)
	assert.Equal(t, 111.0, candles[0].Close, "oldest rolled out")
}

func TestBuffer_SetCandles(t *testing.T) {
	b := NewBuffer(Config{MaxCandles: 2}, newTestLogger())
	b.SetCandles("BTC", []market_data.Candle{candle(2, 102), candle(0, 100), candle(1, 101)})

	candles := b.Drain("BTC").Candles
	require.Len(t, candles, 2)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 102.0, candles[1].Close)
}

func TestBuffer_Concurrent(t *testing.T) {
	b := NewBuffer(Config{}, newTestLogger())

	var wg sync.WaitGroup
	drained := make(chan int, 100)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.AddTrades(trade("BTC", i*100+j, 100))
			}
		}(i)
		go func() {
			defer wg.Done()
			drained <- len(b.Drain("BTC").Trades)
		}()
	}
	wg.Wait()
	close(drained)

	total := b.Pending("BTC")
	for n := range drained {
		total += n
	}
	assert.Equal(t, 1000, total)
}
