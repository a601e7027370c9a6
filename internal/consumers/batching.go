package consumers

import (
	"context"
	"time"

	"liqzones/pkg/logger"
)

// BatchConsumer accumulates messages and flushes them periodically
type BatchConsumer interface {
	// FlushBatch hands the current batch to its destination
	FlushBatch(ctx context.Context) error

	// LogStats logs consumer statistics (final should be true on shutdown)
	LogStats(final bool)
}

// Closer is the part of kafka.Consumer the lifecycle closes on shutdown
type Closer interface {
	Close() error
}

// BatchConsumerConfig holds configuration for batch consumer lifecycle
type BatchConsumerConfig struct {
	ConsumerName  string
	FlushInterval time.Duration
	StatsInterval time.Duration
	Logger        *logger.Logger
}

// BatchConsumerLifecycle runs the flush and stats tickers of a batch consumer
// and performs the final flush on shutdown
type BatchConsumerLifecycle struct {
	config        BatchConsumerConfig
	flushTicker   *time.Ticker
	statsTicker   *time.Ticker
	source        Closer
	batchConsumer BatchConsumer
}

// NewBatchConsumerLifecycle creates a new batch consumer lifecycle manager
func NewBatchConsumerLifecycle(
	config BatchConsumerConfig,
	source Closer,
	batchConsumer BatchConsumer,
) *BatchConsumerLifecycle {
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = time.Minute
	}
	return &BatchConsumerLifecycle{
		config:        config,
		source:        source,
		batchConsumer: batchConsumer,
	}
}

// Start initializes tickers and returns the cleanup function:
//
//	cleanup := lifecycle.Start(ctx)
//	defer cleanup()
//	lifecycle.StartBackgroundWorkers(ctx)
func (l *BatchConsumerLifecycle) Start(ctx context.Context) func() {
	l.config.Logger.Infow("Starting batch consumer lifecycle",
		"consumer", l.config.ConsumerName,
		"flush_interval", l.config.FlushInterval,
		"stats_interval", l.config.StatsInterval,
	)

	l.flushTicker = time.NewTicker(l.config.FlushInterval)
	l.statsTicker = time.NewTicker(l.config.StatsInterval)

	return func() {
		l.config.Logger.Infow("Closing batch consumer", "consumer", l.config.ConsumerName)

		l.flushTicker.Stop()
		l.statsTicker.Stop()

		// main ctx is already cancelled here
		if err := l.batchConsumer.FlushBatch(context.Background()); err != nil {
			l.config.Logger.Errorw("Failed to flush final batch",
				"consumer", l.config.ConsumerName,
				"error", err,
			)
		}

		l.batchConsumer.LogStats(true)

		if err := l.source.Close(); err != nil {
			l.config.Logger.Errorw("Failed to close Kafka consumer",
				"consumer", l.config.ConsumerName,
				"error", err,
			)
		}
	}
}

// StartBackgroundWorkers starts periodic flush and stats logging goroutines
func (l *BatchConsumerLifecycle) StartBackgroundWorkers(ctx context.Context) {
	go l.periodicFlush(ctx)
	go l.periodicStatsLog(ctx)
}

func (l *BatchConsumerLifecycle) periodicFlush(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.flushTicker.C:
			if err := l.batchConsumer.FlushBatch(ctx); err != nil {
				l.config.Logger.Errorw("Periodic flush failed",
					"consumer", l.config.ConsumerName,
					"error", err,
				)
			}
		}
	}
}

func (l *BatchConsumerLifecycle) periodicStatsLog(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.statsTicker.C:
			l.batchConsumer.LogStats(false)
		}
	}
}
