package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	chadapter "liqzones/internal/adapters/clickhouse"
	"liqzones/internal/adapters/config"
	"liqzones/internal/adapters/errors/noop"
	"liqzones/internal/adapters/errors/sentry"
	"liqzones/internal/adapters/exchanges/binance"
	"liqzones/internal/adapters/kafka"
	pgadapter "liqzones/internal/adapters/postgres"
	redisadapter "liqzones/internal/adapters/redis"
	"liqzones/internal/adapters/telegram"
	"liqzones/internal/adapters/websocket"
	wsbinance "liqzones/internal/adapters/websocket/binance"
	wsbybit "liqzones/internal/adapters/websocket/bybit"
	wsokx "liqzones/internal/adapters/websocket/okx"
	"liqzones/internal/api"
	"liqzones/internal/api/health"
	zonesapi "liqzones/internal/api/zones"
	"liqzones/internal/consumers"
	"liqzones/internal/domain/liquidation"
	"liqzones/internal/events"
	"liqzones/internal/liquidation/engine"
	"liqzones/internal/metrics"
	"liqzones/internal/ml/zonepredictor"
	chrepo "liqzones/internal/repository/clickhouse"
	pgrepo "liqzones/internal/repository/postgres"
	redisrepo "liqzones/internal/repository/redis"
	"liqzones/internal/services/feed"
	"liqzones/internal/workers"
	"liqzones/internal/workers/marketdata"
	"liqzones/internal/workers/zones"
	chbatch "liqzones/pkg/clickhouse"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

// Stores holds the optional storage and messaging connections. Nil means disabled.
type Stores struct {
	ClickHouse *chadapter.Client
	Postgres   *pgadapter.Client
	Redis      *redisadapter.Client
	Producer   *kafka.Producer
}

// Close releases every open connection
func (s *Stores) Close(log *logger.Logger) {
	if s.Producer != nil {
		if err := s.Producer.Close(); err != nil {
			log.Warnf("Failed to close Kafka producer: %v", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warnf("Failed to close Redis: %v", err)
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Close(); err != nil {
			log.Warnf("Failed to close PostgreSQL: %v", err)
		}
	}
	if s.ClickHouse != nil {
		if err := s.ClickHouse.Close(); err != nil {
			log.Warnf("Failed to close ClickHouse: %v", err)
		}
	}
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := initLogger(cfg); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init()

	stores, err := initStores(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize stores: %v", err)
	}
	defer stores.Close(log)

	engines, err := initEngines(ctx, cfg, stores, log)
	if err != nil {
		log.Fatalf("Failed to initialize engines: %v", err)
	}

	buffer := feed.NewBuffer(feed.Config{}, log)

	liqWriter := initLiquidationWriter(ctx, cfg, stores)
	managers := initMarketData(cfg, stores, buffer, liqWriter, log)
	for _, m := range managers {
		if err := m.Start(ctx); err != nil {
			log.Errorf("Failed to start market data manager: %v", err)
		}
	}

	tradeConsumer := initTradeConsumer(cfg, buffer, log)
	if tradeConsumer != nil {
		go func() {
			if err := tradeConsumer.Start(ctx); err != nil {
				log.Errorf("Trade consumer error: %v", err)
			}
		}()
	}

	scheduler := initWorkers(cfg, stores, engines, buffer, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	httpServer := startHTTPServer(cfg, stores, engines, managers, scheduler, log)

	log.Info("System initialized successfully")

	waitForShutdown(ctx, cancel, log)

	if err := scheduler.Stop(); err != nil {
		log.Warnf("Worker shutdown: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	for _, m := range managers {
		if err := m.Stop(shutdownCtx); err != nil {
			log.Warnf("Failed to stop market data manager: %v", err)
		}
	}
	if liqWriter != nil {
		if err := liqWriter.Stop(shutdownCtx); err != nil {
			log.Warnf("Failed to flush liquidations: %v", err)
		}
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Failed to stop HTTP server: %v", err)
		}
	}
	if err := errorTracker.Flush(shutdownCtx); err != nil {
		log.Warnf("Failed to flush error tracker: %v", err)
	}

	log.Info("Shutdown complete")
}

// loadConfig loads application configuration from environment
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// initLogger initializes structured logging
func initLogger(cfg *config.Config) error {
	return logger.Init(cfg.App.LogLevel, cfg.App.Env)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(
		cfg.ErrorTracking.SentryDSN,
		cfg.ErrorTracking.Environment,
		cfg.App.Version,
		map[string]string{"service": cfg.App.Name},
	)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initStores connects every store whose host is configured and ensures its schema
func initStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stores, error) {
	stores := &Stores{}

	if cfg.ClickHouse.Enabled() {
		client, err := chadapter.NewClient(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, errors.Wrap(err, "clickhouse")
		}
		if err := chrepo.EnsureSchema(ctx, client.Conn()); err != nil {
			return nil, err
		}
		stores.ClickHouse = client
		log.Info("ClickHouse connected")
	}

	if cfg.Postgres.Enabled() {
		client, err := pgadapter.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, errors.Wrap(err, "postgres")
		}
		if err := pgrepo.EnsureSchema(ctx, client.DB()); err != nil {
			return nil, err
		}
		stores.Postgres = client
		log.Info("PostgreSQL connected")
	}

	if cfg.Redis.Enabled() {
		client, err := redisadapter.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, errors.Wrap(err, "redis")
		}
		stores.Redis = client
		log.Info("Redis connected")
	}

	if cfg.Kafka.Enabled() {
		stores.Producer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers, Async: true})
		log.Infow("Kafka producer ready", "brokers", cfg.Kafka.Brokers)
	}

	return stores, nil
}

// initEngines builds one engine per symbol and restores its persisted state
func initEngines(ctx context.Context, cfg *config.Config, stores *Stores, log *logger.Logger) ([]*engine.Engine, error) {
	engines := make([]*engine.Engine, 0, len(cfg.Engine.Symbols))

	for _, symbol := range cfg.Engine.Symbols {
		coin := strings.ToUpper(strings.TrimSpace(symbol))
		engCfg, err := engine.FromSettings(coin, cfg.Engine)
		if err != nil {
			return nil, err
		}

		var opts []engine.Option
		if stores.Postgres != nil {
			opts = append(opts, engine.WithOutcomeRepository(pgrepo.NewOutcomeRepository(stores.Postgres.DB())))
		}

		eng, err := engine.New(engCfg, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "engine %s", coin)
		}

		if n, err := eng.LoadRecords(ctx); err != nil {
			log.Warnw("Failed to load outcome records", "coin", coin, "error", err)
		} else if n > 0 {
			log.Infow("Outcome records loaded", "coin", coin, "records", n)
		}

		if stores.ClickHouse != nil {
			since := time.Now().UTC().Add(-time.Duration(engCfg.WindowMinutes) * time.Minute)
			liqs, err := chrepo.NewLiquidationRepository(stores.ClickHouse.Conn()).GetRecentLiquidations(ctx, "", coin, since)
			if err != nil {
				log.Warnw("Failed to load confirmed liquidations", "coin", coin, "error", err)
			} else if len(liqs) > 0 {
				eng.IngestLiquidations(liqs)
				log.Infow("Confirmed liquidations loaded", "coin", coin, "liquidations", len(liqs))
			}
		}

		if stores.Redis != nil {
			active, err := redisrepo.NewCheckpointStore(stores.Redis.Client()).LoadActive(ctx, coin)
			if err != nil {
				log.Warnw("Failed to load zone checkpoint", "coin", coin, "error", err)
			} else if len(active) > 0 {
				eng.RestoreActive(active)
				log.Infow("Active zones restored", "coin", coin, "zones", len(active))
			}
		}

		if cfg.Predictor.Enabled {
			eng.EnableML(nil)
			loadModel(ctx, cfg, stores, eng, log)
		}

		engines = append(engines, eng)
	}

	return engines, nil
}

// loadModel restores a trained predictor from Redis, then from disk
func loadModel(ctx context.Context, cfg *config.Config, stores *Stores, eng *engine.Engine, log *logger.Logger) {
	coin := eng.Coin()

	if stores.Redis != nil {
		err := modelStore(cfg, stores, coin).Load(ctx, eng.Predictor())
		if err == nil {
			log.Infow("Zone predictor loaded from Redis", "coin", coin)
			return
		}
		if !errors.Is(err, errors.ErrNotFound) {
			log.Warnw("Failed to load model from Redis", "coin", coin, "error", err)
		}
	}

	path := modelPath(cfg.Predictor.ModelPath, coin)
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := eng.LoadModel(path); err != nil {
		log.Warnw("Failed to load model file", "coin", coin, "path", path, "error", err)
		return
	}
	log.Infow("Zone predictor loaded from file", "coin", coin, "path", path)
}

func modelStore(cfg *config.Config, stores *Stores, coin string) *redisrepo.ModelStore {
	return redisrepo.NewModelStore(stores.Redis.Client(), cfg.Predictor.RedisKey+":"+coin, cfg.Predictor.ModelTTL)
}

// modelPath inserts the coin before the extension: models/zp.json -> models/zp_BTC.json
func modelPath(base, coin string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + coin + ext
}

// fileModelSaver writes the model to disk when Redis is not configured
type fileModelSaver struct {
	path string
}

func (s fileModelSaver) Save(_ context.Context, p *zonepredictor.Predictor) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create model directory")
	}
	return p.Save(s.path)
}

// initLiquidationWriter batches confirmed liquidations into ClickHouse
func initLiquidationWriter(ctx context.Context, cfg *config.Config, stores *Stores) *chbatch.BatchWriter[liquidation.Liquidation] {
	if stores.ClickHouse == nil {
		return nil
	}

	repo := chrepo.NewLiquidationRepository(stores.ClickHouse.Conn())
	writer := chbatch.NewBatchWriter(chbatch.BatchWriterConfig[liquidation.Liquidation]{
		FlushFunc:    repo.InsertLiquidationBatch,
		TableName:    "liquidations",
		MaxBatchSize: cfg.ClickHouse.BatchSize,
		MaxAge:       cfg.ClickHouse.FlushInterval,
	})
	writer.Start(ctx)
	return writer
}

// exchangeSymbol maps a coin to the linear perpetual symbol, BTC -> BTCUSDT
func exchangeSymbol(coin string) string {
	return strings.ToUpper(coin) + "USDT"
}

// initMarketData creates one managed websocket connection per enabled exchange
func initMarketData(
	cfg *config.Config,
	stores *Stores,
	buffer *feed.Buffer,
	liqWriter *chbatch.BatchWriter[liquidation.Liquidation],
	log *logger.Logger,
) []*websocket.MarketDataManager {
	handlerCfg := websocket.IngestHandlerConfig{KlineInterval: cfg.Binance.KlineTF}
	if liqWriter != nil {
		handlerCfg.StoreLiquidations = liqWriter.Add
	}
	// trades already arrive from Kafka when consuming, do not echo them back
	if stores.Producer != nil && !cfg.Kafka.ConsumeTrades {
		handlerCfg.TradePublisher = stores.Producer
		handlerCfg.TradeTopic = kafka.TopicMarketTrades
	}
	handler := websocket.NewIngestHandler(buffer, handlerCfg, log)

	var symbols []string
	for _, s := range cfg.Engine.Symbols {
		symbols = append(symbols, exchangeSymbol(strings.TrimSpace(s)))
	}

	var managers []*websocket.MarketDataManager
	newManager := func(exchange string, streams []websocket.StreamConfig, newClient func(websocket.EventHandler) websocket.Client) {
		managers = append(managers, websocket.NewMarketDataManager(
			exchange,
			handler,
			newClient,
			websocket.ConnectionConfig{Streams: streams, PingInterval: 20 * time.Second},
			websocket.MarketDataManagerConfig{},
			log.With("exchange", exchange),
		))
	}

	if cfg.Binance.Enabled {
		var streams []websocket.StreamConfig
		for _, s := range symbols {
			streams = append(streams,
				websocket.StreamConfig{Type: websocket.StreamTypeTrade, Symbol: s},
				websocket.StreamConfig{Type: websocket.StreamTypeMarkPrice, Symbol: s},
				websocket.StreamConfig{Type: websocket.StreamTypeLiquidation, Symbol: s},
				websocket.StreamConfig{Type: websocket.StreamTypeKline, Symbol: s, Interval: websocket.Interval(cfg.Binance.KlineTF)},
			)
		}
		newManager("binance", streams, func(h websocket.EventHandler) websocket.Client {
			return wsbinance.NewClient("binance", h, cfg.Binance.UseTestnet, log)
		})
	}

	if cfg.Bybit.Enabled {
		var streams []websocket.StreamConfig
		for _, s := range symbols {
			streams = append(streams,
				websocket.StreamConfig{Type: websocket.StreamTypeMarkPrice, Symbol: s},
				websocket.StreamConfig{Type: websocket.StreamTypeLiquidation, Symbol: s},
			)
		}
		newManager("bybit", streams, func(h websocket.EventHandler) websocket.Client {
			return wsbybit.NewClient("bybit", h, cfg.Bybit.UseTestnet, log)
		})
	}

	if cfg.OKX.Enabled {
		var streams []websocket.StreamConfig
		for _, s := range symbols {
			streams = append(streams, websocket.StreamConfig{Type: websocket.StreamTypeMarkPrice, Symbol: s})
		}
		newManager("okx", streams, func(h websocket.EventHandler) websocket.Client {
			return wsokx.NewClient("okx", h, cfg.OKX.UseTestnet, log)
		})
	}

	return managers
}

// initTradeConsumer reads normalized trades from Kafka when configured
func initTradeConsumer(cfg *config.Config, buffer *feed.Buffer, log *logger.Logger) *consumers.TradeConsumer {
	if !cfg.Kafka.Enabled() || !cfg.Kafka.ConsumeTrades {
		return nil
	}

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   kafka.TopicMarketTrades,
	})
	return consumers.NewTradeConsumer(consumer, buffer, log)
}

// initWorkers registers the zone, market context and trainer workers
func initWorkers(cfg *config.Config, stores *Stores, engines []*engine.Engine, buffer *feed.Buffer, log *logger.Logger) *workers.Scheduler {
	scheduler := workers.NewScheduler()

	var sinks zones.Sinks
	if stores.ClickHouse != nil {
		sinks.Snapshots = chrepo.NewZoneRepository(stores.ClickHouse.Conn())
	}
	if stores.Producer != nil && cfg.Kafka.PublishZones {
		sinks.Publisher = events.NewZonePublisher(stores.Producer, log)
	}
	if stores.Redis != nil {
		sinks.Checkpoint = redisrepo.NewCheckpointStore(stores.Redis.Client())
	}
	if cfg.Telegram.Enabled() {
		notifier, err := telegram.NewNotifier(cfg.Telegram, log)
		if err != nil {
			log.Warnf("Telegram alerts disabled: %v", err)
		} else {
			sinks.Notifier = notifier
		}
	}

	scheduler.RegisterWorker(zones.NewZoneWorker(
		engines,
		buffer,
		sinks,
		cfg.Workers.StrongZoneAlerts,
		cfg.Workers.ZoneUpdateInterval,
		true,
	))

	var symbols []string
	for _, eng := range engines {
		symbols = append(symbols, exchangeSymbol(eng.Coin()))
	}
	rest := binance.NewClient(binance.Config{
		APIKey:    cfg.Binance.APIKey,
		SecretKey: cfg.Binance.Secret,
		Testnet:   cfg.Binance.UseTestnet,
	})
	scheduler.RegisterWorker(marketdata.NewMarketContextCollector(
		rest,
		buffer,
		symbols,
		cfg.Binance.KlineTF,
		cfg.Binance.KlineLimit,
		cfg.Workers.MarketContextInterval,
		cfg.Binance.Enabled,
	))

	modelStores := make(map[string]zones.ModelSaver, len(engines))
	for _, eng := range engines {
		if stores.Redis != nil {
			modelStores[eng.Coin()] = modelStore(cfg, stores, eng.Coin())
		} else {
			modelStores[eng.Coin()] = fileModelSaver{path: modelPath(cfg.Predictor.ModelPath, eng.Coin())}
		}
	}
	scheduler.RegisterWorker(zones.NewTrainerWorker(
		engines,
		modelStores,
		cfg.Predictor.UseSynthetic,
		cfg.Predictor.NSynthetic,
		cfg.Workers.TrainerInterval,
		cfg.Predictor.Enabled,
	))

	return scheduler
}

// startHTTPServer serves probes, Prometheus metrics and the zone read API
func startHTTPServer(cfg *config.Config, stores *Stores, engines []*engine.Engine, managers []*websocket.MarketDataManager, scheduler *workers.Scheduler, log *logger.Logger) *api.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	var (
		pg    *sqlx.DB
		ch    driver.Conn
		redis *goredis.Client
	)
	healthHandler := health.New(log, cfg.App.Name, cfg.App.Version)
	if stores.Postgres != nil {
		pg = stores.Postgres.DB()
		healthHandler.AddCheck("postgres", stores.Postgres.Health)
	}
	if stores.ClickHouse != nil {
		ch = stores.ClickHouse.Conn()
		healthHandler.AddCheck("clickhouse", stores.ClickHouse.Health)
	}
	if stores.Redis != nil {
		redis = stores.Redis.Client()
		healthHandler.AddCheck("redis", stores.Redis.Health)
	}
	for _, m := range managers {
		healthHandler.AddCheck("ws:"+m.Exchange(), func(context.Context) error {
			if !m.IsConnected() {
				return errors.ErrWSNotConnected
			}
			return nil
		})
	}
	for _, w := range scheduler.GetWorkers() {
		if src, ok := w.(health.WorkerSource); ok {
			healthHandler.AddWorker(src)
		}
	}

	coins := make([]string, 0, len(engines))
	for _, e := range engines {
		coins = append(coins, e.Coin())
	}
	metrics.RegisterStoreCollector(metrics.NewStoreCollector(log, pg, ch, redis, coins))

	server := api.NewServer(api.ServerConfig{
		Addr:        cfg.Metrics.Addr,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	}, healthHandler, zonesapi.NewHandler(engines, log), log)

	go func() {
		if err := server.Start(); err != nil {
			log.Errorf("HTTP server error: %v", err)
		}
	}()
	return server
}

// waitForShutdown blocks until SIGINT/SIGTERM, then cancels the root context
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-ctx.Done():
	}
	log.Info("Shutting down...")
	cancel()
}
