package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"liqzones/pkg/errors"
)

type Config struct {
	App           AppConfig
	Engine        EngineConfig
	Predictor     PredictorConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telegram      TelegramConfig
	Binance       BinanceConfig
	Bybit         BybitConfig
	OKX           OKXConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"liqzones"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

// EngineConfig holds zone engine tuning. One engine is created per symbol.
type EngineConfig struct {
	Symbols          []string `envconfig:"ENGINE_SYMBOLS" default:"BTC"`
	Exchange         string   `envconfig:"ENGINE_EXCHANGE" default:"binance"`
	PctMerge         float64  `envconfig:"ENGINE_PCT_MERGE" default:"0.003"`
	ZoneVolMult      float64  `envconfig:"ENGINE_ZONE_VOL_MULT" default:"1.5"`
	WindowMinutes    int      `envconfig:"ENGINE_WINDOW_MINUTES" default:"30"`
	LiqSizeThreshold float64  `envconfig:"ENGINE_LIQ_SIZE_THRESHOLD" default:"0.1"`
	// CutoffHours <= 0 keeps all trades
	CutoffHours float64 `envconfig:"ENGINE_CUTOFF_HOURS" default:"48"`
	// Mode is batch or streaming
	Mode string `envconfig:"ENGINE_MODE" default:"streaming"`
	// Accelerated is auto, always or never
	Accelerated string   `envconfig:"ENGINE_ACCELERATED" default:"auto"`
	MinQuality  string   `envconfig:"ENGINE_MIN_QUALITY"`
	Timeframes  []string `envconfig:"ENGINE_TIMEFRAMES"`

	MaxParallelTimeframes int  `envconfig:"ENGINE_MAX_PARALLEL_TIMEFRAMES" default:"4"`
	BoostConfirmed        bool `envconfig:"ENGINE_BOOST_CONFIRMED" default:"true"`
	ATRPeriod             int  `envconfig:"ENGINE_ATR_PERIOD" default:"14"`
}

// Validate checks engine options that would otherwise fail deep inside a computation
func (c EngineConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.NewValidationError("ENGINE_SYMBOLS", "at least one symbol is required", c.Symbols)
	}
	if c.PctMerge <= 0 {
		return errors.NewValidationError("ENGINE_PCT_MERGE", "must be positive", c.PctMerge)
	}
	if c.WindowMinutes <= 0 {
		return errors.NewValidationError("ENGINE_WINDOW_MINUTES", "must be positive", c.WindowMinutes)
	}
	switch strings.ToLower(c.Mode) {
	case "batch", "streaming":
	default:
		return errors.NewValidationError("ENGINE_MODE", "must be batch or streaming", c.Mode)
	}
	switch strings.ToLower(c.Accelerated) {
	case "auto", "always", "never":
	default:
		return errors.NewValidationError("ENGINE_ACCELERATED", "must be auto, always or never", c.Accelerated)
	}
	return nil
}

type PredictorConfig struct {
	Enabled      bool          `envconfig:"PREDICTOR_ENABLED" default:"true"`
	ModelPath    string        `envconfig:"PREDICTOR_MODEL_PATH" default:"models/zone_predictor.json"`
	UseSynthetic bool          `envconfig:"PREDICTOR_USE_SYNTHETIC" default:"true"`
	NSynthetic   int           `envconfig:"PREDICTOR_N_SYNTHETIC" default:"200"`
	RedisKey     string        `envconfig:"PREDICTOR_REDIS_KEY" default:"liqzones:model:zone_predictor"`
	ModelTTL     time.Duration `envconfig:"PREDICTOR_MODEL_TTL" default:"0s"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"liqzones"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"liqzones"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

// Enabled reports whether a Postgres host is configured
func (c PostgresConfig) Enabled() bool { return c.Host != "" }

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"liqzones"`

	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"5s"`
}

// Enabled reports whether a ClickHouse host is configured
func (c ClickHouseConfig) Enabled() bool { return c.Host != "" }

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Enabled reports whether a Redis host is configured
func (c RedisConfig) Enabled() bool { return c.Host != "" }

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers       []string `envconfig:"KAFKA_BROKERS"`
	GroupID       string   `envconfig:"KAFKA_GROUP_ID" default:"liqzones"`
	ConsumeTrades bool     `envconfig:"KAFKA_CONSUME_TRADES" default:"false"`
	PublishZones  bool     `envconfig:"KAFKA_PUBLISH_ZONES" default:"true"`
}

// Enabled reports whether Kafka brokers are configured
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type TelegramConfig struct {
	BotToken       string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID         int64  `envconfig:"TELEGRAM_CHAT_ID"`
	RateLimitRate  int    `envconfig:"TELEGRAM_RATE_LIMIT" default:"1"`
	RateLimitBurst int    `envconfig:"TELEGRAM_RATE_BURST" default:"5"`
}

// Enabled reports whether alerts can be delivered
func (c TelegramConfig) Enabled() bool { return c.BotToken != "" && c.ChatID != 0 }

type BinanceConfig struct {
	Enabled    bool   `envconfig:"BINANCE_ENABLED" default:"true"`
	APIKey     string `envconfig:"BINANCE_MARKET_DATA_API_KEY"`
	Secret     string `envconfig:"BINANCE_MARKET_DATA_SECRET"`
	UseTestnet bool   `envconfig:"BINANCE_TESTNET" default:"false"`
	KlineLimit int    `envconfig:"BINANCE_KLINE_LIMIT" default:"100"`
	KlineTF    string `envconfig:"BINANCE_KLINE_INTERVAL" default:"1m"`
}

type BybitConfig struct {
	Enabled    bool `envconfig:"BYBIT_ENABLED" default:"false"`
	UseTestnet bool `envconfig:"BYBIT_TESTNET" default:"false"`
}

// OKXConfig enables the OKX funding rate stream
type OKXConfig struct {
	Enabled    bool `envconfig:"OKX_ENABLED" default:"false"`
	UseTestnet bool `envconfig:"OKX_TESTNET" default:"false"`
}

// MetricsConfig controls the HTTP server that carries probes, /metrics and the zone API
type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	ZoneUpdateInterval    time.Duration `envconfig:"WORKER_ZONE_UPDATE_INTERVAL" default:"10s"`
	MarketContextInterval time.Duration `envconfig:"WORKER_MARKET_CONTEXT_INTERVAL" default:"1m"`
	TrainerInterval       time.Duration `envconfig:"WORKER_TRAINER_INTERVAL" default:"1h"`
	StrongZoneAlerts      bool          `envconfig:"WORKER_STRONG_ZONE_ALERTS" default:"true"`
}

// Load reads configuration from environment variables.
// A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid engine config")
	}

	return &cfg, nil
}
