package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liqzones_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liqzones_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Engine metrics
	TradesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_trades_ingested_total",
			Help: "Total number of trades accepted by the engine",
		},
		[]string{"coin"},
	)

	InferredEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_inferred_events_total",
			Help: "Liquidation candidates per inference pattern before deduplication",
		},
		[]string{"coin", "pattern"},
	)

	ZonesComputed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liqzones_zones",
			Help: "Number of zones in the latest computation",
		},
		[]string{"coin", "timeframe"},
	)

	ComputeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liqzones_compute_duration_seconds",
			Help:    "Zone computation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"coin", "path"}, // path: sequential|accelerated|multi_timeframe
	)

	LifecycleEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_lifecycle_events_total",
			Help: "Streaming zone transitions",
		},
		[]string{"coin", "kind"}, // kind: formed|updated|broken
	)

	SubscriberFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_subscriber_failures_total",
			Help: "Lifecycle subscribers that returned an error or panicked",
		},
		[]string{"coin", "kind"},
	)

	ActiveZones = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liqzones_active_zones",
			Help: "Zones currently tracked by the streaming differ",
		},
		[]string{"coin"},
	)

	// Predictor metrics
	PredictorTrainings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_predictor_trainings_total",
			Help: "Predictor training runs",
		},
		[]string{"source", "status"}, // source: real|synthetic
	)

	PredictorAccuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liqzones_predictor_train_accuracy",
			Help: "Training accuracy of the current predictor",
		},
	)

	// Exchange metrics
	ExchangeAPICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_exchange_api_calls_total",
			Help: "Total number of exchange REST calls",
		},
		[]string{"exchange", "endpoint", "status"},
	)

	ExchangeAPILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liqzones_exchange_api_latency_seconds",
			Help:    "Exchange REST latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"exchange", "endpoint"},
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_kafka_messages_total",
			Help: "Total Kafka messages produced/consumed",
		},
		[]string{"topic", "direction", "status"}, // direction: produced|consumed
	)

	WebSocketConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liqzones_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
		[]string{"exchange"},
	)

	MarketDataReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_marketdata_reconnects_total",
			Help: "Total number of market data WebSocket reconnect attempts",
		},
		[]string{"status"}, // status: success|failed
	)

	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liqzones_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"},
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liqzones_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"database", "operation"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)

	prometheus.MustRegister(TradesIngested)
	prometheus.MustRegister(InferredEvents)
	prometheus.MustRegister(ZonesComputed)
	prometheus.MustRegister(ComputeDuration)
	prometheus.MustRegister(LifecycleEvents)
	prometheus.MustRegister(SubscriberFailures)
	prometheus.MustRegister(ActiveZones)

	prometheus.MustRegister(PredictorTrainings)
	prometheus.MustRegister(PredictorAccuracy)

	prometheus.MustRegister(ExchangeAPICalls)
	prometheus.MustRegister(ExchangeAPILatency)

	prometheus.MustRegister(KafkaMessages)
	prometheus.MustRegister(WebSocketConnections)
	prometheus.MustRegister(MarketDataReconnects)

	prometheus.MustRegister(DBQueries)
	prometheus.MustRegister(DBQueryDuration)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, status(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordCompute records one zone computation
func RecordCompute(coin, timeframe, path string, zones int, duration time.Duration) {
	ZonesComputed.WithLabelValues(coin, timeframe).Set(float64(zones))
	ComputeDuration.WithLabelValues(coin, path).Observe(duration.Seconds())
}

// RecordTraining records a predictor training run
func RecordTraining(source string, accuracy float64, err error) {
	PredictorTrainings.WithLabelValues(source, status(err)).Inc()
	if err == nil {
		PredictorAccuracy.Set(accuracy)
	}
}

// RecordExchangeAPICall records an exchange REST call
func RecordExchangeAPICall(exchange, endpoint string, latency time.Duration, err error) {
	ExchangeAPICalls.WithLabelValues(exchange, endpoint, status(err)).Inc()
	ExchangeAPILatency.WithLabelValues(exchange, endpoint).Observe(latency.Seconds())
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, duration time.Duration, err error) {
	DBQueries.WithLabelValues(database, operation, status(err)).Inc()
	DBQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}
