package websocket

import (
	"context"
	"sync"
	"time"

	"liqzones/internal/metrics"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
	"liqzones/pkg/reconnect"
)

// MarketDataManager keeps one exchange client connected: it watches the
// heartbeat and reconnects through reconnect.Manager when the stream goes quiet.
type MarketDataManager struct {
	exchange string
	client   Client
	config   ConnectionConfig
	logger   *logger.Logger

	reconnectMgr *reconnect.Manager

	mu                  sync.RWMutex
	connected           bool
	lastHealthCheck     time.Time
	healthCheckInterval time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}

	statsMu         sync.RWMutex
	totalReconnects int
}

// MarketDataManagerConfig configures the MarketDataManager
type MarketDataManagerConfig struct {
	HealthCheckInterval time.Duration
	ReconnectConfig     reconnect.Config
}

// Heartbeat wraps an EventHandler and records every inbound event on the reconnect manager
type Heartbeat struct {
	next EventHandler
	mgr  *reconnect.Manager
}

var _ EventHandler = (*Heartbeat)(nil)

func (h *Heartbeat) OnTrade(event *TradeEvent) error {
	h.mgr.RecordMessageReceived()
	return h.next.OnTrade(event)
}

func (h *Heartbeat) OnMarkPrice(event *MarkPriceEvent) error {
	h.mgr.RecordMessageReceived()
	return h.next.OnMarkPrice(event)
}

func (h *Heartbeat) OnLiquidation(event *LiquidationEvent) error {
	h.mgr.RecordMessageReceived()
	return h.next.OnLiquidation(event)
}

func (h *Heartbeat) OnKline(event *KlineEvent) error {
	h.mgr.RecordMessageReceived()
	return h.next.OnKline(event)
}

func (h *Heartbeat) OnError(err error) { h.next.OnError(err) }

// NewMarketDataManager creates a manager. newClient receives the heartbeat-wrapped
// handler so liveness is tracked without the client knowing about it.
func NewMarketDataManager(
	exchange string,
	handler EventHandler,
	newClient func(EventHandler) Client,
	config ConnectionConfig,
	managerConfig MarketDataManagerConfig,
	log *logger.Logger,
) *MarketDataManager {
	if managerConfig.HealthCheckInterval == 0 {
		managerConfig.HealthCheckInterval = 3 * time.Second
	}
	if managerConfig.ReconnectConfig.MinBackoff == 0 {
		managerConfig.ReconnectConfig = reconnect.Config{
			MinBackoff:        2 * time.Second,
			MaxBackoff:        2 * time.Minute,
			BackoffMultiplier: 2.0,
			Jitter:            true,
			MaxRetries:        5,
			HeartbeatTimeout:  45 * time.Second,
			CircuitResetAfter: 3 * time.Minute,
		}
	}

	reconnectMgr := reconnect.NewManager(managerConfig.ReconnectConfig, log)

	return &MarketDataManager{
		exchange:            exchange,
		client:              newClient(&Heartbeat{next: handler, mgr: reconnectMgr}),
		config:              config,
		logger:              log,
		reconnectMgr:        reconnectMgr,
		stopChan:            make(chan struct{}),
		doneChan:            make(chan struct{}),
		healthCheckInterval: managerConfig.HealthCheckInterval,
	}
}

// Start connects and launches the health loop. A failed first connect is
// retried by the health loop rather than failing startup.
func (m *MarketDataManager) Start(ctx context.Context) error {
	if err := m.connect(ctx); err != nil {
		m.logger.Errorw("Failed initial connection", "exchange", m.exchange, "error", err)
	}

	go m.healthCheckLoop(ctx)

	m.logger.Infow("Market data manager started",
		"exchange", m.exchange,
		"health_check_interval", m.healthCheckInterval,
	)
	return nil
}

func (m *MarketDataManager) connect(ctx context.Context) error {
	if err := m.client.Connect(ctx, m.config); err != nil {
		return errors.Wrap(err, "failed to connect")
	}
	if err := m.client.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start")
	}

	m.setConnected(true)
	m.reconnectMgr.RecordSuccess()

	m.logger.Infow("Market data WebSocket connected",
		"exchange", m.exchange,
		"streams", len(m.config.Streams),
	)
	return nil
}

func (m *MarketDataManager) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()

	gauge := 0.0
	if v {
		gauge = 1
	}
	metrics.WebSocketConnections.WithLabelValues(m.exchange).Set(gauge)
}

// Stop gracefully shuts down the manager
func (m *MarketDataManager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopChan) })

	if err := m.client.Stop(ctx); err != nil {
		m.logger.Errorw("Failed to stop client", "exchange", m.exchange, "error", err)
	}
	m.setConnected(false)

	select {
	case <-m.doneChan:
	case <-time.After(5 * time.Second):
		m.logger.Warnw("Market data manager stop timeout", "exchange", m.exchange)
	}
	return nil
}

func (m *MarketDataManager) healthCheckLoop(ctx context.Context) {
	defer close(m.doneChan)

	ticker := time.NewTicker(m.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performHealthCheck(ctx)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *MarketDataManager) performHealthCheck(ctx context.Context) {
	m.mu.Lock()
	m.lastHealthCheck = time.Now()
	m.mu.Unlock()

	isConnected := m.client.IsConnected()
	isHealthy := m.reconnectMgr.IsHealthy()
	if isConnected && isHealthy {
		return
	}

	stats := m.reconnectMgr.GetStats()
	m.logger.Warnw("Market data WebSocket unhealthy, attempting reconnect",
		"exchange", m.exchange,
		"connected", isConnected,
		"healthy", isHealthy,
		"time_since_last_message", stats.TimeSinceLastMessage,
		"consecutive_failures", stats.ConsecutiveFailures,
	)

	if err := m.reconnectMgr.ReconnectWithBackoff(ctx, m.reconnectFunc); err != nil {
		m.logger.Errorw("Failed to reconnect market data WebSocket", "exchange", m.exchange, "error", err)
		metrics.MarketDataReconnects.WithLabelValues("failed").Inc()
		return
	}

	m.logger.Infow("Market data WebSocket reconnected",
		"exchange", m.exchange,
		"total_reconnects", m.TotalReconnects(),
	)
	metrics.MarketDataReconnects.WithLabelValues("success").Inc()
}

// reconnectFunc stops the old connection and establishes a new one
func (m *MarketDataManager) reconnectFunc(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := m.client.Stop(stopCtx); err != nil {
		m.logger.Warnw("Failed to stop old connection gracefully", "exchange", m.exchange, "error", err)
	}
	cancel()
	m.setConnected(false)

	if err := m.connect(ctx); err != nil {
		return errors.Wrap(err, "failed to reconnect")
	}

	m.statsMu.Lock()
	m.totalReconnects++
	m.statsMu.Unlock()
	return nil
}

// Exchange returns the exchange this manager streams from
func (m *MarketDataManager) Exchange() string { return m.exchange }

// IsConnected returns current connection status
func (m *MarketDataManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MarketDataManager) TotalReconnects() int {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.totalReconnects
}

// GetStats returns manager statistics
func (m *MarketDataManager) GetStats() map[string]interface{} {
	m.mu.RLock()
	connected := m.connected
	lastCheck := m.lastHealthCheck
	m.mu.RUnlock()

	reconnectStats := m.reconnectMgr.GetStats()
	clientStats := m.client.GetStats()

	return map[string]interface{}{
		"exchange":                m.exchange,
		"connected":               connected,
		"total_reconnects":        m.TotalReconnects(),
		"last_health_check":       lastCheck,
		"messages_received":       clientStats.MessagesReceived,
		"errors":                  clientStats.ErrorCount,
		"consecutive_failures":    reconnectStats.ConsecutiveFailures,
		"circuit_open":            reconnectStats.CircuitOpen,
		"time_since_last_message": reconnectStats.TimeSinceLastMessage,
		"is_healthy":              reconnectStats.IsHealthy,
		"current_backoff":         reconnectStats.CurrentBackoff,
	}
}
