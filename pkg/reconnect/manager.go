package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker refuses reconnect attempts
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Manager tracks stream liveness and paces reconnects with exponential backoff
// and a circuit breaker. Used by the market data feed for every exchange client.
type Manager struct {
	maxRetries        int
	heartbeatTimeout  time.Duration
	circuitResetAfter time.Duration

	mu                  sync.RWMutex
	backoff             *backoff.Backoff
	consecutiveFailures int
	totalReconnects     int
	circuitOpen         bool
	circuitOpenedAt     time.Time

	lastMessageTime atomic.Int64 // unix nanos, 0 until the first message

	logger *logger.Logger
}

// Config configures the reconnect manager
type Config struct {
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
	MaxRetries        int           // consecutive failures before the circuit opens
	HeartbeatTimeout  time.Duration // silence longer than this marks the stream dead
	CircuitResetAfter time.Duration
}

// NewManager creates a new reconnect manager, filling zero fields with defaults
func NewManager(config Config, log *logger.Logger) *Manager {
	if config.MinBackoff == 0 {
		config.MinBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.BackoffMultiplier == 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 10
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 60 * time.Second
	}
	if config.CircuitResetAfter == 0 {
		config.CircuitResetAfter = 5 * time.Minute
	}

	return &Manager{
		maxRetries:        config.MaxRetries,
		heartbeatTimeout:  config.HeartbeatTimeout,
		circuitResetAfter: config.CircuitResetAfter,
		backoff: &backoff.Backoff{
			Min:    config.MinBackoff,
			Max:    config.MaxBackoff,
			Factor: config.BackoffMultiplier,
			Jitter: config.Jitter,
		},
		logger: log,
	}
}

// RecordMessageReceived updates the heartbeat. Call it for every inbound message.
func (m *Manager) RecordMessageReceived() {
	m.lastMessageTime.Store(time.Now().UnixNano())
}

func (m *Manager) lastMessage() time.Time {
	ns := m.lastMessageTime.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// IsHealthy reports false while the circuit is open or the stream has gone silent
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	open := m.circuitOpen
	m.mu.RUnlock()
	if open {
		return false
	}

	last := m.lastMessage()
	if last.IsZero() {
		// nothing received yet, just connected
		return true
	}

	if silence := time.Since(last); silence > m.heartbeatTimeout {
		m.logger.Warnw("Connection appears dead - no messages received",
			"time_since_last_message", silence,
			"heartbeat_timeout", m.heartbeatTimeout,
		)
		return false
	}
	return true
}

// ShouldRetry returns whether a reconnect attempt is allowed now
func (m *Manager) ShouldRetry() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.circuitOpen {
		return time.Since(m.circuitOpenedAt) >= m.circuitResetAfter
	}
	return m.consecutiveFailures < m.maxRetries
}

// GetBackoff returns the delay before the next attempt
func (m *Manager) GetBackoff() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backoff.ForAttempt(m.backoff.Attempt())
}

// RecordFailure advances the backoff and opens the circuit after MaxRetries
func (m *Manager) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++
	next := m.backoff.Duration()

	m.logger.Warnw("Reconnection failed",
		"consecutive_failures", m.consecutiveFailures,
		"next_backoff", next,
	)

	if m.consecutiveFailures >= m.maxRetries {
		m.circuitOpen = true
		m.circuitOpenedAt = time.Now()
		m.logger.Errorw("Circuit breaker opened",
			"consecutive_failures", m.consecutiveFailures,
			"circuit_reset_after", m.circuitResetAfter,
		)
	}
}

// RecordSuccess resets the backoff and closes the circuit
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consecutiveFailures > 0 {
		m.logger.Infow("Reconnection successful, resetting backoff",
			"previous_consecutive_failures", m.consecutiveFailures,
		)
	}

	m.backoff.Reset()
	m.consecutiveFailures = 0
	m.totalReconnects++

	if m.circuitOpen {
		m.logger.Infow("Circuit breaker closed", "total_reconnects", m.totalReconnects)
		m.circuitOpen = false
		m.circuitOpenedAt = time.Time{}
	}

	m.lastMessageTime.Store(time.Now().UnixNano())
}

// ResetCircuit manually resets the circuit breaker
func (m *Manager) ResetCircuit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.circuitOpen = false
	m.circuitOpenedAt = time.Time{}
	m.consecutiveFailures = 0
	m.backoff.Reset()
}

// Stats contains reconnection statistics
type Stats struct {
	ConsecutiveFailures  int
	TotalReconnects      int
	CurrentBackoff       time.Duration
	CircuitOpen          bool
	CircuitOpenedAt      time.Time
	LastMessageTime      time.Time
	TimeSinceLastMessage time.Duration
	IsHealthy            bool
}

// GetStats returns current reconnect manager stats
func (m *Manager) GetStats() Stats {
	healthy := m.IsHealthy()
	last := m.lastMessage()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var since time.Duration
	if !last.IsZero() {
		since = time.Since(last)
	}

	return Stats{
		ConsecutiveFailures:  m.consecutiveFailures,
		TotalReconnects:      m.totalReconnects,
		CurrentBackoff:       m.backoff.ForAttempt(m.backoff.Attempt()),
		CircuitOpen:          m.circuitOpen,
		CircuitOpenedAt:      m.circuitOpenedAt,
		LastMessageTime:      last,
		TimeSinceLastMessage: since,
		IsHealthy:            healthy,
	}
}

// ReconnectWithBackoff waits the current backoff and runs reconnectFn once.
// It fails fast with ErrCircuitOpen when the breaker refuses the attempt.
func (m *Manager) ReconnectWithBackoff(ctx context.Context, reconnectFn func(context.Context) error) error {
	if !m.ShouldRetry() {
		m.mu.RLock()
		failures := m.consecutiveFailures
		m.mu.RUnlock()
		return errors.Wrapf(ErrCircuitOpen, "%d consecutive failures", failures)
	}

	if wait := m.GetBackoff(); wait > 0 {
		m.logger.Infow("Waiting before reconnect attempt", "backoff", wait)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if err := reconnectFn(ctx); err != nil {
		m.RecordFailure()
		return errors.Wrap(err, "reconnection failed")
	}

	m.RecordSuccess()
	return nil
}
