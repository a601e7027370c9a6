package reconnect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liqzones/pkg/logger"
)

func newTestLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{}, newTestLogger())

	assert.Equal(t, 10, m.maxRetries)
	assert.Equal(t, 60*time.Second, m.heartbeatTimeout)
	assert.Equal(t, 5*time.Minute, m.circuitResetAfter)
	assert.Equal(t, time.Second, m.GetBackoff())
	assert.False(t, m.circuitOpen)
}

func TestIsHealthy(t *testing.T) {
	m := NewManager(Config{HeartbeatTimeout: time.Minute}, newTestLogger())

	assert.True(t, m.IsHealthy(), "no messages yet")

	m.RecordMessageReceived()
	assert.True(t, m.IsHealthy())

	m.lastMessageTime.Store(time.Now().Add(-2 * time.Minute).UnixNano())
	assert.False(t, m.IsHealthy(), "stale heartbeat")

	m.RecordMessageReceived()
	m.mu.Lock()
	m.circuitOpen = true
	m.mu.Unlock()
	assert.False(t, m.IsHealthy(), "open circuit")
}

func TestRecordFailure_BackoffGrowsAndCircuitOpens(t *testing.T) {
	m := NewManager(Config{
		MinBackoff:        100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
		MaxRetries:        3,
	}, newTestLogger())

	m.RecordFailure()
	assert.Equal(t, 200*time.Millisecond, m.GetBackoff())
	assert.True(t, m.ShouldRetry())

	m.RecordFailure()
	assert.Equal(t, 400*time.Millisecond, m.GetBackoff())

	m.RecordFailure()
	assert.False(t, m.ShouldRetry())
	assert.True(t, m.GetStats().CircuitOpen)

	for i := 0; i < 5; i++ {
		m.RecordFailure()
	}
	assert.Equal(t, time.Second, m.GetBackoff(), "capped at max")
}

func TestShouldRetry_AfterCircuitResetPeriod(t *testing.T) {
	m := NewManager(Config{MaxRetries: 1, CircuitResetAfter: time.Minute}, newTestLogger())

	m.RecordFailure()
	assert.False(t, m.ShouldRetry())

	m.mu.Lock()
	m.circuitOpenedAt = time.Now().Add(-2 * time.Minute)
	m.mu.Unlock()
	assert.True(t, m.ShouldRetry())
}

func TestRecordSuccess_Resets(t *testing.T) {
	m := NewManager(Config{MinBackoff: 10 * time.Millisecond, MaxRetries: 2}, newTestLogger())

	m.RecordFailure()
	m.RecordFailure()
	require.True(t, m.GetStats().CircuitOpen)

	m.RecordSuccess()
	stats := m.GetStats()
	assert.False(t, stats.CircuitOpen)
	assert.Zero(t, stats.ConsecutiveFailures)
	assert.Equal(t, 1, stats.TotalReconnects)
	assert.Equal(t, 10*time.Millisecond, stats.CurrentBackoff)
	assert.False(t, stats.LastMessageTime.IsZero())
}

func TestResetCircuit(t *testing.T) {
	m := NewManager(Config{MaxRetries: 1}, newTestLogger())
	m.RecordFailure()
	require.False(t, m.ShouldRetry())

	m.ResetCircuit()
	assert.True(t, m.ShouldRetry())
	assert.Zero(t, m.GetStats().ConsecutiveFailures)
}

func TestReconnectWithBackoff(t *testing.T) {
	m := NewManager(Config{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxRetries: 2}, newTestLogger())
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) error {
		calls++
		return errors.New("dial failed")
	}

	require.Error(t, m.ReconnectWithBackoff(ctx, failing))
	require.Error(t, m.ReconnectWithBackoff(ctx, failing))

	err := m.ReconnectWithBackoff(ctx, failing)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open circuit skips the attempt")

	m.ResetCircuit()
	require.NoError(t, m.ReconnectWithBackoff(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, 1, m.GetStats().TotalReconnects)
}

func TestReconnectWithBackoff_ContextCancellation(t *testing.T) {
	m := NewManager(Config{MinBackoff: time.Minute}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.ReconnectWithBackoff(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestConcurrentAccess(t *testing.T) {
	m := NewManager(Config{MaxRetries: 1000}, newTestLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.RecordMessageReceived()
				if (i+j)%2 == 0 {
					m.RecordFailure()
				} else {
					m.RecordSuccess()
				}
				_ = m.GetStats()
				_ = m.ShouldRetry()
			}
		}(i)
	}
	wg.Wait()
}
