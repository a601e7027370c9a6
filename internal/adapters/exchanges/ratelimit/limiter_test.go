package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenThrottle(t *testing.T) {
	l := NewLimiter("test", 60) // 1 rps, burst 6

	for i := 0; i < 6; i++ {
		assert.True(t, l.Allow(), "burst token %d", i)
	}
	assert.False(t, l.Allow())
}

func TestLimiter_WaitRespectsContext(t *testing.T) {
	l := NewLimiter("test", 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter test")
}
