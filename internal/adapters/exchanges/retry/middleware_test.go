package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/pkg/errors"
)

type statusErr int

func (s statusErr) Error() string   { return "http error" }
func (s statusErr) StatusCode() int { return int(s) }

func fastConfig() Config {
	return Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(context.Background(), func() error {
		calls++
		return errors.New("invalid symbol")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(context.Background(), func() error {
		calls++
		return statusErr(503)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (2) exceeded")
	assert.Equal(t, 3, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{statusErr(429), true},
		{statusErr(400), false},
		{statusErr(502), true},
		{errors.New("Rate limit exceeded"), true},
		{errors.New("bad request"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "%v", tt.err)
	}
}

func TestDelay_Strategies(t *testing.T) {
	m := New(Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Strategy: StrategyExponential})
	assert.Equal(t, 10*time.Millisecond, m.delay(0))
	assert.Equal(t, 40*time.Millisecond, m.delay(2))
	assert.Equal(t, 50*time.Millisecond, m.delay(5))

	m = New(Config{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Strategy: StrategyLinear})
	assert.Equal(t, 30*time.Millisecond, m.delay(2))
}
