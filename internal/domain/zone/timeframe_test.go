package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqzones/pkg/errors"
)

func TestValidateTimeframes(t *testing.T) {
	all, err := ValidateTimeframes(nil)
	require.NoError(t, err)
	assert.Len(t, all, 15)

	got, err := ValidateTimeframes([]string{"5m", "1M"})
	require.NoError(t, err)
	assert.Equal(t, []string{"5m", "1M"}, got)

	_, err = ValidateTimeframes([]string{"5m", "7m"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownTimeframe))
}

func TestTimeframeMinutes(t *testing.T) {
	m, ok := TimeframeMinutes("1M")
	require.True(t, ok)
	assert.Equal(t, 43200, m)

	m, ok = TimeframeMinutes("1w")
	require.True(t, ok)
	assert.Equal(t, 10080, m)

	for _, tf := range Timeframes {
		_, ok := TimeframeMinutes(tf)
		assert.True(t, ok, tf)
	}
}

func TestBucketID(t *testing.T) {
	assert.Equal(t, "80000", BucketID(80004.9))
	assert.Equal(t, "80010", BucketID(80005.1))
	// half-to-even on the bucket boundary
	assert.Equal(t, "80000", BucketID(80005))
	assert.Equal(t, "80020", BucketID(80015))
	assert.Equal(t, "80005", PriceKey(80005.2))
}
