package testsupport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnv(t *testing.T) {
	if testing.Short() {
		t.Skip("config helpers skip in short mode")
	}

	t.Setenv("POSTGRES_HOST", "localhost")
	t.Setenv("POSTGRES_PORT", "5543")
	t.Setenv("CLICKHOUSE_HOST", "click")
	t.Setenv("CLICKHOUSE_PORT", "not-a-number")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_DB", "2")

	pg := PostgresConfigFromEnv(t)
	assert.Equal(t, "localhost", pg.Host)
	assert.Equal(t, 5543, pg.Port)
	assert.Equal(t, "disable", pg.SSLMode)

	ch := ClickHouseConfigFromEnv(t)
	assert.Equal(t, "click", ch.Host)
	assert.Equal(t, 9000, ch.Port)

	rd := RedisConfigFromEnv(t)
	assert.Equal(t, "redis:6379", rd.Addr())
	assert.Equal(t, 2, rd.DB)
}
