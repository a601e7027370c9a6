package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liqzones/internal/workers"
	"liqzones/pkg/logger"
)

func newTestHandler() *Handler {
	zapLog, _ := zap.NewDevelopment()
	return New(&logger.Logger{SugaredLogger: zapLog.Sugar()}, "liqzones", "test")
}

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func decode(t *testing.T, rec *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	return status
}

func TestHandleLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler().HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestHandleReadiness(t *testing.T) {
	h := newTestHandler()
	h.AddCheck("redis", ok)
	h.AddCheck("clickhouse", ok)

	rec := httptest.NewRecorder()
	h.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusHealthy, decode(t, rec).Status)

	h.AddCheck("postgres", down)
	rec = httptest.NewRecorder()
	h.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "connection refused", status.Checks["postgres"].Error)
	assert.Equal(t, StatusHealthy, status.Checks["redis"].Status)
	assert.Empty(t, status.Workers, "readiness omits workers")
}

type stubWorker struct {
	name   string
	health workers.WorkerHealth
}

func (s stubWorker) Name() string                 { return s.name }
func (s stubWorker) Health() workers.WorkerHealth { return s.health }

func TestHandleHealth_DegradedWithWorkers(t *testing.T) {
	h := newTestHandler()
	h.AddCheck("redis", ok)
	h.AddCheck("ws:binance", down)
	h.AddWorker(stubWorker{name: "zone_worker", health: workers.WorkerHealth{
		Enabled:     true,
		LastRun:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RunCount:    10,
		ErrorCount:  1,
		AvgDuration: 20 * time.Millisecond,
		LastError:   errors.New("clickhouse down"),
	}})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded still serves")

	status := decode(t, rec)
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, "liqzones", status.Service)
	require.Contains(t, status.Workers, "zone_worker")
	w := status.Workers["zone_worker"]
	assert.Equal(t, int64(10), w.RunCount)
	assert.Equal(t, "clickhouse down", w.LastError)
	assert.Equal(t, "2024-01-01T00:00:00Z", w.LastRun)
}

func TestHandleHealth_AllDown(t *testing.T) {
	h := newTestHandler()
	h.AddCheck("redis", down)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusUnhealthy, decode(t, rec).Status)
}

func TestHandleHealth_NoChecks(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler().HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusHealthy, decode(t, rec).Status)
}
