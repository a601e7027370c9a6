package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"liqzones/internal/workers"
	"liqzones/pkg/logger"
)

// Component statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// WorkerSource exposes the run statistics of a background worker
type WorkerSource interface {
	Name() string
	Health() workers.WorkerHealth
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	startTime   time.Time
	serviceName string
	version     string

	mu      sync.RWMutex
	checks  map[string]CheckFunc
	workers []WorkerSource
}

// New creates a health handler with no checks
func New(log *logger.Logger, serviceName, version string) *Handler {
	return &Handler{
		log:         log,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
		checks:      make(map[string]CheckFunc),
	}
}

// AddCheck registers a named dependency probe
func (h *Handler) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

// AddWorker includes a worker's run statistics in the detailed report
func (h *Handler) AddWorker(w WorkerSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers = append(h.workers, w)
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"`
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
	Workers   map[string]WorkerStatus    `json:"workers,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WorkerStatus summarizes a worker's runs
type WorkerStatus struct {
	Enabled     bool   `json:"enabled"`
	LastRun     string `json:"last_run,omitempty"`
	RunCount    int64  `json:"run_count"`
	ErrorCount  int64  `json:"error_count"`
	AvgDuration string `json:"avg_duration"`
	LastError   string `json:"last_error,omitempty"`
}

// HandleLiveness returns 200 OK while the process is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness returns 503 unless every dependency check passes
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.status(ctx, false)
	code := http.StatusOK
	if status.Status != StatusHealthy {
		status.Status = StatusUnhealthy
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", status.Checks)
	}
	writeJSON(w, code, status)
}

// HandleHealth returns the detailed report. Partial failures are degraded, not fatal.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := h.status(ctx, true)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *Handler) status(ctx context.Context, withWorkers bool) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	sources := append([]WorkerSource(nil), h.workers...)
	h.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Status:    StatusHealthy,
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]ComponentHealth, len(names)),
	}

	healthy := 0
	for _, name := range names {
		c := runCheck(ctx, checks[name])
		if c.Status == StatusHealthy {
			healthy++
		} else {
			h.log.Errorw("Health check failed", "component", name, "error", c.Error, "elapsed", c.ResponseTime)
		}
		status.Checks[name] = c
	}

	switch {
	case len(names) > 0 && healthy == 0:
		status.Status = StatusUnhealthy
	case healthy < len(names):
		status.Status = StatusDegraded
	}

	if withWorkers && len(sources) > 0 {
		status.Workers = make(map[string]WorkerStatus, len(sources))
		for _, src := range sources {
			wh := src.Health()
			ws := WorkerStatus{
				Enabled:     wh.Enabled,
				RunCount:    wh.RunCount,
				ErrorCount:  wh.ErrorCount,
				AvgDuration: wh.AvgDuration.String(),
			}
			if !wh.LastRun.IsZero() {
				ws.LastRun = wh.LastRun.UTC().Format(time.RFC3339)
			}
			if wh.LastError != nil {
				ws.LastError = wh.LastError.Error()
			}
			status.Workers[src.Name()] = ws
		}
	}

	return status
}

func runCheck(ctx context.Context, fn CheckFunc) ComponentHealth {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:       StatusUnhealthy,
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}
	return ComponentHealth{
		Status:       StatusHealthy,
		ResponseTime: elapsed.String(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
