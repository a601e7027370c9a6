package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"liqzones/pkg/logger"
)

// Worker is a periodic background job
type Worker interface {
	// Name returns the unique identifier for this worker
	Name() string

	// Run completes one iteration of work and returns.
	// The scheduler calls it again every Interval().
	Run(ctx context.Context) error

	Interval() time.Duration
	Enabled() bool
}

// HealthReporter is implemented by workers that track their own runs
type HealthReporter interface {
	Health() WorkerHealth
	RecordRun(duration time.Duration)
	RecordError(err error, duration time.Duration)
}

// WorkerHealth is a snapshot of a worker's run statistics
type WorkerHealth struct {
	LastRun     time.Time
	LastError   error
	RunCount    int64
	ErrorCount  int64
	AvgDuration time.Duration
	Enabled     bool
}

// runStats accumulates run outcomes. LastError is cleared by the next success.
type runStats struct {
	mu         sync.Mutex
	lastRun    time.Time
	lastError  error
	runs       int64
	errors     int64
	totalSpent time.Duration
}

func (s *runStats) record(err error, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now()
	s.runs++
	s.totalSpent += took
	s.lastError = err
	if err != nil {
		s.errors++
	}
}

func (s *runStats) snapshot() WorkerHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := WorkerHealth{
		LastRun:    s.lastRun,
		LastError:  s.lastError,
		RunCount:   s.runs,
		ErrorCount: s.errors,
	}
	if s.runs > 0 {
		h.AvgDuration = s.totalSpent / time.Duration(s.runs)
	}
	return h
}

// BaseWorker provides name, interval, enabled flag and run statistics.
// Embed it and implement Run.
type BaseWorker struct {
	name     string
	interval time.Duration
	enabled  atomic.Bool
	stats    runStats
	log      *logger.Logger
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(name string, interval time.Duration, enabled bool) *BaseWorker {
	w := &BaseWorker{
		name:     name,
		interval: interval,
		log:      logger.Component("worker").With("worker", name),
	}
	w.enabled.Store(enabled)
	return w
}

func (w *BaseWorker) Name() string            { return w.name }
func (w *BaseWorker) Interval() time.Duration { return w.interval }
func (w *BaseWorker) Enabled() bool           { return w.enabled.Load() }
func (w *BaseWorker) Log() *logger.Logger     { return w.log }

// SetEnabled toggles the worker. Disabled workers are skipped by the scheduler.
func (w *BaseWorker) SetEnabled(enabled bool) {
	if w.enabled.Swap(enabled) != enabled {
		w.log.Infow("Worker toggled", "enabled", enabled)
	}
}

// Health returns run statistics for the worker
func (w *BaseWorker) Health() WorkerHealth {
	h := w.stats.snapshot()
	h.Enabled = w.Enabled()
	return h
}

// RecordRun records a successful run
func (w *BaseWorker) RecordRun(duration time.Duration) { w.stats.record(nil, duration) }

// RecordError records a failed run
func (w *BaseWorker) RecordError(err error, duration time.Duration) { w.stats.record(err, duration) }
