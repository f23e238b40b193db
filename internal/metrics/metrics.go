// Package metrics implements the Prometheus instrumentation for the
// ingestion core, plus a lightweight in-memory fallback recorded alongside
// the Prometheus instruments whenever the collector is enabled, so simple
// status reporting can read counters without the Prometheus registry.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Simple mirrors the HTTP, entity and sync counters in-memory, independent
// of Prometheus registration; cache hits and circuit breaker counts are not
// mirrored. Collector.Simple returns a snapshot of it.
type Simple struct {
	mu sync.Mutex

	HTTPRequests      int64
	HTTPErrors        int64
	HTTPTotalDuration time.Duration
	EntitiesSynced    map[string]int64
	SyncRuns          int64
	SyncErrors        int64
	ActiveSyncs       int64
}

func newSimple() *Simple {
	return &Simple{EntitiesSynced: make(map[string]int64)}
}

// Snapshot is a point-in-time copy safe to serialize.
type Snapshot struct {
	HTTPRequestsTotal      int64            `json:"http_requests_total"`
	HTTPErrorsTotal        int64            `json:"http_errors_total"`
	HTTPAvgDurationSeconds float64          `json:"http_avg_duration_seconds"`
	EntitiesSyncedTotal    int64            `json:"entities_synced_total"`
	EntitiesByType         map[string]int64 `json:"entities_by_type"`
	SyncRunsTotal          int64            `json:"sync_runs_total"`
	SyncErrorsTotal        int64            `json:"sync_errors_total"`
	ActiveSyncs            int64            `json:"active_syncs"`
}

func (s *Simple) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[string]int64, len(s.EntitiesSynced))
	var total int64
	for k, v := range s.EntitiesSynced {
		byType[k] = v
		total += v
	}

	avg := 0.0
	if s.HTTPRequests > 0 {
		avg = s.HTTPTotalDuration.Seconds() / float64(s.HTTPRequests)
	}

	return Snapshot{
		HTTPRequestsTotal:      s.HTTPRequests,
		HTTPErrorsTotal:        s.HTTPErrors,
		HTTPAvgDurationSeconds: avg,
		EntitiesSyncedTotal:    total,
		EntitiesByType:         byType,
		SyncRunsTotal:          s.SyncRuns,
		SyncErrorsTotal:        s.SyncErrors,
		ActiveSyncs:            s.ActiveSyncs,
	}
}

// Collector owns every Prometheus instrument plus the Simple fallback.
type Collector struct {
	enabled bool
	simple  *Simple
	reg     *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	httpErrorsTotal        *prometheus.CounterVec
	entitiesSyncedTotal    *prometheus.CounterVec
	entitiesPerSync        *prometheus.HistogramVec
	syncDuration           *prometheus.HistogramVec
	syncRunsTotal          *prometheus.CounterVec
	activeSyncs            prometheus.Gauge
	circuitBreakerState    *prometheus.GaugeVec
	circuitBreakerFailures *prometheus.CounterVec
	cacheHitsTotal         *prometheus.CounterVec
}

// New creates a Collector and registers all instruments on a fresh registry.
// When enabled is false, recordings are no-ops against both Prometheus and
// the simple fallback (matching the original's single `enabled` gate).
func New(enabled bool) *Collector {
	c := &Collector{enabled: enabled, simple: newSimple(), reg: prometheus.NewRegistry()}
	if !enabled {
		return c
	}

	c.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mandari_ingestor_http_requests_total",
		Help: "Total HTTP requests made",
	}, []string{"source", "status"})

	c.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mandari_ingestor_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"source"})

	c.httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mandari_ingestor_http_errors_total",
		Help: "Total HTTP errors",
	}, []string{"source", "error_type"})

	c.entitiesSyncedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mandari_ingestor_entities_synced_total",
		Help: "Total entities synced",
	}, []string{"entity_type", "source", "action"})

	c.entitiesPerSync = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mandari_ingestor_entities_per_sync",
		Help:    "Number of entities synced per run",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000},
	}, []string{"source"})

	c.syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mandari_ingestor_sync_duration_seconds",
		Help:    "Sync operation duration in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"source", "sync_type"})

	c.syncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mandari_ingestor_sync_runs_total",
		Help: "Total sync runs",
	}, []string{"source", "sync_type", "status"})

	c.activeSyncs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mandari_ingestor_active_syncs",
		Help: "Number of currently active sync operations",
	})

	c.circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mandari_ingestor_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"source"})

	c.circuitBreakerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mandari_ingestor_circuit_breaker_failures_total",
		Help: "Circuit breaker failure count",
	}, []string{"source"})

	c.cacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mandari_ingestor_cache_hits_total",
		Help: "Total cache hits (ETag/304 responses)",
	}, []string{"source"})

	c.reg.MustRegister(
		c.httpRequestsTotal, c.httpRequestDuration, c.httpErrorsTotal,
		c.entitiesSyncedTotal, c.entitiesPerSync,
		c.syncDuration, c.syncRunsTotal, c.activeSyncs,
		c.circuitBreakerState, c.circuitBreakerFailures, c.cacheHitsTotal,
	)

	return c
}

// Registry exposes the underlying registry for wiring promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Simple returns a snapshot of the in-memory fallback counters.
func (c *Collector) Simple() Snapshot {
	return c.simple.snapshot()
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// RecordHTTPRequest records a completed HTTP call (including 304s).
func (c *Collector) RecordHTTPRequest(source string, status int, duration time.Duration) {
	if !c.enabled {
		return
	}

	c.simple.mu.Lock()
	c.simple.HTTPRequests++
	c.simple.HTTPTotalDuration += duration
	c.simple.mu.Unlock()

	c.httpRequestsTotal.WithLabelValues(source, statusLabel(status)).Inc()
	c.httpRequestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordCacheHit records a 304 response.
func (c *Collector) RecordCacheHit(source string) {
	if !c.enabled {
		return
	}
	c.cacheHitsTotal.WithLabelValues(source).Inc()
}

// RecordHTTPError records a failed HTTP call by classified error type.
func (c *Collector) RecordHTTPError(source, errorType string) {
	if !c.enabled {
		return
	}

	c.simple.mu.Lock()
	c.simple.HTTPErrors++
	c.simple.mu.Unlock()

	c.httpErrorsTotal.WithLabelValues(source, errorType).Inc()
}

// RecordEntitySynced records one entity create/update/skip.
func (c *Collector) RecordEntitySynced(entityType, source, action string) {
	if !c.enabled {
		return
	}

	c.simple.mu.Lock()
	c.simple.EntitiesSynced[entityType]++
	c.simple.mu.Unlock()

	c.entitiesSyncedTotal.WithLabelValues(entityType, source, action).Inc()
}

// RecordEntitiesBatch observes the size of one sync's entity batch.
func (c *Collector) RecordEntitiesBatch(source string, count int) {
	if !c.enabled {
		return
	}
	c.entitiesPerSync.WithLabelValues(source).Observe(float64(count))
}

// SetCircuitBreakerState updates the breaker-state gauge (0/1/2).
func (c *Collector) SetCircuitBreakerState(source string, state int) {
	if !c.enabled {
		return
	}
	c.circuitBreakerState.WithLabelValues(source).Set(float64(state))
	if state != 0 {
		c.circuitBreakerFailures.WithLabelValues(source).Inc()
	}
}

// SyncTracker scopes one sync run's duration/status/active-gauge bookkeeping.
type SyncTracker struct {
	c        *Collector
	source   string
	syncType string
	start    time.Time
}

// TrackSync begins tracking one sync run. Call Finish(err) when it ends.
func (c *Collector) TrackSync(source, syncType string) *SyncTracker {
	if !c.enabled {
		return &SyncTracker{c: c, source: source, syncType: syncType, start: time.Now()}
	}

	c.simple.mu.Lock()
	c.simple.ActiveSyncs++
	c.simple.SyncRuns++
	c.simple.mu.Unlock()

	c.activeSyncs.Inc()

	return &SyncTracker{c: c, source: source, syncType: syncType, start: time.Now()}
}

// Finish records the sync's duration and outcome. Pass the sync error, if
// any; nil means success.
func (t *SyncTracker) Finish(err error) {
	if !t.c.enabled {
		return
	}

	duration := time.Since(t.start)
	status := "success"
	if err != nil {
		status = "error"
		t.c.simple.mu.Lock()
		t.c.simple.SyncErrors++
		t.c.simple.mu.Unlock()
	}

	t.c.simple.mu.Lock()
	t.c.simple.ActiveSyncs--
	t.c.simple.mu.Unlock()

	t.c.activeSyncs.Dec()
	t.c.syncDuration.WithLabelValues(t.source, t.syncType).Observe(duration.Seconds())
	t.c.syncRunsTotal.WithLabelValues(t.source, t.syncType, status).Inc()
}
