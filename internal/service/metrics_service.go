package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sorteo-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic, the cache and the
// ticket validation lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	validationsCreated prometheus.Counter
	verdicts           *prometheus.CounterVec
	decisionLatency    prometheus.Histogram
	dispatches         *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	registrations      *prometheus.CounterVec
	sweptRecords       prometheus.Counter
	sweepFailures      prometheus.Counter

	requestCount         uint64
	requestDurationTotal uint64
	cacheHitCount        uint64
	cacheMissCount       uint64
	validationCount      uint64
	registrationCount    uint64
	sweptCount           uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache set operations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),
		validationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticket_validations_created_total",
			Help: "Ticket validation attempts created from uploads",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_validation_verdicts_total",
			Help: "Verdict deliveries by source and outcome",
		}, []string{"source", "outcome"}),
		decisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticket_validation_decision_seconds",
			Help:    "Time from upload to applied verdict",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 900, 1800},
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_validation_dispatch_total",
			Help: "Outbound validation requests by outcome",
		}, []string{"outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "participant_registrations_total",
			Help: "Registration attempts by outcome",
		}, []string{"outcome"}),
		sweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticket_validations_swept_total",
			Help: "Expired pending validations removed by the sweeper",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticket_validation_sweep_failures_total",
			Help: "Sweeper runs that failed",
		}),
	}

	registry.MustRegister(
		m.requestDuration, m.requestTotal,
		m.cacheLatency, m.cacheWrite, m.cacheHits, m.cacheMisses,
		m.validationsCreated, m.verdicts, m.decisionLatency, m.dispatches,
		m.breakerState, m.registrations, m.sweptRecords, m.sweepFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheMisses.Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ValidationCreated counts a new pending validation.
func (m *MetricsService) ValidationCreated() {
	if m == nil {
		return
	}
	m.validationsCreated.Inc()
	atomic.AddUint64(&m.validationCount, 1)
}

// VerdictReceived counts a verdict delivery. Latency is only observed for applied verdicts.
func (m *MetricsService) VerdictReceived(source string, outcome models.ApplyOutcome, latency time.Duration) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(source, string(outcome)).Inc()
	if outcome == models.ApplyApplied && latency > 0 {
		m.decisionLatency.Observe(latency.Seconds())
	}
}

// DispatchResult counts an outbound validation request.
func (m *MetricsService) DispatchResult(outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

// BreakerState publishes a circuit breaker transition.
func (m *MetricsService) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// RegistrationResult counts a registration attempt.
func (m *MetricsService) RegistrationResult(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
	if outcome == "registered" {
		atomic.AddUint64(&m.registrationCount, 1)
	}
}

// SweepResult records one sweeper pass.
func (m *MetricsService) SweepResult(deleted int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepFailures.Inc()
		return
	}
	m.sweptRecords.Add(float64(deleted))
	atomic.AddUint64(&m.sweptCount, uint64(deleted))
}

// Snapshot returns aggregated process counters for the admin dashboard.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		ValidationsCreated:       atomic.LoadUint64(&m.validationCount),
		Registrations:            atomic.LoadUint64(&m.registrationCount),
		SweptValidations:         atomic.LoadUint64(&m.sweptCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
