// Package telemetry provides the framework's logging, metrics and
// tracing collaborators. Metrics is grounded on
// tbsphathuynh-proxy/internal/metrics/metrics.go's Prometheus wiring and
// O-tero-Distributed-Caching-System/monitoring/metrics.go's atomic
// counters; Tracer generalizes
// original_source/monitoring/tracer.py's hand-rolled DistributedTracer
// into real spans bounded to a fixed-size ring buffer.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects request counters and a latency histogram via
// Prometheus collectors, registered against a private registry so
// multiple Framework instances in one process don't collide.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	breakerState  prometheus.Gauge
	queueDepth    prometheus.Gauge

	mu      sync.Mutex
	history []requestSample
}

type requestSample struct {
	Path    string
	Status  int
	Latency time.Duration
	At      time.Time
}

const maxHistory = 1000

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fantail_requests_total",
			Help: "Total requests processed by path and status.",
		}, []string{"path", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fantail_request_duration_seconds",
			Help:    "Request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fantail_cache_hits_total",
			Help: "Total cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fantail_cache_misses_total",
			Help: "Total cache misses.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fantail_breaker_state",
			Help: "Circuit breaker state: 0=closed 1=open 2=half_open.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fantail_task_queue_depth",
			Help: "Number of pending tasks in the priority queue.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency, m.cacheHits, m.cacheMisses, m.breakerState, m.queueDepth)
	return m
}

// RecordRequest implements middleware.MetricsRecorder.
func (m *Metrics) RecordRequest(path string, status int, latency time.Duration) {
	m.requestsTotal.WithLabelValues(path, statusLabel(status)).Inc()
	m.requestLatency.WithLabelValues(path).Observe(latency.Seconds())

	m.mu.Lock()
	m.history = append(m.history, requestSample{Path: path, Status: status, Latency: latency, At: time.Now()})
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordCacheHit()  { m.cacheHits.Inc() }
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Inc() }
func (m *Metrics) SetBreakerState(state int) { m.breakerState.Set(float64(state)) }
func (m *Metrics) SetQueueDepth(n int)       { m.queueDepth.Set(float64(n)) }

// Snapshot summarizes the recent request history (the last maxHistory
// requests). The built-in endpoints do not use it: /_metrics serves the
// Prometheus exposition format and /_info has no request summary.
type Snapshot struct {
	TotalRequests int
	AvgLatencyMS  float64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Snapshot{}
	}
	var total time.Duration
	for _, s := range m.history {
		total += s.Latency
	}
	avg := total / time.Duration(len(m.history))
	return Snapshot{TotalRequests: len(m.history), AvgLatencyMS: float64(avg.Microseconds()) / 1000}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
