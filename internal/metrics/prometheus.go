// Package metrics exposes Prometheus collectors for the inference service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors for the predict pipeline, the
// session cache, and the blob store.
type Metrics struct {
	registry *prometheus.Registry

	predictTotal    *prometheus.CounterVec
	predictDuration *prometheus.HistogramVec

	cacheHitTotal   prometheus.Counter
	cacheMissTotal  prometheus.Counter
	cacheEvictTotal prometheus.Counter
	sessionLoadMs   *prometheus.HistogramVec
	blobFetchMs     *prometheus.HistogramVec
	cacheEntryCount prometheus.GaugeFunc
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Init builds a Metrics instance with its own registry. sizeFn reports
// the current number of entries held in the session cache.
func Init(namespace string, buckets []float64, sizeFn func() float64) *Metrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		predictTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predict_total",
				Help:      "Total number of predict calls by model, transport, and status",
			},
			[]string{"model", "transport", "status"},
		),

		predictDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "predict_duration_milliseconds",
				Help:      "Duration of predict calls in milliseconds",
				Buckets:   buckets,
			},
			[]string{"model", "transport"},
		),

		cacheHitTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hit_total",
				Help:      "Total session cache hits",
			},
		),

		cacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_miss_total",
				Help:      "Total session cache misses",
			},
		),

		cacheEvictTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_eviction_total",
				Help:      "Total session cache evictions (TTL + LRU)",
			},
		),

		sessionLoadMs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_load_duration_milliseconds",
				Help:      "Duration of ONNX Runtime session construction in milliseconds",
				Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"model"},
		),

		blobFetchMs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "blob_fetch_duration_milliseconds",
				Help:      "Duration of blob store reads in milliseconds",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"backend"},
		),
	}

	if sizeFn != nil {
		m.cacheEntryCount = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Current number of sessions held in the cache",
			},
			sizeFn,
		)
	}

	collectors := []prometheus.Collector{
		m.predictTotal, m.predictDuration,
		m.cacheHitTotal, m.cacheMissTotal, m.cacheEvictTotal,
		m.sessionLoadMs, m.blobFetchMs,
	}
	if m.cacheEntryCount != nil {
		collectors = append(collectors, m.cacheEntryCount)
	}
	registry.MustRegister(collectors...)

	return m
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPredict records the outcome of a single predict call.
func (m *Metrics) RecordPredict(model, transport, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.predictTotal.WithLabelValues(model, transport, status).Inc()
	m.predictDuration.WithLabelValues(model, transport).Observe(float64(d.Milliseconds()))
}

// RecordCacheHit records a session cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHitTotal.Inc()
}

// RecordCacheMiss records a session cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMissTotal.Inc()
}

// RecordCacheEviction records a cache entry being dropped by TTL or LRU.
func (m *Metrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.cacheEvictTotal.Inc()
}

// RecordSessionLoad records the duration of constructing a session for a model.
func (m *Metrics) RecordSessionLoad(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.sessionLoadMs.WithLabelValues(model).Observe(float64(d.Milliseconds()))
}

// RecordBlobFetch records the duration of a blob store read.
func (m *Metrics) RecordBlobFetch(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.blobFetchMs.WithLabelValues(backend).Observe(float64(d.Milliseconds()))
}
