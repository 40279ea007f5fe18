// Package metrics defines the Prometheus collectors for ingestion, retrieval
// and answering, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DocsIngestedTotal   prometheus.Counter
	ChunksIngestedTotal prometheus.Counter
	IngestFailuresTotal *prometheus.CounterVec
	StaleChunksRemoved  prometheus.Counter
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	LLMCallsTotal       *prometheus.CounterVec
	SearchLatency       *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		DocsIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soko_documents_ingested_total",
			Help: "Total documents stored by ingestion.",
		}),
		ChunksIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soko_chunks_ingested_total",
			Help: "Total chunks stored by ingestion.",
		}),
		IngestFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soko_ingest_failures_total",
			Help: "Ingestion calls that failed, by stage (embed, store, registry).",
		}, []string{"stage"}),
		StaleChunksRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soko_stale_chunks_removed_total",
			Help: "Chunks of replaced content removed from the vector store.",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soko_answer_cache_hits_total",
			Help: "Total answer cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soko_answer_cache_misses_total",
			Help: "Total answer cache misses.",
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soko_llm_calls_total",
			Help: "Language model invocations by outcome (ok, error).",
		}, []string{"outcome"}),
		SearchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soko_search_latency_seconds",
			Help:    "Hybrid search latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soko_http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soko_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.DocsIngestedTotal,
		m.ChunksIngestedTotal,
		m.IngestFailuresTotal,
		m.StaleChunksRemoved,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.LLMCallsTotal,
		m.SearchLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) Ingested(docs, chunks int) {
	if m == nil {
		return
	}
	m.DocsIngestedTotal.Add(float64(docs))
	m.ChunksIngestedTotal.Add(float64(chunks))
}

func (m *Metrics) IngestFailed(stage string) {
	if m == nil {
		return
	}
	m.IngestFailuresTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) StaleRemoved(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleChunksRemoved.Add(float64(n))
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) LLMCall(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LLMCallsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSearch(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SearchLatency.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape HTTP handler for gatherer g, or the
// default gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
