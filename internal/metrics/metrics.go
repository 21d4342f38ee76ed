// Package metrics exposes pipeline and relay counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "daisy"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns    *prometheus.CounterVec
	runDuration     prometheus.Histogram
	queries         *prometheus.CounterVec
	queryAttempts   *prometheus.CounterVec
	extractedRows   prometheus.Counter
	indexedDocs     prometheus.Counter
	relayRequests   *prometheus.CounterVec
	relayChunks     prometheus.Counter
	httpRequestTime *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		pipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries processed by outcome (indexed, skipped).",
		}, []string{"outcome"}),
		queryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_attempts_total",
			Help:      "Outbound query attempts by result.",
		}, []string{"result"}),
		extractedRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extracted_rows_total",
			Help:      "Rows persisted to object storage.",
		}),
		indexedDocs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_documents_total",
			Help:      "Documents uploaded to the search index.",
		}),
		relayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Chat relay requests by outcome.",
		}, []string{"outcome"}),
		relayChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_chunks_total",
			Help:      "Chunks forwarded from the chat upstream.",
		}),
		httpRequestTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveQuery(outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
}

// ObserveAttempt counts one outbound query attempt; result is "success" or "failure".
func (m *Metrics) ObserveAttempt(result string) {
	if m == nil {
		return
	}
	m.queryAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) AddExtractedRows(n int) {
	if m == nil {
		return
	}
	m.extractedRows.Add(float64(n))
}

func (m *Metrics) AddIndexedDocuments(n int) {
	if m == nil {
		return
	}
	m.indexedDocs.Add(float64(n))
}

func (m *Metrics) ObserveRelay(outcome string) {
	if m == nil {
		return
	}
	m.relayRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRelayChunks() {
	if m == nil {
		return
	}
	m.relayChunks.Inc()
}

func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestTime.WithLabelValues(route, statusClass(status)).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
