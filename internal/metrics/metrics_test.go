package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveRun("completed", time.Second)
	m.ObserveQuery("indexed")
	m.ObserveQuery("indexed")
	m.ObserveQuery("skipped")
	m.ObserveAttempt("failure")
	m.AddExtractedRows(5)
	m.IncRelayChunks()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queries.WithLabelValues("indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("skipped")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.extractedRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayChunks))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("failed", time.Second)
		m.ObserveQuery("skipped")
		m.ObserveAttempt("success")
		m.AddExtractedRows(1)
		m.AddIndexedDocuments(1)
		m.ObserveRelay("streamed")
		m.IncRelayChunks()
		m.ObserveHTTP("/health", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRelay("streamed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `daisy_relay_requests_total{outcome="streamed"} 1`)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(502))
}
