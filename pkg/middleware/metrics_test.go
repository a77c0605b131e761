package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findMetric drains a Collector and returns the first sample whose labels
// include all the given pairs.
func findMetric(c prometheus.Collector, labels map[string]string) *dto.Metric {
	ch := make(chan prometheus.Metric, 100)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		d := &dto.Metric{}
		if err := m.Write(d); err != nil {
			continue
		}

		matched := 0
		for k, v := range labels {
			for _, lp := range d.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == v {
					matched++
					break
				}
			}
		}
		if matched == len(labels) {
			return d
		}
	}
	return nil
}

func metricsRouter(service string, handler http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics(service))
	r.Get("/orders", handler)
	return r
}

func TestPrometheusMetrics_CountsRequests(t *testing.T) {
	handler := metricsRouter("count-svc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	m := findMetric(httpRequestsTotal, map[string]string{
		"service": "count-svc", "method": "GET", "path": "/orders", "status": "200",
	})
	require.NotNil(t, m)
	assert.GreaterOrEqual(t, m.GetCounter().GetValue(), float64(3))
}

func TestPrometheusMetrics_ObservesDuration(t *testing.T) {
	handler := metricsRouter("hist-svc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))

	m := findMetric(httpRequestDuration, map[string]string{
		"service": "hist-svc", "method": "GET", "path": "/orders", "status": "201",
	})
	require.NotNil(t, m)
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(1))
}

func TestPrometheusMetrics_InFlightGaugeDuringRequest(t *testing.T) {
	seen := float64(-1)
	handler := metricsRouter("inflight-svc", func(w http.ResponseWriter, r *http.Request) {
		if m := findMetric(httpRequestsInFlight, map[string]string{"service": "inflight-svc"}); m != nil {
			seen = m.GetGauge().GetValue()
		}
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))

	assert.GreaterOrEqual(t, seen, float64(1))
}

func TestPrometheusMetrics_ImplicitWriteHeaderIs200(t *testing.T) {
	handler := metricsRouter("implicit-svc", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))

	m := findMetric(httpRequestsTotal, map[string]string{"service": "implicit-svc", "status": "200"})
	require.NotNil(t, m)
}

// --- wrapper delegation ---

type flusherWriter struct {
	http.ResponseWriter
	flushed bool
}

func (f *flusherWriter) Flush() { f.flushed = true }

type hijackerWriter struct {
	http.ResponseWriter
	hijacked bool
}

func (h *hijackerWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

// bareWriter implements nothing beyond http.ResponseWriter.
type bareWriter struct {
	header http.Header
}

func (b *bareWriter) Header() http.Header {
	if b.header == nil {
		b.header = make(http.Header)
	}
	return b.header
}
func (b *bareWriter) Write(p []byte) (int, error) { return len(p), nil }
func (b *bareWriter) WriteHeader(int)             {}

func TestMetricsResponseWriter_FlushDelegates(t *testing.T) {
	inner := &flusherWriter{ResponseWriter: httptest.NewRecorder()}
	rw := &metricsResponseWriter{ResponseWriter: inner, statusCode: http.StatusOK}

	rw.Flush()
	assert.True(t, inner.flushed)
}

func TestMetricsResponseWriter_FlushSafeWithoutFlusher(t *testing.T) {
	rw := &metricsResponseWriter{ResponseWriter: &bareWriter{}, statusCode: http.StatusOK}
	rw.Flush() // must not panic
}

func TestMetricsResponseWriter_HijackDelegates(t *testing.T) {
	inner := &hijackerWriter{ResponseWriter: httptest.NewRecorder()}
	rw := &metricsResponseWriter{ResponseWriter: inner, statusCode: http.StatusOK}

	_, _, err := rw.Hijack()
	assert.NoError(t, err)
	assert.True(t, inner.hijacked)
}

func TestMetricsResponseWriter_HijackWithoutHijacker(t *testing.T) {
	rw := &metricsResponseWriter{ResponseWriter: &bareWriter{}, statusCode: http.StatusOK}

	_, _, err := rw.Hijack()
	assert.ErrorIs(t, err, http.ErrNotSupported)
}
