package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.Cleanup(func() {
		tp.Shutdown(context.Background()) //nolint:errcheck
		otel.SetTracerProvider(prev)
	})

	return exporter
}

func tracedRequest(t *testing.T, status int, mutate func(*http.Request)) (*tracetest.InMemoryExporter, *httptest.ResponseRecorder) {
	t.Helper()
	exporter := setupTestTracer(t)

	r := chi.NewRouter()
	r.Use(Tracing("ordercore"))
	r.Get("/api/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/42", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return exporter, rec
}

func TestTracing_SpanNamedAfterRoutePattern(t *testing.T) {
	exporter, rec := tracedRequest(t, http.StatusOK, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	assert.Equal(t, "GET /api/v1/orders/{id}", spans[0].Name)
}

func TestTracing_RecordsStatusCodeAttribute(t *testing.T) {
	exporter, _ := tracedRequest(t, http.StatusNotFound, nil)

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)

	var got int64 = -1
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "http.status_code" {
			got = attr.Value.AsInt64()
		}
	}
	assert.EqualValues(t, 404, got)
}

func TestTracing_5xxMarksSpanAsError(t *testing.T) {
	exporter, _ := tracedRequest(t, http.StatusInternalServerError, nil)

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	assert.EqualValues(t, 1, spans[0].Status.Code) // codes.Error
}

func TestTracing_4xxDoesNotMarkSpanAsError(t *testing.T) {
	exporter, _ := tracedRequest(t, http.StatusConflict, nil)

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	assert.EqualValues(t, 0, spans[0].Status.Code) // codes.Unset
}

func TestTracing_ContinuesInboundTraceContext(t *testing.T) {
	exporter, rec := tracedRequest(t, http.StatusOK, func(req *http.Request) {
		req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	})

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext.TraceID().String())
	assert.NotEmpty(t, rec.Header().Get("traceparent"), "trace context should be echoed to the caller")
}

func TestTracing_InjectsTraceparentWithoutInbound(t *testing.T) {
	_, rec := tracedRequest(t, http.StatusOK, nil)
	assert.NotEmpty(t, rec.Header().Get("traceparent"))
}
