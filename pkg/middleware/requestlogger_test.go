package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/commercekit/ordercore/pkg/logger"
)

// requestLoggerLine runs one request through RequestLogger, logs a line from
// the handler, and returns the decoded JSON record.
func requestLoggerLine(t *testing.T, mutate func(*http.Request)) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	base := logger.NewWithWriter("ordercore", "info", &buf)

	handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("order lookup")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/42", nil)
	if mutate != nil {
		mutate(req)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotZero(t, buf.Len(), "handler should have produced log output")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestRequestLogger_StoresLoggerInContext(t *testing.T) {
	var got *slog.Logger
	handler := RequestLogger(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logger.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	require.NotNil(t, got)
}

func TestRequestLogger_IncludesCorrelationID(t *testing.T) {
	out := requestLoggerLine(t, func(req *http.Request) {
		// RequestLogging would have put this in the context already.
		ctx := logger.WithCorrelationID(req.Context(), "corr-9f2a")
		*req = *req.WithContext(ctx)
	})

	assert.Equal(t, "corr-9f2a", out["correlation_id"])
}

func TestRequestLogger_IncludesUserIDFromHeader(t *testing.T) {
	out := requestLoggerLine(t, func(req *http.Request) {
		req.Header.Set("X-User-ID", "cust-7731")
	})

	assert.Equal(t, "cust-7731", out["user_id"])
}

func TestRequestLogger_IncludesTraceFields(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	out := requestLoggerLine(t, func(req *http.Request) {
		ctx := trace.ContextWithSpanContext(context.Background(), sc)
		*req = *req.WithContext(ctx)
	})

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", out["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", out["span_id"])
}

func TestRequestLogger_OmitsUserIDWhenAbsent(t *testing.T) {
	out := requestLoggerLine(t, nil)
	assert.NotContains(t, out, "user_id")
}
