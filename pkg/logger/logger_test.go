package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func spanContext(t *testing.T, traceHex, spanHex string) trace.SpanContext {
	t.Helper()
	traceID, err := trace.TraceIDFromHex(traceHex)
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex(spanHex)
	require.NoError(t, err)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
}

func TestNew_TagsServiceName(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("ordercore", "info", &buf).Info("booted")

	out := logLine(t, &buf)
	assert.Equal(t, "ordercore", out["service"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("ordercore", "chatty", &buf)

	l.Debug("hidden")
	assert.Empty(t, buf.Bytes(), "debug should be filtered at info level")

	l.Info("shown")
	assert.NotEmpty(t, buf.Bytes())
}

func TestWithContext_CorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("ordercore", "info", &buf)

	ctx := WithCorrelationID(context.Background(), "req-123")
	WithContext(ctx, l).Info("hello")

	assert.Equal(t, "req-123", logLine(t, &buf)["correlation_id"])
}

func TestWithContext_NoSpanMeansNoTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("ordercore", "info", &buf)

	WithContext(context.Background(), l).Info("no span")

	out := logLine(t, &buf)
	assert.NotContains(t, out, "trace_id")
	assert.NotContains(t, out, "span_id")
	assert.NotContains(t, out, "user_id")
}

func TestWithContext_InjectsTraceAndSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("ordercore", "info", &buf)

	sc := spanContext(t, "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	WithContext(ctx, l).Info("with span")

	out := logLine(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", out["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", out["span_id"])
}

func TestWithContext_UserID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("ordercore", "info", &buf)

	ctx := WithUserID(context.Background(), "user-789")
	WithContext(ctx, l).Info("with user")

	assert.Equal(t, "user-789", logLine(t, &buf)["user_id"])
}

func TestWithContext_AllFieldsTogether(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("ordercore", "info", &buf)

	sc := spanContext(t, "abcdef1234567890abcdef1234567890", "1234567890abcdef")
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithCorrelationID(ctx, "corr-all")
	ctx = WithUserID(ctx, "user-all")

	WithContext(ctx, l).Info("all fields")

	out := logLine(t, &buf)
	assert.Equal(t, "corr-all", out["correlation_id"])
	assert.Equal(t, "user-all", out["user_id"])
	assert.Equal(t, "abcdef1234567890abcdef1234567890", out["trace_id"])
	assert.Equal(t, "1234567890abcdef", out["span_id"])
}

func TestFromContext_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("ordercore", "info", &buf)

	ctx := NewContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}
