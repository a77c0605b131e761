package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("ordercore")

	assert.Equal(t, "ordercore", cfg.ServiceName)
	assert.False(t, cfg.Enabled, "tracing should be opt-in")
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, "localhost:4318", cfg.OTLPEndpoint)
}

func TestInitTracer_DisabledReturnsNoopShutdown(t *testing.T) {
	cfg := DefaultConfig("ordercore")

	shutdown, err := InitTracer(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func enabledConfig(rate float64) Config {
	// Non-routable endpoint: the batch exporter connects lazily, so the SDK
	// still initializes.
	return Config{
		ServiceName:    "ordercore",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "127.0.0.1:0",
		SampleRate:     rate,
		Enabled:        true,
	}
}

func TestInitTracer_EnabledSetsGlobalProvider(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), enabledConfig(1.0))
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	defer shutdown(context.Background()) //nolint:errcheck

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "global provider should be the SDK provider")
}

func TestInitTracer_SampleRates(t *testing.T) {
	for _, rate := range []float64{0.0, 0.5, 1.0} {
		shutdown, err := InitTracer(context.Background(), enabledConfig(rate))
		require.NoError(t, err, "rate %v", rate)
		shutdown(context.Background()) //nolint:errcheck
	}
}

func TestTracer_StartsSpans(t *testing.T) {
	tracer := Tracer("stock")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "DecrementStock")
	span.End()
}
