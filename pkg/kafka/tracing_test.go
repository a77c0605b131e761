package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrier_GetSetOverwrite(t *testing.T) {
	headers := []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}
	carrier := NewKafkaHeaderCarrier(&headers)

	assert.Equal(t, "application/json", carrier.Get("content-type"))
	assert.Empty(t, carrier.Get("missing"))

	carrier.Set("traceparent", "abc")
	assert.Equal(t, "abc", carrier.Get("traceparent"))

	carrier.Set("content-type", "application/avro")
	assert.Equal(t, "application/avro", carrier.Get("content-type"))
	assert.Len(t, headers, 2, "overwrite must not append a second header")
}

func TestKafkaHeaderCarrier_Keys(t *testing.T) {
	headers := []kafka.Header{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}
	carrier := NewKafkaHeaderCarrier(&headers)

	assert.ElementsMatch(t, []string{"a", "b"}, carrier.Keys())
}

func TestKafkaHeaderCarrier_Empty(t *testing.T) {
	headers := []kafka.Header{}
	carrier := NewKafkaHeaderCarrier(&headers)

	assert.Empty(t, carrier.Keys())
	assert.Empty(t, carrier.Get("anything"))
}

func TestTraceContext_SurvivesBrokerHop(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	producerCtx := trace.ContextWithSpanContext(context.Background(), sc)

	var headers []kafka.Header
	InjectTraceContext(producerCtx, &headers)
	require.NotEmpty(t, headers, "inject should add a traceparent header")

	consumerCtx := ExtractTraceContext(context.Background(), headers)
	extracted := trace.SpanContextFromContext(consumerCtx)

	assert.Equal(t, traceID, extracted.TraceID())
	assert.True(t, extracted.IsRemote())
}
