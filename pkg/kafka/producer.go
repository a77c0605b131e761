package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig tunes batching for the writer.
type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	Async        bool
}

// DefaultProducerConfig favors low publish latency: small batches, short
// linger, synchronous acks from all replicas.
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
}

// Producer publishes event envelopes, keyed by aggregate ID so every event
// for one order or variant lands on the same partition in order.
type Producer struct {
	writer  *kafka.Writer
	brokers []string
	logger  *slog.Logger
}

func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			Async:        cfg.Async,
			RequiredAcks: kafka.RequireAll,
		},
		brokers: cfg.Brokers,
		logger:  logger,
	}
}

// buildMessage wraps the event in a kafka.Message with routing headers and
// the current trace context.
func buildMessage(ctx context.Context, topic string, event *Event) (kafka.Message, error) {
	data, err := event.Marshal()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.AggregateID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}
	if event.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key: "correlation_id", Value: []byte(event.CorrelationID),
		})
	}
	InjectTraceContext(ctx, &msg.Headers)

	return msg, nil
}

// Publish writes the event to topic and records publish metrics.
func (p *Producer) Publish(ctx context.Context, topic string, event *Event) error {
	msg, err := buildMessage(ctx, topic, event)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	ProducerPublishDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())

	if err != nil {
		ProducerPublishErrors.WithLabelValues(topic).Inc()
		p.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("topic", topic),
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish event to %s: %w", topic, err)
	}

	ProducerMessagesPublished.WithLabelValues(topic).Inc()
	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
	)
	return nil
}

// Ping reports broker reachability for readiness checks.
func (p *Producer) Ping(ctx context.Context) error {
	return PingBrokers(ctx, p.brokers)
}

// PingBrokers succeeds if any one of the brokers answers a metadata request.
// Useful as a standalone probe on consumer-only services.
func PingBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}

	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka ping: all brokers unreachable: %w", lastErr)
}

// Close flushes pending batches and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
