package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// DLQTopicPrefix namespaces every dead-letter topic.
const DLQTopicPrefix = "ordercore.dlq"

// DLQTopic maps a source topic to its dead-letter topic.
func DLQTopic(originalTopic string) string {
	return fmt.Sprintf("%s.%s", DLQTopicPrefix, originalTopic)
}

// DLQProducer parks messages that exhausted their retries on a dead-letter
// topic, annotated with enough headers to replay them later.
type DLQProducer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewDLQProducer(brokers []string, logger *slog.Logger) *DLQProducer {
	return &DLQProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    1,
			BatchTimeout: 100 * time.Millisecond,
			Async:        false,
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

// dlqHeaders copies the original headers and appends provenance: where the
// message came from and why it was parked.
func dlqHeaders(originalMsg kafka.Message, lastErr error, consumerGroup string) []kafka.Header {
	headers := make([]kafka.Header, 0, len(originalMsg.Headers)+5)
	headers = append(headers, originalMsg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq.original_topic", Value: []byte(originalMsg.Topic)},
		kafka.Header{Key: "dlq.original_partition", Value: []byte(strconv.Itoa(originalMsg.Partition))},
		kafka.Header{Key: "dlq.original_offset", Value: []byte(strconv.FormatInt(originalMsg.Offset, 10))},
		kafka.Header{Key: "dlq.consumer_group", Value: []byte(consumerGroup)},
	)
	if lastErr != nil {
		headers = append(headers, kafka.Header{Key: "dlq.error", Value: []byte(lastErr.Error())})
	}
	return headers
}

// Publish parks the failed message on the matching dead-letter topic,
// preserving its key and payload.
func (d *DLQProducer) Publish(ctx context.Context, originalMsg kafka.Message, lastErr error, consumerGroup string) error {
	dlqTopic := DLQTopic(originalMsg.Topic)

	err := d.writer.WriteMessages(ctx, kafka.Message{
		Topic:   dlqTopic,
		Key:     originalMsg.Key,
		Value:   originalMsg.Value,
		Headers: dlqHeaders(originalMsg, lastErr, consumerGroup),
	})
	if err != nil {
		d.logger.Error("failed to publish message to DLQ",
			slog.String("dlq_topic", dlqTopic),
			slog.String("original_topic", originalMsg.Topic),
			slog.Int("partition", originalMsg.Partition),
			slog.Int64("offset", originalMsg.Offset),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish to DLQ %s: %w", dlqTopic, err)
	}

	ConsumerDLQPublished.WithLabelValues(originalMsg.Topic, consumerGroup).Inc()
	d.logger.Warn("message sent to DLQ",
		slog.String("dlq_topic", dlqTopic),
		slog.String("original_topic", originalMsg.Topic),
		slog.Int("partition", originalMsg.Partition),
		slog.Int64("offset", originalMsg.Offset),
		slog.String("consumer_group", consumerGroup),
	)
	return nil
}

func (d *DLQProducer) Close() error {
	return d.writer.Close()
}
