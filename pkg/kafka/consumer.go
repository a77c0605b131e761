package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// TopicPrefix namespaces every topic this system touches.
const TopicPrefix = "ordercore"

// Topic builds a fully qualified topic name, e.g. Topic("order", "created")
// yields "ordercore.order.created".
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}

// maxHandlerRetries bounds in-process attempts per message. A message that
// still fails is committed anyway (and dead-lettered if a DLQ is attached)
// so one poison message cannot stall the partition.
const maxHandlerRetries = 3

// Handler processes one decoded event.
type Handler func(ctx context.Context, event *Event) error

// ConsumerConfig identifies the subscription.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// Consumer runs a fetch/handle/commit loop over one topic.
type Consumer struct {
	reader    *kafka.Reader
	logger    *slog.Logger
	handler   Handler
	dlq       *DLQProducer
	closeOnce sync.Once
}

func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		}),
		logger:  logger,
		handler: handler,
	}
}

// WithDLQ routes exhausted messages to a dead-letter queue instead of
// dropping them. The caller keeps ownership of the producer and closes it.
func (c *Consumer) WithDLQ(dlq *DLQProducer) *Consumer {
	c.dlq = dlq
	return c
}

// Start blocks consuming messages until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	topic := c.reader.Config().Topic
	group := c.reader.Config().GroupID

	c.logger.Info("consumer started",
		slog.String("topic", topic),
		slog.String("group", group),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", slog.String("topic", topic))
			return c.Close()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}
		ConsumerMessagesReceived.WithLabelValues(topic, group).Inc()

		c.processMessage(ctx, msg, topic, group)
	}
}

// processMessage decodes, handles with retries, and commits one message.
// Undecodable and exhausted messages are committed too; stalling the
// partition is worse than losing one message to the DLQ.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, topic, group string) {
	// Continue the producer's trace, if one was propagated.
	msgCtx := ExtractTraceContext(ctx, msg.Headers)

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to unmarshal event",
			slog.String("error", err.Error()),
			slog.String("topic", msg.Topic),
		)
		c.commit(ctx, msg)
		return
	}

	start := time.Now()
	lastErr := c.handleWithRetry(msgCtx, event, msg)
	ConsumerProcessingDuration.WithLabelValues(topic, group).Observe(time.Since(start).Seconds())

	if lastErr != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the retries; leave the message
			// uncommitted for the next consumer.
			return
		}
		ConsumerMessagesFailed.WithLabelValues(topic, group).Inc()
		if c.dlq != nil {
			if dlqErr := c.dlq.Publish(ctx, msg, lastErr, group); dlqErr != nil {
				c.logger.Error("failed to dead-letter message", slog.String("error", dlqErr.Error()))
			}
		}
		c.logger.Error("handler failed after all retries, skipping poison message",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", lastErr.Error()),
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Int("retries", maxHandlerRetries),
		)
		c.commit(ctx, msg)
		return
	}

	ConsumerMessagesProcessed.WithLabelValues(topic, group).Inc()
	c.commit(ctx, msg)
}

// handleWithRetry runs the handler up to maxHandlerRetries times with linear
// backoff, returning the last error if every attempt failed.
func (c *Consumer) handleWithRetry(ctx context.Context, event *Event, msg kafka.Message) error {
	var lastErr error
	for attempt := 1; attempt <= maxHandlerRetries; attempt++ {
		lastErr = c.handler(ctx, event)
		if lastErr == nil {
			return nil
		}

		c.logger.Warn("handler failed, will retry",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", lastErr.Error()),
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxHandlerRetries),
		)

		if attempt < maxHandlerRetries {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("failed to commit message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

// Close shuts the reader down. Safe to call more than once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
