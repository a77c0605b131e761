package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/commercekit/ordercore/internal/domain"
	pkgkafka "github.com/commercekit/ordercore/pkg/kafka"
)

// TopicPaymentEvents is the payment provider's event topic consumed by this
// service.
const TopicPaymentEvents = "payments.provider.events"

// PaymentEventData is the payload of an incoming payment provider event. The
// event envelope's EventType carries the kind and EventID the provider's
// deduplication key.
type PaymentEventData struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Reason   string `json:"reason,omitempty"`
}

// PaymentEventApplier applies one payment event to the order it references.
// Implemented by service.PaymentSyncService.
type PaymentEventApplier interface {
	Apply(ctx context.Context, ev domain.PaymentEvent) error
}

// PaymentConsumer consumes payment provider events and feeds them to the
// synchronizer. The idempotency store is a fast-path filter only; the
// processed-event record in Postgres is what actually guarantees exactly-once
// application.
type PaymentConsumer struct {
	consumer *pkgkafka.Consumer
	dlq      *pkgkafka.DLQProducer
	logger   *slog.Logger
}

// NewPaymentConsumer wires a Kafka consumer for the payment events topic.
// Events that still fail after retries are dead-lettered so a stuck provider
// event never blocks the partition.
func NewPaymentConsumer(cfg pkgkafka.ConsumerConfig, applier PaymentEventApplier, store pkgkafka.IdempotencyStore, logger *slog.Logger) *PaymentConsumer {
	handler := pkgkafka.IdempotentHandler(store, paymentHandler(applier, logger), logger)
	dlq := pkgkafka.NewDLQProducer(cfg.Brokers, logger)
	return &PaymentConsumer{
		consumer: pkgkafka.NewConsumer(cfg, handler, logger).WithDLQ(dlq),
		dlq:      dlq,
		logger:   logger,
	}
}

// Start begins consuming. It blocks until the context is canceled.
func (c *PaymentConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Close shuts the underlying consumer and DLQ producer down.
func (c *PaymentConsumer) Close() error {
	consumerErr := c.consumer.Close()
	dlqErr := c.dlq.Close()
	if consumerErr != nil {
		return consumerErr
	}
	return dlqErr
}

func paymentHandler(applier PaymentEventApplier, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		if !domain.IsKnownPaymentEventKind(event.EventType) {
			// Unknown kinds are skipped, not retried: the provider publishes
			// event types we do not consume on the same topic.
			logger.DebugContext(ctx, "ignoring payment event of unknown kind",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		var data PaymentEventData
		if err := event.UnmarshalData(&data); err != nil {
			return fmt.Errorf("unmarshal payment event %s: %w", event.EventID, err)
		}

		ev := domain.PaymentEvent{
			EventID:    event.EventID,
			Kind:       event.EventType,
			OrderID:    data.OrderID,
			Amount:     data.Amount,
			Currency:   data.Currency,
			Reason:     data.Reason,
			OccurredAt: event.Timestamp,
		}

		return applier.Apply(ctx, ev)
	}
}
