package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/commercekit/ordercore/internal/domain"
	"github.com/commercekit/ordercore/internal/repository"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

// PaymentSyncService applies payment provider events to orders exactly once.
// Events arrive via webhook and via the payment events topic; both paths
// funnel into Apply.
type PaymentSyncService struct {
	orders    repository.OrderRepository
	events    repository.PaymentEventRepository
	publisher EventPublisher
	logger    *slog.Logger
}

// NewPaymentSyncService creates a new payment synchronizer.
func NewPaymentSyncService(orders repository.OrderRepository, events repository.PaymentEventRepository, publisher EventPublisher, logger *slog.Logger) *PaymentSyncService {
	return &PaymentSyncService{
		orders:    orders,
		events:    events,
		publisher: publisher,
		logger:    logger,
	}
}

// Apply translates one payment event into status moves and stock restores
// and commits them atomically with the event's deduplication record. A
// replayed event ID is a logged no-op, whether or not the original
// application already moved the order past the transition the event asks for.
func (s *PaymentSyncService) Apply(ctx context.Context, ev domain.PaymentEvent) error {
	if ev.EventID == "" {
		return apperrors.InvalidInput("event_id is required")
	}
	if !domain.IsKnownPaymentEventKind(ev.Kind) {
		return apperrors.InvalidInput(fmt.Sprintf("unknown payment event kind %q", ev.Kind))
	}
	if ev.OrderID == "" {
		return apperrors.InvalidInput("order_id is required")
	}

	// Replay check comes before transition validation: once the event has
	// been applied the order sits in the post-event state, and validating
	// the same transition again would reject a delivery that must be acked.
	seen, err := s.events.Exists(ctx, ev.EventID)
	if err != nil {
		// The event record insert inside Apply still guarantees exactly-once;
		// a failed pre-check only loses the short-circuit.
		s.logger.WarnContext(ctx, "payment event replay check failed, continuing",
			slog.String("event_id", ev.EventID),
			slog.String("error", err.Error()),
		)
	} else if seen {
		s.logger.InfoContext(ctx, "duplicate payment event ignored",
			slog.String("event_id", ev.EventID),
			slog.String("order_id", ev.OrderID),
			slog.String("kind", ev.Kind),
		)
		return nil
	}

	order, err := s.orders.GetByID(ctx, ev.OrderID)
	if err != nil {
		// Stale or foreign metadata: report it, do not retry forever.
		return fmt.Errorf("load order for payment event %s: %w", ev.EventID, err)
	}

	app, err := s.buildApplication(order, ev)
	if err != nil {
		return err
	}

	if err := s.events.Apply(ctx, *app); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			s.logger.InfoContext(ctx, "duplicate payment event ignored",
				slog.String("event_id", ev.EventID),
				slog.String("order_id", ev.OrderID),
				slog.String("kind", ev.Kind),
			)
			return nil
		}
		return fmt.Errorf("apply payment event %s: %w", ev.EventID, err)
	}

	if app.PaymentTo != "" {
		if err := s.publisher.PublishPaymentStatusChanged(ctx, ev.OrderID, app.PaymentFrom, app.PaymentTo, ev.EventID); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish order.payment_status_changed event",
				slog.String("order_id", ev.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	if app.OrderTo == domain.OrderStatusCanceled {
		if err := s.publisher.PublishOrderCanceled(ctx, ev.OrderID, app.CancelReason); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish order.canceled event",
				slog.String("order_id", ev.OrderID),
				slog.String("error", err.Error()),
			)
		}
	} else if app.OrderTo != "" {
		if err := s.publisher.PublishOrderStatusChanged(ctx, ev.OrderID, app.OrderFrom, app.OrderTo); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish order.status_changed event",
				slog.String("order_id", ev.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "payment event applied",
		slog.String("event_id", ev.EventID),
		slog.String("order_id", ev.OrderID),
		slog.String("kind", ev.Kind),
		slog.String("payment_status", app.PaymentTo),
	)

	return nil
}

// buildApplication decides what one event does to the order. The decisions
// here read the order's current state; the conditional updates in the
// repository re-check that state at commit time.
func (s *PaymentSyncService) buildApplication(order *domain.Order, ev domain.PaymentEvent) (*repository.PaymentEventApplication, error) {
	app := &repository.PaymentEventApplication{
		EventID: ev.EventID,
		OrderID: ev.OrderID,
		Note:    fmt.Sprintf("payment event %s (%s)", ev.EventID, ev.Kind),
	}

	switch ev.Kind {
	case domain.PaymentEventSucceeded:
		if !order.CanTransitionPaymentTo(domain.PaymentStatusPaid) {
			return nil, apperrors.InvalidTransition("payment", order.PaymentStatus, domain.PaymentStatusPaid)
		}
		app.PaymentFrom = order.PaymentStatus
		app.PaymentTo = domain.PaymentStatusPaid
		// A successful payment confirms a pending order.
		if order.Status == domain.OrderStatusPending {
			app.OrderFrom = domain.OrderStatusPending
			app.OrderTo = domain.OrderStatusConfirmed
		}

	case domain.PaymentEventFailed:
		if !order.CanTransitionPaymentTo(domain.PaymentStatusFailed) {
			return nil, apperrors.InvalidTransition("payment", order.PaymentStatus, domain.PaymentStatusFailed)
		}
		// Failure moves the payment status only: the order stays open for a
		// retry, nothing is canceled and nothing is restocked.
		app.PaymentFrom = order.PaymentStatus
		app.PaymentTo = domain.PaymentStatusFailed

	case domain.PaymentEventRefunded:
		target := domain.PaymentStatusRefunded
		if ev.Amount > 0 && ev.Amount < order.TotalAmount {
			target = domain.PaymentStatusPartiallyRefunded
		}
		if !order.CanTransitionPaymentTo(target) {
			return nil, apperrors.InvalidTransition("payment", order.PaymentStatus, target)
		}
		app.PaymentFrom = order.PaymentStatus
		app.PaymentTo = target
		if target == domain.PaymentStatusRefunded {
			if order.CanTransitionTo(domain.OrderStatusRefunded) {
				app.OrderFrom = order.Status
				app.OrderTo = domain.OrderStatusRefunded
			}
			app.RestoreLines = restoreLines(order.Items)
		}

	case domain.PaymentEventCancelled:
		// Provider-side cancellation closes the order if it still can be
		// closed; the payment status is untouched.
		if !order.CanTransitionTo(domain.OrderStatusCanceled) {
			return nil, apperrors.InvalidTransition("order", order.Status, domain.OrderStatusCanceled)
		}
		app.OrderFrom = order.Status
		app.OrderTo = domain.OrderStatusCanceled
		app.CancelReason = cancelReasonFromEvent(ev)
		app.RestoreLines = restoreLines(order.Items)
	}

	return app, nil
}

func cancelReasonFromEvent(ev domain.PaymentEvent) string {
	if ev.Reason != "" {
		return ev.Reason
	}
	return "payment cancelled by provider"
}
