package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/ordercore/internal/catalog"
	"github.com/commercekit/ordercore/internal/domain"
	"github.com/commercekit/ordercore/internal/repository"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

// EventPublisher publishes domain events. Implemented by event.Producer.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *domain.Order) error
	PublishOrderStatusChanged(ctx context.Context, orderID, oldStatus, newStatus string) error
	PublishOrderCanceled(ctx context.Context, orderID, reason string) error
	PublishPaymentStatusChanged(ctx context.Context, orderID, oldStatus, newStatus, eventID string) error
	PublishStockMovement(ctx context.Context, m *domain.StockMovement) error
}

// VariantLookup resolves variants against the catalog. Implemented by
// catalog.Client.
type VariantLookup interface {
	GetVariant(ctx context.Context, variantID string) (*catalog.Variant, error)
}

// OrderService implements the business logic for order operations.
type OrderService struct {
	repo      repository.OrderRepository
	catalog   VariantLookup
	publisher EventPublisher
	logger    *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(repo repository.OrderRepository, catalogClient VariantLookup, publisher EventPublisher, logger *slog.Logger) *OrderService {
	return &OrderService{
		repo:      repo,
		catalog:   catalogClient,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateOrderLineInput is one requested order line. Price, name and SKU come
// from the catalog, never from the caller.
type CreateOrderLineInput struct {
	VariantID string `json:"variant_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// CreateOrderInput holds the parameters for creating an order. Addresses are
// snapshots supplied by the caller; they are stored as-is and never re-derived
// from the customer record.
type CreateOrderInput struct {
	StoreID         string
	CustomerID      *string
	Lines           []CreateOrderLineInput
	DiscountAmount  int64
	ShippingAmount  int64
	TaxAmount       int64
	Currency        string
	ShippingAddress *domain.Address
	BillingAddress  *domain.Address
	Notes           string
}

// CreateOrder validates the lines against the catalog, prices the order and
// creates it. Stock decrements, order number assignment and the insert happen
// in one transaction inside the repository; any oversold line rejects the
// whole order.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if input.StoreID == "" {
		return nil, apperrors.InvalidInput("store_id is required")
	}
	if len(input.Lines) == 0 {
		return nil, apperrors.InvalidInput("order must contain at least one line")
	}
	if len(input.Currency) != 3 {
		return nil, apperrors.InvalidInput("currency must be a 3-letter ISO code")
	}
	if input.DiscountAmount < 0 || input.ShippingAmount < 0 || input.TaxAmount < 0 {
		return nil, apperrors.InvalidInput("amounts must not be negative")
	}

	now := time.Now().UTC()
	orderID := uuid.New().String()

	var subtotal int64
	items := make([]domain.OrderItem, len(input.Lines))
	for i, line := range input.Lines {
		if line.Quantity < 1 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("line %d: quantity must be at least 1", i))
		}

		variant, err := s.catalog.GetVariant(ctx, line.VariantID)
		if err != nil {
			return nil, fmt.Errorf("resolve variant %s: %w", line.VariantID, err)
		}
		if !variant.Active {
			return nil, apperrors.InvalidInput(fmt.Sprintf("variant %s is not sellable", line.VariantID))
		}

		items[i] = domain.OrderItem{
			ID:         uuid.New().String(),
			OrderID:    orderID,
			ProductID:  variant.ProductID,
			VariantID:  line.VariantID,
			Name:       variant.Name,
			SKU:        variant.SKU,
			UnitPrice:  variant.Price,
			Quantity:   line.Quantity,
			TotalPrice: variant.Price * int64(line.Quantity),
		}
		subtotal += items[i].TotalPrice
	}

	totalAmount := subtotal + input.TaxAmount + input.ShippingAmount - input.DiscountAmount
	if totalAmount < 0 {
		return nil, apperrors.InvalidInput("discount exceeds order value")
	}

	order := &domain.Order{
		ID:              orderID,
		StoreID:         input.StoreID,
		CustomerID:      input.CustomerID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Items:           items,
		SubtotalAmount:  subtotal,
		DiscountAmount:  input.DiscountAmount,
		ShippingAmount:  input.ShippingAmount,
		TaxAmount:       input.TaxAmount,
		TotalAmount:     totalAmount,
		Currency:        strings.ToUpper(input.Currency),
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		Notes:           input.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		// Do not fail the operation if event publishing fails.
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
		slog.String("store_id", order.StoreID),
		slog.Int64("total_amount", order.TotalAmount),
	)

	return order, nil
}

// GetOrder retrieves an order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return order, nil
}

// ListOrders returns a filtered, paginated list of orders.
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	return orders, total, nil
}

// UpdateOrderStatus transitions the order to a new status with validation.
// Cancellation goes through CancelOrder so stock is restored; this operation
// rejects a canceled target.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id string, newStatus string, note string) (*domain.Order, error) {
	if !domain.IsValidStatus(newStatus) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid status %q, must be one of: %s", newStatus, strings.Join(domain.ValidStatuses(), ", ")))
	}
	if newStatus == domain.OrderStatusCanceled {
		return nil, apperrors.InvalidInput("use the cancel operation to cancel an order")
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order for status update: %w", err)
	}

	if !order.CanTransitionTo(newStatus) {
		return nil, apperrors.InvalidTransition("order", order.Status, newStatus)
	}

	// Shipping an unpaid order is an internal consistency violation, not a
	// user mistake: payment state should have gated the fulfillment flow
	// upstream.
	if newStatus == domain.OrderStatusShipped && !domain.PaymentCoversShipment(order.PaymentStatus) {
		s.logger.ErrorContext(ctx, "attempted to ship order without authorized payment",
			slog.String("order_id", id),
			slog.String("payment_status", order.PaymentStatus),
		)
		return nil, apperrors.Precondition(fmt.Sprintf("order %s cannot ship with payment status %q", id, order.PaymentStatus))
	}

	if newStatus == domain.OrderStatusRefunded && !orderPaymentRefundable(order.PaymentStatus) {
		return nil, apperrors.InvalidTransition("order", order.Status, newStatus)
	}

	oldStatus := order.Status

	if err := s.repo.UpdateStatus(ctx, id, oldStatus, newStatus, note); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if err := s.publisher.PublishOrderStatusChanged(ctx, id, oldStatus, newStatus); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.status_changed event",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order status updated",
		slog.String("order_id", id),
		slog.String("old_status", oldStatus),
		slog.String("new_status", newStatus),
	)

	order.Status = newStatus
	return order, nil
}

// orderPaymentRefundable reports whether money has actually been captured,
// which is the prerequisite for marking the order refunded.
func orderPaymentRefundable(paymentStatus string) bool {
	return paymentStatus == domain.PaymentStatusPaid ||
		paymentStatus == domain.PaymentStatusRefunded ||
		paymentStatus == domain.PaymentStatusPartiallyRefunded
}

// UpdatePaymentStatus transitions the order's payment status with validation.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, id string, newStatus string) (*domain.Order, error) {
	if !domain.IsValidPaymentStatus(newStatus) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid payment status %q, must be one of: %s", newStatus, strings.Join(domain.ValidPaymentStatuses(), ", ")))
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order for payment status update: %w", err)
	}

	if !order.CanTransitionPaymentTo(newStatus) {
		return nil, apperrors.InvalidTransition("payment", order.PaymentStatus, newStatus)
	}

	oldStatus := order.PaymentStatus

	if err := s.repo.UpdatePaymentStatus(ctx, id, oldStatus, newStatus); err != nil {
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	if err := s.publisher.PublishPaymentStatusChanged(ctx, id, oldStatus, newStatus, ""); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.payment_status_changed event",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "payment status updated",
		slog.String("order_id", id),
		slog.String("old_status", oldStatus),
		slog.String("new_status", newStatus),
	)

	order.PaymentStatus = newStatus
	return order, nil
}

// CancelOrder cancels an order and restores stock for every line, in one
// transaction. Losing a race against a concurrent transition surfaces as a
// conflict; the caller may retry against the fresh state.
func (s *OrderService) CancelOrder(ctx context.Context, id string, reason string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order for cancel: %w", err)
	}

	if !order.CanTransitionTo(domain.OrderStatusCanceled) {
		return nil, apperrors.InvalidTransition("order", order.Status, domain.OrderStatusCanceled)
	}

	lines := restoreLines(order.Items)
	if err := s.repo.CancelAndRestore(ctx, id, order.Status, reason, lines); err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	if err := s.publisher.PublishOrderCanceled(ctx, id, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.canceled event",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order canceled",
		slog.String("order_id", id),
		slog.String("reason", reason),
	)

	order.Status = domain.OrderStatusCanceled
	order.CanceledReason = reason
	return order, nil
}

// restoreLines merges order items into per-variant quantities for restock,
// sorted by variant ID so restores lock stock rows in the same order as
// creation decrements.
func restoreLines(items []domain.OrderItem) []domain.StockLine {
	index := make(map[string]int, len(items))
	lines := make([]domain.StockLine, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.VariantID]; ok {
			lines[i].Quantity += item.Quantity
			continue
		}
		index[item.VariantID] = len(lines)
		lines = append(lines, domain.StockLine{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].VariantID < lines[j].VariantID })
	return lines
}
