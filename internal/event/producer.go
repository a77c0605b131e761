package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/commercekit/ordercore/internal/domain"
	pkgkafka "github.com/commercekit/ordercore/pkg/kafka"
)

// Kafka topics for events published by this service.
const (
	TopicOrderCreated          = "ordercore.order.created"
	TopicOrderStatusChanged    = "ordercore.order.status_changed"
	TopicOrderCanceled         = "ordercore.order.canceled"
	TopicPaymentStatusChanged  = "ordercore.order.payment_status_changed"
	TopicStockMovementRecorded = "ordercore.inventory.movement_recorded"
)

// Aggregate type constants.
const (
	AggregateTypeOrder = "order"
	AggregateTypeStock = "stock"
)

// Source identifier for events originating from this service.
const SourceOrderCore = "ordercore"

// OrderCreatedData is the payload for an order.created event (full order snapshot).
type OrderCreatedData struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	CustomerID     *string         `json:"customer_id,omitempty"`
	OrderNumber    string          `json:"order_number"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"payment_status"`
	Items          []OrderItemData `json:"items"`
	SubtotalAmount int64           `json:"subtotal_amount"`
	DiscountAmount int64           `json:"discount_amount"`
	ShippingAmount int64           `json:"shipping_amount"`
	TaxAmount      int64           `json:"tax_amount"`
	TotalAmount    int64           `json:"total_amount"`
	Currency       string          `json:"currency"`
}

// OrderItemData is the event payload for an order item.
type OrderItemData struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	TotalPrice int64  `json:"total_price"`
}

// OrderStatusChangedData is the payload for an order.status_changed event.
type OrderStatusChangedData struct {
	OrderID   string `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// OrderCanceledData is the payload for an order.canceled event.
type OrderCanceledData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentStatusChangedData is the payload for an order.payment_status_changed event.
type PaymentStatusChangedData struct {
	OrderID   string `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	EventID   string `json:"event_id,omitempty"`
}

// StockMovementData is the payload for an inventory.movement_recorded event.
type StockMovementData struct {
	MovementID       string  `json:"movement_id"`
	VariantID        string  `json:"variant_id"`
	Delta            int     `json:"delta"`
	Reason           string  `json:"reason"`
	OrderID          *string `json:"order_id,omitempty"`
	PreviousQuantity int     `json:"previous_quantity"`
	NewQuantity      int     `json:"new_quantity"`
}

// Producer publishes domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishOrderCreated publishes an order.created event with the full order snapshot.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	items := make([]OrderItemData, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemData{
			ID:         item.ID,
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			Name:       item.Name,
			SKU:        item.SKU,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			TotalPrice: item.TotalPrice,
		}
	}

	data := OrderCreatedData{
		ID:             order.ID,
		StoreID:        order.StoreID,
		CustomerID:     order.CustomerID,
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		Items:          items,
		SubtotalAmount: order.SubtotalAmount,
		DiscountAmount: order.DiscountAmount,
		ShippingAmount: order.ShippingAmount,
		TaxAmount:      order.TaxAmount,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
	}

	event, err := pkgkafka.NewEvent(TopicOrderCreated, order.ID, AggregateTypeOrder, SourceOrderCore, data)
	if err != nil {
		return fmt.Errorf("create order.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderCreated, event); err != nil {
		return fmt.Errorf("publish order.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.created event",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
	)

	return nil
}

// PublishOrderStatusChanged publishes an order.status_changed event.
func (p *Producer) PublishOrderStatusChanged(ctx context.Context, orderID, oldStatus, newStatus string) error {
	data := OrderStatusChangedData{
		OrderID:   orderID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
	}

	event, err := pkgkafka.NewEvent(TopicOrderStatusChanged, orderID, AggregateTypeOrder, SourceOrderCore, data)
	if err != nil {
		return fmt.Errorf("create order.status_changed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderStatusChanged, event); err != nil {
		return fmt.Errorf("publish order.status_changed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.status_changed event",
		slog.String("order_id", orderID),
		slog.String("old_status", oldStatus),
		slog.String("new_status", newStatus),
	)

	return nil
}

// PublishOrderCanceled publishes an order.canceled event.
func (p *Producer) PublishOrderCanceled(ctx context.Context, orderID, reason string) error {
	data := OrderCanceledData{
		OrderID: orderID,
		Reason:  reason,
	}

	event, err := pkgkafka.NewEvent(TopicOrderCanceled, orderID, AggregateTypeOrder, SourceOrderCore, data)
	if err != nil {
		return fmt.Errorf("create order.canceled event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderCanceled, event); err != nil {
		return fmt.Errorf("publish order.canceled event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.canceled event",
		slog.String("order_id", orderID),
		slog.String("reason", reason),
	)

	return nil
}

// PublishPaymentStatusChanged publishes an order.payment_status_changed event.
func (p *Producer) PublishPaymentStatusChanged(ctx context.Context, orderID, oldStatus, newStatus, eventID string) error {
	data := PaymentStatusChangedData{
		OrderID:   orderID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		EventID:   eventID,
	}

	event, err := pkgkafka.NewEvent(TopicPaymentStatusChanged, orderID, AggregateTypeOrder, SourceOrderCore, data)
	if err != nil {
		return fmt.Errorf("create order.payment_status_changed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicPaymentStatusChanged, event); err != nil {
		return fmt.Errorf("publish order.payment_status_changed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.payment_status_changed event",
		slog.String("order_id", orderID),
		slog.String("old_status", oldStatus),
		slog.String("new_status", newStatus),
	)

	return nil
}

// PublishStockMovement publishes an inventory.movement_recorded event.
func (p *Producer) PublishStockMovement(ctx context.Context, m *domain.StockMovement) error {
	data := StockMovementData{
		MovementID:       m.ID,
		VariantID:        m.VariantID,
		Delta:            m.Delta,
		Reason:           m.Reason,
		OrderID:          m.OrderID,
		PreviousQuantity: m.PreviousQuantity,
		NewQuantity:      m.NewQuantity,
	}

	event, err := pkgkafka.NewEvent(TopicStockMovementRecorded, m.VariantID, AggregateTypeStock, SourceOrderCore, data)
	if err != nil {
		return fmt.Errorf("create inventory.movement_recorded event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicStockMovementRecorded, event); err != nil {
		return fmt.Errorf("publish inventory.movement_recorded event: %w", err)
	}

	p.logger.DebugContext(ctx, "published inventory.movement_recorded event",
		slog.String("movement_id", m.ID),
		slog.String("variant_id", m.VariantID),
		slog.Int("delta", m.Delta),
	)

	return nil
}
