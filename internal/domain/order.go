package domain

import (
	"fmt"
	"time"
)

// Order status constants.
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCanceled   = "canceled"
	OrderStatusRefunded   = "refunded"
)

// Payment status constants.
const (
	PaymentStatusPending           = "pending"
	PaymentStatusAuthorized        = "authorized"
	PaymentStatusPaid              = "paid"
	PaymentStatusFailed            = "failed"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

// Order represents a customer order. CustomerID is nil for guest checkout.
// Amounts are minor currency units (cents).
type Order struct {
	ID              string      `json:"id"`
	StoreID         string      `json:"store_id"`
	CustomerID      *string     `json:"customer_id,omitempty"`
	OrderNumber     string      `json:"order_number"`
	Status          string      `json:"status"`
	PaymentStatus   string      `json:"payment_status"`
	Items           []OrderItem `json:"items"`
	SubtotalAmount  int64       `json:"subtotal_amount"`
	DiscountAmount  int64       `json:"discount_amount"`
	ShippingAmount  int64       `json:"shipping_amount"`
	TaxAmount       int64       `json:"tax_amount"`
	TotalAmount     int64       `json:"total_amount"`
	Currency        string      `json:"currency"`
	ShippingAddress *Address    `json:"shipping_address,omitempty"`
	BillingAddress  *Address    `json:"billing_address,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	CanceledReason  string      `json:"canceled_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Address is a shipping or billing address snapshot. It is copied onto the
// order at creation time and never re-derived from the customer record.
type Address struct {
	FullName    string `json:"full_name"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
	Phone       string `json:"phone,omitempty"`
}

// ValidStatuses returns all valid order statuses.
func ValidStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCanceled,
		OrderStatusRefunded,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// ValidPaymentStatuses returns all valid payment statuses.
func ValidPaymentStatuses() []string {
	return []string{
		PaymentStatusPending,
		PaymentStatusAuthorized,
		PaymentStatusPaid,
		PaymentStatusFailed,
		PaymentStatusRefunded,
		PaymentStatusPartiallyRefunded,
	}
}

// IsValidPaymentStatus checks if a payment status string is valid.
func IsValidPaymentStatus(status string) bool {
	for _, s := range ValidPaymentStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// AllowedTransitions defines which order status transitions are valid.
// Refunds happen only after delivery; a shipped order can no longer be canceled.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCanceled},
		OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCanceled},
		OrderStatusProcessing: {OrderStatusShipped, OrderStatusCanceled},
		OrderStatusShipped:    {OrderStatusDelivered},
		OrderStatusDelivered:  {OrderStatusRefunded},
		OrderStatusCanceled:   {},
		OrderStatusRefunded:   {},
	}
}

// AllowedPaymentTransitions defines which payment status transitions are valid.
// A failed payment can be retried, so failed is not terminal. A partial refund
// can be followed by further refunds.
func AllowedPaymentTransitions() map[string][]string {
	return map[string][]string{
		PaymentStatusPending:           {PaymentStatusAuthorized, PaymentStatusPaid, PaymentStatusFailed},
		PaymentStatusAuthorized:        {PaymentStatusPaid, PaymentStatusFailed},
		PaymentStatusPaid:              {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
		PaymentStatusFailed:            {PaymentStatusAuthorized, PaymentStatusPaid},
		PaymentStatusRefunded:          {},
		PaymentStatusPartiallyRefunded: {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
	}
}

// CanTransitionTo checks if the order can transition to the target status.
func (o *Order) CanTransitionTo(target string) bool {
	return canTransition(AllowedTransitions(), o.Status, target)
}

// CanTransitionPaymentTo checks if the order's payment status can transition
// to the target status.
func (o *Order) CanTransitionPaymentTo(target string) bool {
	return canTransition(AllowedPaymentTransitions(), o.PaymentStatus, target)
}

func canTransition(table map[string][]string, from, to string) bool {
	allowed, ok := table[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// PaymentCoversShipment reports whether the payment status is far enough
// along for the order to be shipped.
func PaymentCoversShipment(paymentStatus string) bool {
	return paymentStatus == PaymentStatusAuthorized ||
		paymentStatus == PaymentStatusPaid ||
		paymentStatus == PaymentStatusPartiallyRefunded
}

// IsTerminal reports whether the order status admits no further transitions.
func (o *Order) IsTerminal() bool {
	return len(AllowedTransitions()[o.Status]) == 0
}

// FormatOrderNumber renders a daily sequence number as a display order number,
// e.g. ORD-20260830-0042. The sequence is zero-padded to four digits but not
// truncated beyond that.
func FormatOrderNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%04d", day.UTC().Format("20060102"), seq)
}
