package domain

import "time"

// Payment event kinds, as delivered by the payment provider webhook and the
// payment events topic.
const (
	PaymentEventSucceeded = "payment.succeeded"
	PaymentEventFailed    = "payment.failed"
	PaymentEventRefunded  = "payment.refunded"
	PaymentEventCancelled = "payment.cancelled"
)

// PaymentEvent is a provider notification about an order's payment. EventID
// is the provider's globally unique identifier and is the deduplication key.
// Amount is set on refund events; zero or absent means the full order amount.
type PaymentEvent struct {
	EventID    string    `json:"event_id"`
	Kind       string    `json:"kind"`
	OrderID    string    `json:"order_id"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// IsKnownPaymentEventKind checks whether the kind is one this service handles.
func IsKnownPaymentEventKind(kind string) bool {
	switch kind {
	case PaymentEventSucceeded, PaymentEventFailed, PaymentEventRefunded, PaymentEventCancelled:
		return true
	}
	return false
}
