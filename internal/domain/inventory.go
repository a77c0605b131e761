package domain

import "time"

// Stock movement reasons.
const (
	MovementReasonOrderDecrement   = "order_decrement"
	MovementReasonOrderRestore     = "order_restore"
	MovementReasonManualAdjustment = "manual_adjustment"
)

// Stock is the current on-hand quantity for a variant. Quantity never goes
// below zero; the database enforces it alongside the conditional updates.
type Stock struct {
	VariantID string    `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockMovement is one append-only ledger entry. Delta is signed: negative
// for decrements, positive for restores and upward adjustments.
type StockMovement struct {
	ID               string    `json:"id"`
	VariantID        string    `json:"variant_id"`
	Delta            int       `json:"delta"`
	Reason           string    `json:"reason"`
	OrderID          *string   `json:"order_id,omitempty"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	CreatedAt        time.Time `json:"created_at"`
}

// StockLine is one (variant, quantity) pair in a batch decrement or restore.
type StockLine struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// ValidMovementReasons returns all recognized movement reasons.
func ValidMovementReasons() []string {
	return []string{
		MovementReasonOrderDecrement,
		MovementReasonOrderRestore,
		MovementReasonManualAdjustment,
	}
}

// IsValidMovementReason checks if a movement reason string is recognized.
func IsValidMovementReason(reason string) bool {
	for _, r := range ValidMovementReasons() {
		if r == reason {
			return true
		}
	}
	return false
}
