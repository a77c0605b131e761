package repository

import (
	"context"
	"time"

	"github.com/commercekit/ordercore/internal/domain"
)

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	StoreID       *string
	CustomerID    *string
	Status        *string
	PaymentStatus *string
	Page          int
	PerPage       int
}

// OrderRepository defines the interface for order persistence operations.
type OrderRepository interface {
	// Create inserts the order and its items, decrements stock for every line
	// and assigns the order number, all in a single transaction. On return the
	// order's OrderNumber field is populated. Insufficient stock on any line
	// aborts the whole transaction.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its unique identifier, including items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// List returns orders matching the given filter along with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// UpdateStatus moves an order from the observed status to the target
	// status with a conditional update. If the row changed under the caller
	// the update affects no rows and ErrConflict is returned. A non-empty
	// note is appended to the order's note trail.
	UpdateStatus(ctx context.Context, id, fromStatus, toStatus, note string) error

	// UpdatePaymentStatus moves an order's payment status from the observed
	// status to the target status, with the same conditional-update contract
	// as UpdateStatus.
	UpdatePaymentStatus(ctx context.Context, id, fromStatus, toStatus string) error

	// CancelAndRestore cancels the order and restores stock for the given
	// lines in one transaction. The status update is conditional on the
	// observed status; losing the race means nothing is restored and
	// ErrConflict is returned. A line without a stock row does not block
	// the cancellation; the discrepancy is noted on the order instead.
	CancelAndRestore(ctx context.Context, id, fromStatus, reason string, lines []domain.StockLine) error
}

// StockRepository defines the interface for the inventory ledger. Every stock
// mutation appends a movement row in the same transaction.
type StockRepository interface {
	// Get returns the current stock row for a variant.
	Get(ctx context.Context, variantID string) (*domain.Stock, error)

	// Init upserts the stock row for a variant to an absolute quantity,
	// recording a manual_adjustment movement for the difference.
	Init(ctx context.Context, variantID string, quantity int) (*domain.Stock, error)

	// Decrement conditionally subtracts qty from the variant's stock. It
	// fails with ErrInsufficientStock when the remaining quantity does not
	// cover qty, and ErrNotFound when the variant has no stock row.
	Decrement(ctx context.Context, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error)

	// Restore unconditionally adds qty back to the variant's stock.
	Restore(ctx context.Context, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error)

	// BatchDecrement decrements every line in one transaction. Any failing
	// line aborts the batch; the returned error names the offending variant.
	BatchDecrement(ctx context.Context, lines []domain.StockLine, reason string, orderID *string) ([]domain.StockMovement, error)

	// Adjust applies a signed manual delta. Negative deltas use the same
	// conditional update as Decrement so quantity never goes below zero.
	Adjust(ctx context.Context, variantID string, delta int) (*domain.StockMovement, error)

	// ListMovements returns the movement ledger for a variant, newest first,
	// with the total count.
	ListMovements(ctx context.Context, variantID string, page, perPage int) ([]domain.StockMovement, int, error)
}

// OrderNumberRepository hands out race-safe per-store daily order numbers.
type OrderNumberRepository interface {
	// Next atomically increments the (store, day) counter and returns the
	// formatted order number, e.g. ORD-20260830-0042.
	Next(ctx context.Context, storeID string, day time.Time) (string, error)
}

// PaymentEventApplication describes the full effect of one payment event:
// which statuses move and which stock lines are restored. Empty "To" fields
// mean that status is untouched.
type PaymentEventApplication struct {
	EventID      string
	OrderID      string
	PaymentFrom  string
	PaymentTo    string
	OrderFrom    string
	OrderTo      string
	CancelReason string
	RestoreLines []domain.StockLine
	Note         string
}

// PaymentEventRepository applies payment events exactly once.
type PaymentEventRepository interface {
	// Exists reports whether the event ID has already been applied. Callers
	// use it to short-circuit replays before validating the event against
	// the order's current state; Apply remains the authority.
	Exists(ctx context.Context, eventID string) (bool, error)

	// Apply records the event ID and performs every mutation in the
	// application within a single transaction. A previously recorded event
	// ID returns ErrAlreadyExists with no other effect. Conditional status
	// updates that affect no rows return ErrConflict and roll back the
	// whole application.
	Apply(ctx context.Context, app PaymentEventApplication) error
}
