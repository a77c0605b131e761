package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/commercekit/ordercore/internal/domain"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

// querier is satisfied by both database.DBTX and pgx.Tx, so the mutation
// helpers below can run standalone or inside a larger transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// decrementTx conditionally subtracts qty from a variant's stock and appends
// the movement row. The WHERE clause is the oversell guard: when the update
// affects no row the helper distinguishes a missing variant from insufficient
// stock with a follow-up read.
func decrementTx(ctx context.Context, q querier, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error) {
	var newQty int
	err := q.QueryRow(ctx, `
		UPDATE stock
		SET quantity = quantity - $2, updated_at = $3
		WHERE variant_id = $1 AND quantity >= $2
		RETURNING quantity`,
		variantID, qty, time.Now().UTC(),
	).Scan(&newQty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var available int
			selErr := q.QueryRow(ctx, `SELECT quantity FROM stock WHERE variant_id = $1`, variantID).Scan(&available)
			if errors.Is(selErr, pgx.ErrNoRows) {
				return nil, apperrors.NotFound("stock", variantID)
			}
			if selErr != nil {
				return nil, fmt.Errorf("check stock for %s: %w", variantID, selErr)
			}
			return nil, apperrors.InsufficientStock(variantID, qty, available)
		}
		return nil, fmt.Errorf("decrement stock for %s: %w", variantID, err)
	}

	return insertMovementTx(ctx, q, domain.StockMovement{
		VariantID:        variantID,
		Delta:            -qty,
		Reason:           reason,
		OrderID:          orderID,
		PreviousQuantity: newQty + qty,
		NewQuantity:      newQty,
	})
}

// restoreTx unconditionally adds qty back to a variant's stock and appends
// the movement row. A missing stock row is NotFound; the caller decides
// whether that is fatal.
func restoreTx(ctx context.Context, q querier, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error) {
	var newQty int
	err := q.QueryRow(ctx, `
		UPDATE stock
		SET quantity = quantity + $2, updated_at = $3
		WHERE variant_id = $1
		RETURNING quantity`,
		variantID, qty, time.Now().UTC(),
	).Scan(&newQty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock", variantID)
		}
		return nil, fmt.Errorf("restore stock for %s: %w", variantID, err)
	}

	return insertMovementTx(ctx, q, domain.StockMovement{
		VariantID:        variantID,
		Delta:            qty,
		Reason:           reason,
		OrderID:          orderID,
		PreviousQuantity: newQty - qty,
		NewQuantity:      newQty,
	})
}

// insertMovementTx appends one ledger row. ID and CreatedAt are assigned here.
func insertMovementTx(ctx context.Context, q querier, m domain.StockMovement) (*domain.StockMovement, error) {
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()

	_, err := q.Exec(ctx, `
		INSERT INTO stock_movements (id, variant_id, delta, reason, order_id, previous_quantity, new_quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.VariantID, m.Delta, m.Reason, m.OrderID, m.PreviousQuantity, m.NewQuantity, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert stock movement: %w", err)
	}
	return &m, nil
}

// nextOrderNumberTx bumps the (store, day) counter atomically and returns the
// formatted order number. The upsert serializes concurrent callers on the
// counter row, so two orders never see the same sequence value.
func nextOrderNumberTx(ctx context.Context, q querier, storeID string, day time.Time) (string, error) {
	var seq int64
	err := q.QueryRow(ctx, `
		INSERT INTO order_counters (store_id, day, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (store_id, day) DO UPDATE SET seq = order_counters.seq + 1
		RETURNING seq`,
		storeID, day.UTC().Truncate(24*time.Hour),
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("next order number for store %s: %w", storeID, err)
	}
	return domain.FormatOrderNumber(day, seq), nil
}

// updateOrderStatusTx moves an order's status with a conditional update keyed
// on the status the caller observed. Zero rows means a concurrent writer won.
// canceled_reason is untouched; cancellation goes through cancelOrderTx.
func updateOrderStatusTx(ctx context.Context, q querier, id, fromStatus, toStatus string) error {
	ct, err := q.Exec(ctx, `
		UPDATE orders
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`,
		id, fromStatus, toStatus, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("order %s is no longer %s", id, fromStatus))
	}
	return nil
}

// cancelOrderTx is the cancellation variant of updateOrderStatusTx: the only
// transition that records a canceled_reason.
func cancelOrderTx(ctx context.Context, q querier, id, fromStatus, reason string) error {
	ct, err := q.Exec(ctx, `
		UPDATE orders
		SET status = $3, canceled_reason = $4, updated_at = $5
		WHERE id = $1 AND status = $2`,
		id, fromStatus, domain.OrderStatusCanceled, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("order %s is no longer %s", id, fromStatus))
	}
	return nil
}

// updatePaymentStatusTx is the payment-status counterpart of updateOrderStatusTx.
func updatePaymentStatusTx(ctx context.Context, q querier, id, fromStatus, toStatus string) error {
	ct, err := q.Exec(ctx, `
		UPDATE orders
		SET payment_status = $3, updated_at = $4
		WHERE id = $1 AND payment_status = $2`,
		id, fromStatus, toStatus, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("payment status of order %s is no longer %s", id, fromStatus))
	}
	return nil
}

// appendOrderNoteTx appends a line to the order's note trail.
func appendOrderNoteTx(ctx context.Context, q querier, id, note string) error {
	_, err := q.Exec(ctx, `
		UPDATE orders
		SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END, updated_at = $3
		WHERE id = $1`,
		id, note, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append order note: %w", err)
	}
	return nil
}
