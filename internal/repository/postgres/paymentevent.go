package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commercekit/ordercore/internal/domain"
	"github.com/commercekit/ordercore/internal/repository"
	"github.com/commercekit/ordercore/pkg/database"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

// PaymentEventRepository implements repository.PaymentEventRepository using
// PostgreSQL. The processed_payment_events primary key is the deduplication
// authority: the event row and every mutation commit or roll back together.
type PaymentEventRepository struct {
	pool database.DBTX
}

// NewPaymentEventRepository creates a new PostgreSQL-backed payment event repository.
func NewPaymentEventRepository(pool database.DBTX) *PaymentEventRepository {
	return &PaymentEventRepository{pool: pool}
}

// Exists reports whether the event ID has already been applied.
func (r *PaymentEventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_payment_events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payment event %s: %w", eventID, err)
	}
	return exists, nil
}

// Apply records the event ID and performs the application's mutations in one
// transaction. A duplicate event ID returns ErrAlreadyExists with nothing
// else written.
func (r *PaymentEventRepository) Apply(ctx context.Context, app repository.PaymentEventApplication) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO processed_payment_events (event_id, order_id, received_at)
		VALUES ($1, $2, $3)`,
		app.EventID, app.OrderID, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("payment event", "event_id", app.EventID)
		}
		return fmt.Errorf("record payment event: %w", err)
	}

	if app.PaymentTo != "" {
		if err := updatePaymentStatusTx(ctx, tx, app.OrderID, app.PaymentFrom, app.PaymentTo); err != nil {
			return err
		}
	}

	if app.OrderTo == domain.OrderStatusCanceled {
		if err := cancelOrderTx(ctx, tx, app.OrderID, app.OrderFrom, app.CancelReason); err != nil {
			return err
		}
	} else if app.OrderTo != "" {
		if err := updateOrderStatusTx(ctx, tx, app.OrderID, app.OrderFrom, app.OrderTo); err != nil {
			return err
		}
	}

	for _, line := range app.RestoreLines {
		_, err := restoreTx(ctx, tx, line.VariantID, line.Quantity, domain.MovementReasonOrderRestore, &app.OrderID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				if err := appendOrderNoteTx(ctx, tx, app.OrderID,
					fmt.Sprintf("restock skipped for variant %s: no stock row", line.VariantID)); err != nil {
					return err
				}
				continue
			}
			return err
		}
	}

	if app.Note != "" {
		if err := appendOrderNoteTx(ctx, tx, app.OrderID, app.Note); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
