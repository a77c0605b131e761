package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/commercekit/ordercore/internal/domain"
	"github.com/commercekit/ordercore/pkg/database"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

// StockRepository implements repository.StockRepository using PostgreSQL.
type StockRepository struct {
	pool database.DBTX
}

// NewStockRepository creates a new PostgreSQL-backed stock repository.
func NewStockRepository(pool database.DBTX) *StockRepository {
	return &StockRepository{pool: pool}
}

// Get returns the current stock row for a variant.
func (r *StockRepository) Get(ctx context.Context, variantID string) (*domain.Stock, error) {
	var s domain.Stock
	err := r.pool.QueryRow(ctx,
		`SELECT variant_id, quantity, updated_at FROM stock WHERE variant_id = $1`,
		variantID,
	).Scan(&s.VariantID, &s.Quantity, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock", variantID)
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return &s, nil
}

// Init upserts the stock row to an absolute quantity and records the
// difference as a manual_adjustment movement.
func (r *StockRepository) Init(ctx context.Context, variantID string, quantity int) (*domain.Stock, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	// Make sure the row exists before reading it, so the FOR UPDATE below
	// always has a row to lock. Two first-time inits serialize here: the
	// loser blocks on the winner's insert and then reads the winner's
	// quantity as its previous value.
	_, err = tx.Exec(ctx, `
		INSERT INTO stock (variant_id, quantity, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (variant_id) DO NOTHING`,
		variantID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure stock row: %w", err)
	}

	var previous int
	if err := tx.QueryRow(ctx,
		`SELECT quantity FROM stock WHERE variant_id = $1 FOR UPDATE`,
		variantID,
	).Scan(&previous); err != nil {
		return nil, fmt.Errorf("read stock: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE stock SET quantity = $2, updated_at = $3 WHERE variant_id = $1`,
		variantID, quantity, now,
	)
	if err != nil {
		return nil, fmt.Errorf("init stock: %w", err)
	}

	if quantity != previous {
		if _, err := insertMovementTx(ctx, tx, domain.StockMovement{
			VariantID:        variantID,
			Delta:            quantity - previous,
			Reason:           domain.MovementReasonManualAdjustment,
			PreviousQuantity: previous,
			NewQuantity:      quantity,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &domain.Stock{VariantID: variantID, Quantity: quantity, UpdatedAt: now}, nil
}

// Decrement conditionally subtracts qty and appends the movement, in one
// transaction.
func (r *StockRepository) Decrement(ctx context.Context, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := decrementTx(ctx, tx, variantID, qty, reason, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return m, nil
}

// Restore unconditionally adds qty back and appends the movement, in one
// transaction.
func (r *StockRepository) Restore(ctx context.Context, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := restoreTx(ctx, tx, variantID, qty, reason, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return m, nil
}

// BatchDecrement decrements every line inside a single transaction. The first
// failing line aborts the batch and its error names the variant.
func (r *StockRepository) BatchDecrement(ctx context.Context, lines []domain.StockLine, reason string, orderID *string) ([]domain.StockMovement, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	movements := make([]domain.StockMovement, 0, len(lines))
	for _, line := range lines {
		m, err := decrementTx(ctx, tx, line.VariantID, line.Quantity, reason, orderID)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *m)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return movements, nil
}

// Adjust applies a signed manual delta with the manual_adjustment reason.
func (r *StockRepository) Adjust(ctx context.Context, variantID string, delta int) (*domain.StockMovement, error) {
	if delta == 0 {
		return nil, apperrors.InvalidInput("adjustment delta must be non-zero")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var m *domain.StockMovement
	if delta < 0 {
		m, err = decrementTx(ctx, tx, variantID, -delta, domain.MovementReasonManualAdjustment, nil)
	} else {
		m, err = restoreTx(ctx, tx, variantID, delta, domain.MovementReasonManualAdjustment, nil)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return m, nil
}

// ListMovements returns the movement ledger for a variant, newest first.
func (r *StockRepository) ListMovements(ctx context.Context, variantID string, page, perPage int) ([]domain.StockMovement, int, error) {
	limit := perPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if page > 1 {
		offset = (page - 1) * limit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, variant_id, delta, reason, order_id, previous_quantity, new_quantity, created_at,
			   count(*) OVER() AS total_count
		FROM stock_movements
		WHERE variant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		variantID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var totalCount int
	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(
			&m.ID, &m.VariantID, &m.Delta, &m.Reason, &m.OrderID,
			&m.PreviousQuantity, &m.NewQuantity, &m.CreatedAt, &totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan stock movement row: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate stock movement rows: %w", err)
	}

	return movements, totalCount, nil
}
