package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/commercekit/ordercore/internal/domain"
	"github.com/commercekit/ordercore/internal/repository"
	"github.com/commercekit/ordercore/pkg/database"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

// orderNumberAttempts bounds retries when the order-number unique constraint
// fires. The counter makes collisions nearly impossible; the constraint is
// the backstop.
const orderNumberAttempts = 3

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and its items, decrements stock for every line and
// assigns the order number, all inside one transaction. A unique-constraint
// collision on the order number rolls everything back and retries from
// scratch a bounded number of times.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		err := r.createOnce(ctx, o)
		if err == nil {
			return nil
		}
		if !isOrderNumberCollision(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("create order: order number collision persisted after %d attempts: %w", orderNumberAttempts, lastErr)
}

func (r *OrderRepository) createOnce(ctx context.Context, o *domain.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Decrement stock first so an oversold line aborts before anything else
	// is written.
	for _, line := range aggregateLines(o.Items) {
		if _, err := decrementTx(ctx, tx, line.VariantID, line.Quantity, domain.MovementReasonOrderDecrement, &o.ID); err != nil {
			return err
		}
	}

	orderNumber, err := nextOrderNumberTx(ctx, tx, o.StoreID, o.CreatedAt)
	if err != nil {
		return err
	}
	o.OrderNumber = orderNumber

	var shippingJSON, billingJSON []byte
	if o.ShippingAddress != nil {
		shippingJSON, err = json.Marshal(o.ShippingAddress)
		if err != nil {
			return fmt.Errorf("marshal shipping address: %w", err)
		}
	}
	if o.BillingAddress != nil {
		billingJSON, err = json.Marshal(o.BillingAddress)
		if err != nil {
			return fmt.Errorf("marshal billing address: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, store_id, customer_id, order_number, status, payment_status,
			subtotal_amount, discount_amount, shipping_amount, tax_amount, total_amount,
			currency, shipping_address, billing_address, notes, canceled_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		o.ID, o.StoreID, o.CustomerID, o.OrderNumber, o.Status, o.PaymentStatus,
		o.SubtotalAmount, o.DiscountAmount, o.ShippingAmount, o.TaxAmount, o.TotalAmount,
		o.Currency, shippingJSON, billingJSON, o.Notes, o.CanceledReason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, variant_id, name, sku, unit_price, quantity, total_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, itemQuery,
			item.ID, item.OrderID, item.ProductID, item.VariantID,
			item.Name, item.SKU, item.UnitPrice, item.Quantity, item.TotalPrice,
			o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// aggregateLines merges items that reference the same variant so the oversell
// guard sees the combined quantity. Lines come back sorted by variant ID:
// every transaction locks stock rows in the same order, so two orders naming
// the same variants cannot deadlock.
func aggregateLines(items []domain.OrderItem) []domain.StockLine {
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

func isOrderNumberCollision(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	// Only retry on the (store_id, order_number) constraint; a duplicate
	// primary key is a caller bug.
	return strings.Contains(pgErr.ConstraintName, "order_number")
}

// GetByID retrieves an order by its ID, loading items in the same query via
// LEFT JOIN + JSONB_AGG to avoid a second round trip.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT
			o.id, o.store_id, o.customer_id, o.order_number, o.status, o.payment_status,
			o.subtotal_amount, o.discount_amount, o.shipping_amount, o.tax_amount, o.total_amount,
			o.currency, o.shipping_address, o.billing_address, o.notes, o.canceled_reason, o.created_at, o.updated_at,
			COALESCE(
				JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', oi.id,
						'order_id', oi.order_id,
						'product_id', oi.product_id,
						'variant_id', oi.variant_id,
						'name', oi.name,
						'sku', oi.sku,
						'unit_price', oi.unit_price,
						'quantity', oi.quantity,
						'total_price', oi.total_price
					) ORDER BY oi.created_at
				) FILTER (WHERE oi.id IS NOT NULL),
				'[]'::jsonb
			) AS items
		FROM orders o
		LEFT JOIN order_items oi ON o.id = oi.order_id
		WHERE o.id = $1
		GROUP BY o.id`

	var (
		o            domain.Order
		shippingJSON []byte
		billingJSON  []byte
		itemsJSON    []byte
	)

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.StoreID, &o.CustomerID, &o.OrderNumber, &o.Status, &o.PaymentStatus,
		&o.SubtotalAmount, &o.DiscountAmount, &o.ShippingAmount, &o.TaxAmount, &o.TotalAmount,
		&o.Currency, &shippingJSON, &billingJSON, &o.Notes, &o.CanceledReason, &o.CreatedAt, &o.UpdatedAt,
		&itemsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := unmarshalAddresses(shippingJSON, billingJSON, &o); err != nil {
		return nil, err
	}
	if err := unmarshalItems(itemsJSON, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// List returns orders matching the given filter with the total count.
func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.StoreID != nil {
		conditions = append(conditions, fmt.Sprintf("store_id = $%d", argIndex))
		args = append(args, *filter.StoreID)
		argIndex++
	}
	if filter.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argIndex))
		args = append(args, *filter.CustomerID)
		argIndex++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.PaymentStatus != nil {
		conditions = append(conditions, fmt.Sprintf("payment_status = $%d", argIndex))
		args = append(args, *filter.PaymentStatus)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// count(*) OVER() gives the total in the same query.
	query := fmt.Sprintf(`
		SELECT id, store_id, customer_id, order_number, status, payment_status,
			   subtotal_amount, discount_amount, shipping_amount, tax_amount, total_amount,
			   currency, shipping_address, billing_address, notes, canceled_reason, created_at, updated_at,
			   count(*) OVER() AS total_count
		FROM orders
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var totalCount int
	orders := make([]domain.Order, 0)

	for rows.Next() {
		var (
			o            domain.Order
			shippingJSON []byte
			billingJSON  []byte
		)
		if err := rows.Scan(
			&o.ID, &o.StoreID, &o.CustomerID, &o.OrderNumber, &o.Status, &o.PaymentStatus,
			&o.SubtotalAmount, &o.DiscountAmount, &o.ShippingAmount, &o.TaxAmount, &o.TotalAmount,
			&o.Currency, &shippingJSON, &billingJSON, &o.Notes, &o.CanceledReason, &o.CreatedAt, &o.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		if err := unmarshalAddresses(shippingJSON, billingJSON, &o); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	// Batch-load items for all orders in a single query to avoid N+1.
	if len(orders) > 0 {
		orderIDs := make([]string, len(orders))
		for i := range orders {
			orderIDs[i] = orders[i].ID
		}

		itemRows, err := r.pool.Query(ctx, `
			SELECT id, order_id, product_id, variant_id, name, sku, unit_price, quantity, total_price
			FROM order_items
			WHERE order_id = ANY($1)
			ORDER BY created_at`,
			orderIDs,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("batch load order items: %w", err)
		}
		defer itemRows.Close()

		itemsByOrderID := make(map[string][]domain.OrderItem, len(orders))
		for itemRows.Next() {
			var item domain.OrderItem
			if err := itemRows.Scan(
				&item.ID, &item.OrderID, &item.ProductID, &item.VariantID,
				&item.Name, &item.SKU, &item.UnitPrice, &item.Quantity, &item.TotalPrice,
			); err != nil {
				return nil, 0, fmt.Errorf("scan order item: %w", err)
			}
			itemsByOrderID[item.OrderID] = append(itemsByOrderID[item.OrderID], item)
		}
		if err := itemRows.Err(); err != nil {
			return nil, 0, fmt.Errorf("iterate batch order item rows: %w", err)
		}

		for i := range orders {
			if items, ok := itemsByOrderID[orders[i].ID]; ok {
				orders[i].Items = items
			} else {
				orders[i].Items = []domain.OrderItem{}
			}
		}
	}

	return orders, totalCount, nil
}

// UpdateStatus moves an order between statuses with a conditional update. A
// non-empty note is appended to the order's note trail in the same
// transaction.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, fromStatus, toStatus, note string) error {
	if note == "" {
		if err := updateOrderStatusTx(ctx, r.pool, id, fromStatus, toStatus); err != nil {
			return r.disambiguateConflict(ctx, id, err)
		}
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateOrderStatusTx(ctx, tx, id, fromStatus, toStatus); err != nil {
		return r.disambiguateConflict(ctx, id, err)
	}
	if err := appendOrderNoteTx(ctx, tx, id, note); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdatePaymentStatus moves an order's payment status with a conditional update.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, id, fromStatus, toStatus string) error {
	if err := updatePaymentStatusTx(ctx, r.pool, id, fromStatus, toStatus); err != nil {
		return r.disambiguateConflict(ctx, id, err)
	}
	return nil
}

// disambiguateConflict turns a conditional-update conflict on a missing order
// into NotFound. A conflict on an order that exists stays a conflict.
func (r *OrderRepository) disambiguateConflict(ctx context.Context, id string, cause error) error {
	if !errors.Is(cause, apperrors.ErrConflict) {
		return cause
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return cause
	}
	if !exists {
		return apperrors.NotFound("order", id)
	}
	return cause
}

// CancelAndRestore cancels the order and restores stock for the given lines
// in one transaction. The conditional status update gates the restores: if a
// concurrent writer moved the order first, nothing is restored. Lines whose
// stock row has disappeared are skipped and noted rather than blocking the
// cancellation.
func (r *OrderRepository) CancelAndRestore(ctx context.Context, id, fromStatus, reason string, lines []domain.StockLine) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := cancelOrderTx(ctx, tx, id, fromStatus, reason); err != nil {
		return err
	}

	for _, line := range lines {
		_, err := restoreTx(ctx, tx, line.VariantID, line.Quantity, domain.MovementReasonOrderRestore, &id)
		if err != nil {
			// A line without a stock row cannot block the cancellation; the
			// discrepancy goes on the note trail for reconciliation.
			if errors.Is(err, apperrors.ErrNotFound) {
				if err := appendOrderNoteTx(ctx, tx, id,
					fmt.Sprintf("restock skipped for variant %s: no stock row", line.VariantID)); err != nil {
					return err
				}
				continue
			}
			return err
		}
	}

	if err := appendOrderNoteTx(ctx, tx, id, fmt.Sprintf("canceled at %s: %s", time.Now().UTC().Format(time.RFC3339), reason)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func unmarshalAddresses(shippingJSON, billingJSON []byte, o *domain.Order) error {
	if len(shippingJSON) > 0 && string(shippingJSON) != "null" {
		var addr domain.Address
		if err := json.Unmarshal(shippingJSON, &addr); err != nil {
			return fmt.Errorf("unmarshal shipping address: %w", err)
		}
		o.ShippingAddress = &addr
	}
	if len(billingJSON) > 0 && string(billingJSON) != "null" {
		var addr domain.Address
		if err := json.Unmarshal(billingJSON, &addr); err != nil {
			return fmt.Errorf("unmarshal billing address: %w", err)
		}
		o.BillingAddress = &addr
	}
	return nil
}

func unmarshalItems(itemsJSON []byte, o *domain.Order) error {
	if len(itemsJSON) > 0 && string(itemsJSON) != "null" && string(itemsJSON) != "[]" {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return fmt.Errorf("unmarshal order items: %w", err)
		}
		return nil
	}
	o.Items = []domain.OrderItem{}
	return nil
}
