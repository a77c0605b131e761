package postgres

import (
	"context"
	"time"

	"github.com/commercekit/ordercore/pkg/database"
)

// OrderNumberRepository implements repository.OrderNumberRepository using a
// per-(store, day) counter table.
type OrderNumberRepository struct {
	pool database.DBTX
}

// NewOrderNumberRepository creates a new PostgreSQL-backed order number repository.
func NewOrderNumberRepository(pool database.DBTX) *OrderNumberRepository {
	return &OrderNumberRepository{pool: pool}
}

// Next atomically increments the counter and returns the formatted order
// number. Safe under concurrency: the upsert serializes on the counter row.
func (r *OrderNumberRepository) Next(ctx context.Context, storeID string, day time.Time) (string, error) {
	return nextOrderNumberTx(ctx, r.pool, storeID, day)
}
