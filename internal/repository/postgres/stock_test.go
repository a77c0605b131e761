package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/ordercore/internal/domain"
	"github.com/commercekit/ordercore/pkg/database"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

func newStockRepo(t *testing.T) (*StockRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewStockRepository(mock), mock
}

// --- Get Tests ---

func TestStockRepository_Get_Success(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT variant_id, quantity, updated_at FROM stock").
		WithArgs("var-001").
		WillReturnRows(pgxmock.NewRows([]string{"variant_id", "quantity", "updated_at"}).
			AddRow("var-001", 12, now))

	s, err := repo.Get(context.Background(), "var-001")
	require.NoError(t, err)
	assert.Equal(t, 12, s.Quantity)
}

func TestStockRepository_Get_NotFound(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectQuery("SELECT variant_id, quantity, updated_at FROM stock").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	s, err := repo.Get(context.Background(), "missing")
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

// --- Decrement Tests ---

func TestStockRepository_Decrement_Success(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	orderID := "order-001"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stock").
		WithArgs("var-001", 3, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(7))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(pgxmock.AnyArg(), "var-001", -3, domain.MovementReasonOrderDecrement,
			&orderID, 10, 7, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	m, err := repo.Decrement(context.Background(), "var-001", 3, domain.MovementReasonOrderDecrement, &orderID)
	require.NoError(t, err)
	assert.Equal(t, -3, m.Delta)
	assert.Equal(t, 10, m.PreviousQuantity)
	assert.Equal(t, 7, m.NewQuantity)
}

func TestStockRepository_Decrement_Insufficient(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stock").
		WithArgs("var-001", 5, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT quantity FROM stock").
		WithArgs("var-001").
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(2))
	mock.ExpectRollback()

	m, err := repo.Decrement(context.Background(), "var-001", 5, domain.MovementReasonOrderDecrement, nil)
	assert.Nil(t, m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
	assert.Contains(t, err.Error(), "requested 5")
	assert.Contains(t, err.Error(), "available 2")
}

func TestStockRepository_Decrement_ExactlyAvailable(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	// Taking the last units leaves zero, never negative.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stock").
		WithArgs("var-001", 2, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(0))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(pgxmock.AnyArg(), "var-001", -2, domain.MovementReasonOrderDecrement,
			pgxmock.AnyArg(), 2, 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	m, err := repo.Decrement(context.Background(), "var-001", 2, domain.MovementReasonOrderDecrement, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.NewQuantity)
}

// --- Restore Tests ---

func TestStockRepository_Restore_Success(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	orderID := "order-001"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stock").
		WithArgs("var-001", 3, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(10))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(pgxmock.AnyArg(), "var-001", 3, domain.MovementReasonOrderRestore,
			&orderID, 7, 10, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	m, err := repo.Restore(context.Background(), "var-001", 3, domain.MovementReasonOrderRestore, &orderID)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Delta)
	assert.Equal(t, 10, m.NewQuantity)
}

func TestStockRepository_Restore_MissingVariant(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stock").
		WithArgs("gone", 1, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	m, err := repo.Restore(context.Background(), "gone", 1, domain.MovementReasonOrderRestore, nil)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

// --- BatchDecrement Tests ---

func TestStockRepository_BatchDecrement_AllOrNothing(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	lines := []domain.StockLine{
		{VariantID: "var-001", Quantity: 1},
		{VariantID: "var-002", Quantity: 4},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stock").
		WithArgs("var-001", 1, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(9))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(pgxmock.AnyArg(), "var-001", -1, domain.MovementReasonOrderDecrement,
			pgxmock.AnyArg(), 10, 9, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Second line fails; the first decrement must roll back with it.
	mock.ExpectQuery("UPDATE stock").
		WithArgs("var-002", 4, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT quantity FROM stock").
		WithArgs("var-002").
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(3))
	mock.ExpectRollback()

	movements, err := repo.BatchDecrement(context.Background(), lines, domain.MovementReasonOrderDecrement, nil)
	assert.Nil(t, movements)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
	assert.Contains(t, err.Error(), "var-002")
}

func TestStockRepository_BatchDecrement_Success(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	lines := []domain.StockLine{
		{VariantID: "var-001", Quantity: 1},
		{VariantID: "var-002", Quantity: 2},
	}

	mock.ExpectBegin()
	for i, line := range lines {
		newQty := 9 - i
		mock.ExpectQuery("UPDATE stock").
			WithArgs(line.VariantID, line.Quantity, pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(newQty))
		mock.ExpectExec("INSERT INTO stock_movements").
			WithArgs(pgxmock.AnyArg(), line.VariantID, -line.Quantity, domain.MovementReasonOrderDecrement,
				pgxmock.AnyArg(), newQty+line.Quantity, newQty, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	movements, err := repo.BatchDecrement(context.Background(), lines, domain.MovementReasonOrderDecrement, nil)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, -1, movements[0].Delta)
	assert.Equal(t, -2, movements[1].Delta)
}

// --- Adjust Tests ---

func TestStockRepository_Adjust_PositiveDelta(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stock").
		WithArgs("var-001", 5, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(15))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(pgxmock.AnyArg(), "var-001", 5, domain.MovementReasonManualAdjustment,
			pgxmock.AnyArg(), 10, 15, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	m, err := repo.Adjust(context.Background(), "var-001", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Delta)
	assert.Equal(t, domain.MovementReasonManualAdjustment, m.Reason)
}

func TestStockRepository_Adjust_NegativeDelta_GuardedLikeDecrement(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stock").
		WithArgs("var-001", 8, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT quantity FROM stock").
		WithArgs("var-001").
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(6))
	mock.ExpectRollback()

	m, err := repo.Adjust(context.Background(), "var-001", -8)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
}

func TestStockRepository_Adjust_ZeroDelta_Invalid(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	m, err := repo.Adjust(context.Background(), "var-001", 0)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

// --- Init Tests ---

func TestStockRepository_Init_NewVariant(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock").
		WithArgs("var-001", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT quantity FROM stock").
		WithArgs("var-001").
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(0))
	mock.ExpectExec("UPDATE stock").
		WithArgs("var-001", 25, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(pgxmock.AnyArg(), "var-001", 25, domain.MovementReasonManualAdjustment,
			pgxmock.AnyArg(), 0, 25, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	s, err := repo.Init(context.Background(), "var-001", 25)
	require.NoError(t, err)
	assert.Equal(t, 25, s.Quantity)
}

// The locked read happens after the row is guaranteed to exist, so a second
// init racing the first reads the quantity the first one committed and the
// movement delta reflects the real change.
func TestStockRepository_Init_ExistingRow_MovementDeltaFromLockedRead(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock").
		WithArgs("var-001", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT quantity FROM stock").
		WithArgs("var-001").
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(10))
	mock.ExpectExec("UPDATE stock").
		WithArgs("var-001", 25, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(pgxmock.AnyArg(), "var-001", 15, domain.MovementReasonManualAdjustment,
			pgxmock.AnyArg(), 10, 25, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	s, err := repo.Init(context.Background(), "var-001", 25)
	require.NoError(t, err)
	assert.Equal(t, 25, s.Quantity)
}

func TestStockRepository_Init_SameQuantity_NoMovement(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock").
		WithArgs("var-001", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT quantity FROM stock").
		WithArgs("var-001").
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(25))
	mock.ExpectExec("UPDATE stock").
		WithArgs("var-001", 25, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	s, err := repo.Init(context.Background(), "var-001", 25)
	require.NoError(t, err)
	assert.Equal(t, 25, s.Quantity)
}

// --- ListMovements Tests ---

func TestStockRepository_ListMovements(t *testing.T) {
	repo, mock := newStockRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC()
	orderID := "order-001"

	rows := pgxmock.NewRows([]string{
		"id", "variant_id", "delta", "reason", "order_id", "previous_quantity", "new_quantity", "created_at", "total_count",
	}).
		AddRow("mv-2", "var-001", 3, domain.MovementReasonOrderRestore, &orderID, 7, 10, now, 2).
		AddRow("mv-1", "var-001", -3, domain.MovementReasonOrderDecrement, &orderID, 10, 7, now.Add(-time.Minute), 2)

	mock.ExpectQuery("SELECT (.+) FROM stock_movements").
		WithArgs("var-001", 20, 0).
		WillReturnRows(rows)

	movements, total, err := repo.ListMovements(context.Background(), "var-001", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, movements, 2)
	assert.Equal(t, 3, movements[0].Delta)
	assert.Equal(t, -3, movements[1].Delta)
}
