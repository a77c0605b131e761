package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/ordercore/internal/domain"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

type mockStockRepository struct {
	mock.Mock
}

func (m *mockStockRepository) Get(ctx context.Context, variantID string) (*domain.Stock, error) {
	args := m.Called(ctx, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Stock), args.Error(1)
}

func (m *mockStockRepository) Init(ctx context.Context, variantID string, quantity int) (*domain.Stock, error) {
	args := m.Called(ctx, variantID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Stock), args.Error(1)
}

func (m *mockStockRepository) Decrement(ctx context.Context, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error) {
	args := m.Called(ctx, variantID, qty, reason, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StockMovement), args.Error(1)
}

func (m *mockStockRepository) Restore(ctx context.Context, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error) {
	args := m.Called(ctx, variantID, qty, reason, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StockMovement), args.Error(1)
}

func (m *mockStockRepository) BatchDecrement(ctx context.Context, lines []domain.StockLine, reason string, orderID *string) ([]domain.StockMovement, error) {
	args := m.Called(ctx, lines, reason, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StockMovement), args.Error(1)
}

func (m *mockStockRepository) Adjust(ctx context.Context, variantID string, delta int) (*domain.StockMovement, error) {
	args := m.Called(ctx, variantID, delta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StockMovement), args.Error(1)
}

func (m *mockStockRepository) ListMovements(ctx context.Context, variantID string, page, perPage int) ([]domain.StockMovement, int, error) {
	args := m.Called(ctx, variantID, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.StockMovement), args.Int(1), args.Error(2)
}

func newTestInventoryService(repo *mockStockRepository, pub *mockPublisher) *InventoryService {
	return NewInventoryService(repo, pub, newTestLogger())
}

func sampleMovement(variantID string, delta int) *domain.StockMovement {
	prev := 10
	return &domain.StockMovement{
		ID:               "mv-1",
		VariantID:        variantID,
		Delta:            delta,
		Reason:           domain.MovementReasonManualAdjustment,
		PreviousQuantity: prev,
		NewQuantity:      prev + delta,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestGetStock(t *testing.T) {
	repo := new(mockStockRepository)
	svc := newTestInventoryService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("Get", ctx, "var-1").Return(&domain.Stock{VariantID: "var-1", Quantity: 7}, nil)

	stock, err := svc.GetStock(ctx, "var-1")
	require.NoError(t, err)
	assert.Equal(t, 7, stock.Quantity)
}

func TestGetStock_NotFound(t *testing.T) {
	repo := new(mockStockRepository)
	svc := newTestInventoryService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("Get", ctx, "missing").Return(nil, apperrors.NotFound("stock", "missing"))

	_, err := svc.GetStock(ctx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestInitStock(t *testing.T) {
	repo := new(mockStockRepository)
	svc := newTestInventoryService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("Init", ctx, "var-1", 25).Return(&domain.Stock{VariantID: "var-1", Quantity: 25}, nil)

	stock, err := svc.InitStock(ctx, "var-1", 25)
	require.NoError(t, err)
	assert.Equal(t, 25, stock.Quantity)
}

func TestInitStock_NegativeQuantity(t *testing.T) {
	svc := newTestInventoryService(new(mockStockRepository), new(mockPublisher))

	_, err := svc.InitStock(context.Background(), "var-1", -1)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestInitStock_MissingVariant(t *testing.T) {
	svc := newTestInventoryService(new(mockStockRepository), new(mockPublisher))

	_, err := svc.InitStock(context.Background(), "", 10)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestDecrement(t *testing.T) {
	repo := new(mockStockRepository)
	pub := new(mockPublisher)
	svc := newTestInventoryService(repo, pub)
	ctx := context.Background()

	orderID := strPtr("order-1")
	mv := sampleMovement("var-1", -3)
	mv.Reason = domain.MovementReasonOrderDecrement
	repo.On("Decrement", ctx, "var-1", 3, domain.MovementReasonOrderDecrement, orderID).Return(mv, nil)
	pub.On("PublishStockMovement", ctx, mv).Return(nil)

	got, err := svc.Decrement(ctx, "var-1", 3, domain.MovementReasonOrderDecrement, orderID)
	require.NoError(t, err)
	assert.Equal(t, -3, got.Delta)
	pub.AssertExpectations(t)
}

func TestDecrement_InsufficientStock(t *testing.T) {
	repo := new(mockStockRepository)
	svc := newTestInventoryService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("Decrement", ctx, "var-1", 5, domain.MovementReasonManualAdjustment, (*string)(nil)).
		Return(nil, apperrors.InsufficientStock("var-1", 5, 2))

	_, err := svc.Decrement(ctx, "var-1", 5, domain.MovementReasonManualAdjustment, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
}

func TestDecrement_InvalidQuantity(t *testing.T) {
	svc := newTestInventoryService(new(mockStockRepository), new(mockPublisher))

	_, err := svc.Decrement(context.Background(), "var-1", 0, domain.MovementReasonManualAdjustment, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestDecrement_UnknownReason(t *testing.T) {
	svc := newTestInventoryService(new(mockStockRepository), new(mockPublisher))

	_, err := svc.Decrement(context.Background(), "var-1", 1, "shrinkage", nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestRestore(t *testing.T) {
	repo := new(mockStockRepository)
	pub := new(mockPublisher)
	svc := newTestInventoryService(repo, pub)
	ctx := context.Background()

	orderID := strPtr("order-1")
	mv := sampleMovement("var-1", 3)
	mv.Reason = domain.MovementReasonOrderRestore
	repo.On("Restore", ctx, "var-1", 3, domain.MovementReasonOrderRestore, orderID).Return(mv, nil)
	pub.On("PublishStockMovement", ctx, mv).Return(nil)

	got, err := svc.Restore(ctx, "var-1", 3, domain.MovementReasonOrderRestore, orderID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Delta)
}

func TestBatchDecrement(t *testing.T) {
	repo := new(mockStockRepository)
	pub := new(mockPublisher)
	svc := newTestInventoryService(repo, pub)
	ctx := context.Background()

	lines := []domain.StockLine{{VariantID: "var-1", Quantity: 2}, {VariantID: "var-2", Quantity: 1}}
	movements := []domain.StockMovement{*sampleMovement("var-1", -2), *sampleMovement("var-2", -1)}
	repo.On("BatchDecrement", ctx, lines, domain.MovementReasonOrderDecrement, (*string)(nil)).Return(movements, nil)
	pub.On("PublishStockMovement", ctx, mock.AnythingOfType("*domain.StockMovement")).Return(nil).Times(2)

	got, err := svc.BatchDecrement(ctx, lines, domain.MovementReasonOrderDecrement, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	pub.AssertExpectations(t)
}

func TestBatchDecrement_EmptyBatch(t *testing.T) {
	svc := newTestInventoryService(new(mockStockRepository), new(mockPublisher))

	_, err := svc.BatchDecrement(context.Background(), nil, domain.MovementReasonOrderDecrement, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestBatchDecrement_OversoldLineAborts(t *testing.T) {
	repo := new(mockStockRepository)
	svc := newTestInventoryService(repo, new(mockPublisher))
	ctx := context.Background()

	lines := []domain.StockLine{{VariantID: "var-1", Quantity: 2}, {VariantID: "var-2", Quantity: 9}}
	repo.On("BatchDecrement", ctx, lines, domain.MovementReasonOrderDecrement, (*string)(nil)).
		Return(nil, apperrors.InsufficientStock("var-2", 9, 4))

	_, err := svc.BatchDecrement(ctx, lines, domain.MovementReasonOrderDecrement, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
}

func TestAdjustStock(t *testing.T) {
	repo := new(mockStockRepository)
	pub := new(mockPublisher)
	svc := newTestInventoryService(repo, pub)
	ctx := context.Background()

	mv := sampleMovement("var-1", -4)
	repo.On("Adjust", ctx, "var-1", -4).Return(mv, nil)
	pub.On("PublishStockMovement", ctx, mv).Return(nil)

	got, err := svc.AdjustStock(ctx, "var-1", -4)
	require.NoError(t, err)
	assert.Equal(t, 6, got.NewQuantity)
}

func TestListMovements_ClampsPagination(t *testing.T) {
	repo := new(mockStockRepository)
	svc := newTestInventoryService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("ListMovements", ctx, "var-1", 1, 100).Return([]domain.StockMovement{}, 0, nil)

	_, _, err := svc.ListMovements(ctx, "var-1", -1, 500)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
