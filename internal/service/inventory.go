package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/commercekit/ordercore/internal/domain"
	"github.com/commercekit/ordercore/internal/repository"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

// InventoryService implements the business logic for the stock ledger.
type InventoryService struct {
	repo      repository.StockRepository
	publisher EventPublisher
	logger    *slog.Logger
}

// NewInventoryService creates a new inventory service.
func NewInventoryService(repo repository.StockRepository, publisher EventPublisher, logger *slog.Logger) *InventoryService {
	return &InventoryService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

// GetStock returns the current stock level for a variant.
func (s *InventoryService) GetStock(ctx context.Context, variantID string) (*domain.Stock, error) {
	stock, err := s.repo.Get(ctx, variantID)
	if err != nil {
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return stock, nil
}

// InitStock seeds or resets a variant's stock to an absolute quantity.
func (s *InventoryService) InitStock(ctx context.Context, variantID string, quantity int) (*domain.Stock, error) {
	if variantID == "" {
		return nil, apperrors.InvalidInput("variant_id is required")
	}
	if quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must not be negative")
	}

	stock, err := s.repo.Init(ctx, variantID, quantity)
	if err != nil {
		return nil, fmt.Errorf("init stock: %w", err)
	}

	s.logger.InfoContext(ctx, "stock initialized",
		slog.String("variant_id", variantID),
		slog.Int("quantity", quantity),
	)

	return stock, nil
}

// Decrement conditionally removes qty units from a variant's stock.
func (s *InventoryService) Decrement(ctx context.Context, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error) {
	if qty < 1 {
		return nil, apperrors.InvalidInput("quantity must be at least 1")
	}
	if !domain.IsValidMovementReason(reason) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown movement reason %q", reason))
	}

	m, err := s.repo.Decrement(ctx, variantID, qty, reason, orderID)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	s.publishMovement(ctx, m)
	return m, nil
}

// Restore unconditionally adds qty units back to a variant's stock.
func (s *InventoryService) Restore(ctx context.Context, variantID string, qty int, reason string, orderID *string) (*domain.StockMovement, error) {
	if qty < 1 {
		return nil, apperrors.InvalidInput("quantity must be at least 1")
	}
	if !domain.IsValidMovementReason(reason) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown movement reason %q", reason))
	}

	m, err := s.repo.Restore(ctx, variantID, qty, reason, orderID)
	if err != nil {
		return nil, fmt.Errorf("restore stock: %w", err)
	}

	s.publishMovement(ctx, m)
	return m, nil
}

// BatchDecrement removes stock for every line in one transaction; any
// oversold line aborts the batch.
func (s *InventoryService) BatchDecrement(ctx context.Context, lines []domain.StockLine, reason string, orderID *string) ([]domain.StockMovement, error) {
	if len(lines) == 0 {
		return nil, apperrors.InvalidInput("batch must contain at least one line")
	}
	for i, line := range lines {
		if line.Quantity < 1 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("line %d: quantity must be at least 1", i))
		}
	}
	if !domain.IsValidMovementReason(reason) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown movement reason %q", reason))
	}

	movements, err := s.repo.BatchDecrement(ctx, lines, reason, orderID)
	if err != nil {
		return nil, fmt.Errorf("batch decrement stock: %w", err)
	}

	for i := range movements {
		s.publishMovement(ctx, &movements[i])
	}
	return movements, nil
}

// AdjustStock applies a signed manual correction to a variant's stock.
func (s *InventoryService) AdjustStock(ctx context.Context, variantID string, delta int) (*domain.StockMovement, error) {
	m, err := s.repo.Adjust(ctx, variantID, delta)
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}

	s.logger.InfoContext(ctx, "stock adjusted",
		slog.String("variant_id", variantID),
		slog.Int("delta", delta),
		slog.Int("new_quantity", m.NewQuantity),
	)

	s.publishMovement(ctx, m)
	return m, nil
}

// ListMovements returns the movement ledger for a variant, newest first.
func (s *InventoryService) ListMovements(ctx context.Context, variantID string, page, perPage int) ([]domain.StockMovement, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	movements, total, err := s.repo.ListMovements(ctx, variantID, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock movements: %w", err)
	}
	return movements, total, nil
}

func (s *InventoryService) publishMovement(ctx context.Context, m *domain.StockMovement) {
	if err := s.publisher.PublishStockMovement(ctx, m); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish inventory.movement_recorded event",
			slog.String("movement_id", m.ID),
			slog.String("variant_id", m.VariantID),
			slog.String("error", err.Error()),
		)
	}
}
