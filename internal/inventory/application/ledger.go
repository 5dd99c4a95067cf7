package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/internal/inventory/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

// Ledger operations: stock CRUD outside the saga path. Every delta leaves a
// movement record.

func (s *Service) CreateInventory(ctx context.Context, productID uuid.UUID, productName, sku string, initialQty, minStock int) (domain.Inventory, error) {
	if productID == uuid.Nil || sku == "" {
		return domain.Inventory{}, fmt.Errorf("%w: product id and sku are required", apperrors.ErrValidation)
	}
	if initialQty < 0 || minStock < 0 {
		return domain.Inventory{}, fmt.Errorf("%w: quantities must not be negative", apperrors.ErrValidation)
	}

	now := s.now()
	inv := domain.Inventory{
		ID:            uuid.New(),
		ProductID:     productID,
		ProductName:   productName,
		SKU:           sku,
		TotalQuantity: initialQty,
		MinStockLevel: minStock,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var movement *domain.Movement
	if initialQty > 0 {
		movement = &domain.Movement{
			ProductID: productID,
			Type:      domain.MovementStockIn,
			Quantity:  initialQty,
			Notes:     "initial stock",
		}
	}

	if err := s.repo.CreateInventory(ctx, inv, movement); err != nil {
		return domain.Inventory{}, err
	}
	s.log.Info("inventory created", "sku", sku, "quantity", initialQty)
	return inv, nil
}

func (s *Service) AddStock(ctx context.Context, productID uuid.UUID, quantity int, notes string) (domain.Inventory, error) {
	if quantity <= 0 {
		return domain.Inventory{}, fmt.Errorf("%w: quantity must be positive", apperrors.ErrValidation)
	}
	return s.updateStock(ctx, productID, func(inv *domain.Inventory) (domain.Movement, error) {
		inv.AddStock(quantity)
		return domain.Movement{ProductID: productID, Type: domain.MovementStockIn, Quantity: quantity, Notes: notes}, nil
	})
}

func (s *Service) RemoveStock(ctx context.Context, productID uuid.UUID, quantity int, notes string) (domain.Inventory, error) {
	if quantity <= 0 {
		return domain.Inventory{}, fmt.Errorf("%w: quantity must be positive", apperrors.ErrValidation)
	}
	return s.updateStock(ctx, productID, func(inv *domain.Inventory) (domain.Movement, error) {
		if inv.Available() < quantity {
			return domain.Movement{}, fmt.Errorf("%w: available %d, requested %d",
				apperrors.ErrInsufficientStock, inv.Available(), quantity)
		}
		inv.RemoveStock(quantity)
		return domain.Movement{ProductID: productID, Type: domain.MovementStockOut, Quantity: quantity, Notes: notes}, nil
	})
}

func (s *Service) AdjustStock(ctx context.Context, productID uuid.UUID, newQuantity int, notes string) (domain.Inventory, error) {
	if newQuantity < 0 {
		return domain.Inventory{}, fmt.Errorf("%w: quantity must not be negative", apperrors.ErrValidation)
	}
	return s.updateStock(ctx, productID, func(inv *domain.Inventory) (domain.Movement, error) {
		diff := newQuantity - inv.TotalQuantity
		if newQuantity < inv.ReservedQuantity {
			return domain.Movement{}, fmt.Errorf("%w: cannot adjust below reserved quantity %d",
				apperrors.ErrValidation, inv.ReservedQuantity)
		}
		inv.TotalQuantity = newQuantity
		if notes == "" {
			notes = fmt.Sprintf("stock adjustment: %+d", diff)
		}
		qty := diff
		if qty < 0 {
			qty = -qty
		}
		return domain.Movement{ProductID: productID, Type: domain.MovementAdjustment, Quantity: qty, Notes: notes}, nil
	})
}

func (s *Service) updateStock(ctx context.Context, productID uuid.UUID, apply func(*domain.Inventory) (domain.Movement, error)) (domain.Inventory, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		inv, err := s.repo.GetInventory(ctx, productID)
		if err != nil {
			return domain.Inventory{}, err
		}
		movement, err := apply(&inv)
		if err != nil {
			return domain.Inventory{}, err
		}

		err = s.repo.UpdateInventory(ctx, inv, movement)
		switch {
		case err == nil:
			return inv, nil
		case errors.Is(err, ErrVersionConflict):
			continue
		default:
			return domain.Inventory{}, err
		}
	}
	return domain.Inventory{}, fmt.Errorf("%w: stock update for product %s lost %d version races",
		apperrors.ErrTransient, productID, casRetries)
}

func (s *Service) GetInventory(ctx context.Context, productID uuid.UUID) (domain.Inventory, error) {
	return s.repo.GetInventory(ctx, productID)
}

func (s *Service) GetInventoryBySKU(ctx context.Context, sku string) (domain.Inventory, error) {
	return s.repo.GetInventoryBySKU(ctx, sku)
}

func (s *Service) ListActive(ctx context.Context) ([]domain.Inventory, error) {
	return s.repo.ListActive(ctx)
}

func (s *Service) ListLowStock(ctx context.Context) ([]domain.Inventory, error) {
	return s.repo.ListLowStock(ctx)
}

func (s *Service) MovementsByProduct(ctx context.Context, productID uuid.UUID) ([]domain.Movement, error) {
	return s.repo.MovementsByProduct(ctx, productID)
}
