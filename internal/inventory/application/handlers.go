package application

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/internal/inventory/domain"
	orderdom "github.com/orderflow/orderflow/internal/order/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

// Broker-facing entrypoints. Business failures discovered here become
// failure outcome events on the reply topic; they are never thrown back
// across the broker boundary.

// HandleReserveRequest serves the inventory-reserve-request topic.
func (s *Service) HandleReserveRequest(ctx context.Context, ev orderdom.InventoryReserveRequestEvent) error {
	items := make([]domain.ReservationItem, 0, len(ev.Items))
	for _, it := range ev.Items {
		items = append(items, domain.ReservationItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	_, err := s.Reserve(ctx, ev.OrderID, items)
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrInsufficientStock) || errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrValidation) {
		s.log.Warn("reservation rejected", "order_id", ev.OrderID, "reason", err)
		outcome := domain.InventoryReservedEvent{
			OrderID:       ev.OrderID,
			Success:       false,
			FailureReason: err.Error(),
			Timestamp:     s.now(),
		}
		return s.repo.SaveReservationOutcome(ctx, ev.OrderID, outcome)
	}
	return err
}

// HandleReleaseRequest serves the inventory-release-request topic. A missing
// reservation is a no-op: the release may arrive before the reserve ever
// succeeded, or after a previous release already ran.
func (s *Service) HandleReleaseRequest(ctx context.Context, orderID uuid.UUID, reason string) error {
	_, err := s.Release(ctx, orderID, reason)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.log.Info("release for unknown reservation ignored", "order_id", orderID)
		return nil
	}
	return err
}

// HandlePaymentCompleted confirms the reservation once the order's payment
// succeeded. Failed payments are handled by the orchestrator's release
// request, not here.
func (s *Service) HandlePaymentCompleted(ctx context.Context, orderID uuid.UUID, success bool) error {
	if !success {
		return nil
	}
	_, err := s.Confirm(ctx, orderID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		s.log.Warn("payment completed for unknown reservation", "order_id", orderID)
		return nil
	case errors.Is(err, apperrors.ErrConflict):
		s.log.Warn("reservation not confirmable", "order_id", orderID, "err", err)
		return nil
	}
	return err
}
