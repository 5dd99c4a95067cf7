package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/internal/inventory/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

// casRetries bounds the read-compute-write loop on version conflicts.
const casRetries = 3

type Service struct {
	log  *slog.Logger
	repo Repository
	now  func() time.Time
}

func NewService(log *slog.Logger, repo Repository) *Service {
	return &Service{log: log, repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// ==================== RESERVATIONS ====================

// Reserve provisionally holds stock for an order. All-or-nothing: if any
// line lacks available stock, nothing is written. A reservation that already
// exists for the order is returned unchanged (redelivery guard). The success
// outcome event commits in the same transaction as the reservation.
func (s *Service) Reserve(ctx context.Context, orderID uuid.UUID, items []domain.ReservationItem) (domain.Reservation, error) {
	// Quantities come off the wire; bad ones must fail the request, not trip
	// the stock invariant.
	if len(items) == 0 {
		return domain.Reservation{}, fmt.Errorf("%w: reservation for order %s has no items", apperrors.ErrValidation, orderID)
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return domain.Reservation{}, fmt.Errorf("%w: product %s quantity %d must be positive",
				apperrors.ErrValidation, item.ProductID, item.Quantity)
		}
	}

	if existing, err := s.repo.GetReservation(ctx, orderID); err == nil {
		s.log.Info("reservation already exists", "order_id", orderID)
		return existing, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return domain.Reservation{}, err
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		now := s.now()
		updates := make([]domain.Inventory, 0, len(items))

		for _, item := range items {
			inv, err := s.repo.GetInventory(ctx, item.ProductID)
			if err != nil {
				return domain.Reservation{}, fmt.Errorf("product %s: %w", item.ProductID, err)
			}
			if !inv.HasAvailable(item.Quantity) {
				return domain.Reservation{}, fmt.Errorf("%w: %s requested %d, available %d",
					apperrors.ErrInsufficientStock, inv.ProductName, item.Quantity, inv.Available())
			}
			inv.Reserve(item.Quantity)
			updates = append(updates, inv)
		}

		res := domain.NewReservation(orderID, items, now)
		movements := make([]domain.Movement, 0, len(items))
		for _, item := range items {
			movements = append(movements, domain.Movement{
				ProductID:     item.ProductID,
				Type:          domain.MovementReservation,
				Quantity:      item.Quantity,
				ReferenceID:   &res.ID,
				ReferenceType: "RESERVATION",
				Notes:         "order reservation: " + orderID.String(),
			})
		}

		outcome := domain.InventoryReservedEvent{
			OrderID:       orderID,
			ReservationID: &res.ID,
			Success:       true,
			Timestamp:     now,
		}

		err := s.repo.ApplyReservation(ctx, res, updates, movements, outcome)
		switch {
		case err == nil:
			s.log.Info("reservation created", "order_id", orderID, "reservation_id", res.ID, "items", len(items))
			return res, nil
		case errors.Is(err, ErrVersionConflict):
			continue
		case errors.Is(err, apperrors.ErrConflict):
			// Lost a duplicate race; the winner's reservation is the result.
			return s.repo.GetReservation(ctx, orderID)
		default:
			return domain.Reservation{}, err
		}
	}

	return domain.Reservation{}, fmt.Errorf("%w: reservation for order %s lost %d version races",
		apperrors.ErrTransient, orderID, casRetries)
}

// Confirm turns a pending reservation into a sale: total and reserved both
// drop by the held quantity. Legal only before expiry; confirming twice is
// a no-op.
func (s *Service) Confirm(ctx context.Context, orderID uuid.UUID) (domain.Reservation, error) {
	res, err := s.repo.GetReservation(ctx, orderID)
	if err != nil {
		return domain.Reservation{}, err
	}

	switch res.Status {
	case domain.ReservationConfirmed:
		return res, nil
	case domain.ReservationReleased:
		return domain.Reservation{}, fmt.Errorf("%w: reservation for order %s already released", apperrors.ErrConflict, orderID)
	}
	now := s.now()
	if res.Expired(now) {
		return domain.Reservation{}, fmt.Errorf("%w: reservation for order %s expired", apperrors.ErrConflict, orderID)
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		updates, movements, err := s.applyToItems(ctx, res, domain.MovementSale, "ORDER", "",
			func(inv *domain.Inventory, qty int) { inv.CommitSale(qty) })
		if err != nil {
			return domain.Reservation{}, err
		}

		res.Status = domain.ReservationConfirmed
		res.ConfirmedAt = &now
		res.UpdatedAt = now

		err = s.repo.FinalizeReservation(ctx, res, updates, movements)
		switch {
		case err == nil:
			s.log.Info("reservation confirmed", "order_id", orderID, "reservation_id", res.ID)
			return res, nil
		case errors.Is(err, ErrVersionConflict):
			continue
		default:
			return domain.Reservation{}, err
		}
	}

	return domain.Reservation{}, fmt.Errorf("%w: confirm for order %s lost %d version races",
		apperrors.ErrTransient, orderID, casRetries)
}

// Release undoes a pending reservation and returns the stock to the
// available pool. Releasing a reservation that is already released or
// confirmed is a no-op: compensation must be idempotent.
func (s *Service) Release(ctx context.Context, orderID uuid.UUID, reason string) (domain.Reservation, error) {
	res, err := s.repo.GetReservation(ctx, orderID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if res.Status != domain.ReservationPending {
		s.log.Info("release skipped", "order_id", orderID, "status", res.Status)
		return res, nil
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		updates, movements, err := s.applyToItems(ctx, res, domain.MovementReservationCancel, "RESERVATION", reason,
			func(inv *domain.Inventory, qty int) { inv.ReleaseReserved(qty) })
		if err != nil {
			return domain.Reservation{}, err
		}

		now := s.now()
		res.Status = domain.ReservationReleased
		res.ReleasedAt = &now
		res.ReleaseReason = reason
		res.UpdatedAt = now

		err = s.repo.FinalizeReservation(ctx, res, updates, movements)
		switch {
		case err == nil:
			s.log.Info("reservation released", "order_id", orderID, "reason", reason)
			return res, nil
		case errors.Is(err, ErrVersionConflict):
			continue
		case errors.Is(err, apperrors.ErrConflict):
			// Someone else finalized it first; fetch their result.
			return s.repo.GetReservation(ctx, orderID)
		default:
			return domain.Reservation{}, err
		}
	}

	return domain.Reservation{}, fmt.Errorf("%w: release for order %s lost %d version races",
		apperrors.ErrTransient, orderID, casRetries)
}

func (s *Service) applyToItems(ctx context.Context, res domain.Reservation, mt domain.MovementType, refType, notes string,
	mutate func(*domain.Inventory, int)) ([]domain.Inventory, []domain.Movement, error) {

	updates := make([]domain.Inventory, 0, len(res.Items))
	movements := make([]domain.Movement, 0, len(res.Items))
	for _, item := range res.Items {
		inv, err := s.repo.GetInventory(ctx, item.ProductID)
		if err != nil {
			return nil, nil, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		mutate(&inv, item.Quantity)
		updates = append(updates, inv)
		movements = append(movements, domain.Movement{
			ProductID:     item.ProductID,
			Type:          mt,
			Quantity:      item.Quantity,
			ReferenceID:   &res.ID,
			ReferenceType: refType,
			Notes:         notes,
		})
	}
	return updates, movements, nil
}

func (s *Service) GetReservation(ctx context.Context, orderID uuid.UUID) (domain.Reservation, error) {
	return s.repo.GetReservation(ctx, orderID)
}

// SweepExpired releases reservations whose expiry has passed while still
// PENDING. Runs periodically; shares no state with the request path.
func (s *Service) SweepExpired(ctx context.Context) int {
	expired, err := s.repo.ListExpiredPending(ctx, s.now(), 100)
	if err != nil {
		s.log.Error("expiry sweep list failed", "err", err)
		return 0
	}

	released := 0
	for _, res := range expired {
		if _, err := s.Release(ctx, res.OrderID, "reservation expired"); err != nil {
			s.log.Error("expiry release failed", "order_id", res.OrderID, "err", err)
			continue
		}
		released++
	}
	if released > 0 {
		s.log.Info("expired reservations released", "count", released)
	}
	return released
}

func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepExpired(ctx)
		}
	}
}
