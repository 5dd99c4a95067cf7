package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/internal/inventory/domain"
)

// ErrVersionConflict signals a lost optimistic-locking race on an inventory
// row. The service retries the whole read-compute-write cycle; it is never
// surfaced to callers.
var ErrVersionConflict = errors.New("inventory version conflict")

// Repository persists stock, reservations and movements. Multi-row methods
// are atomic: either every write lands or none does, and each inventory row
// is written under a version check against the value it was read at.
type Repository interface {
	GetInventory(ctx context.Context, productID uuid.UUID) (domain.Inventory, error)
	GetInventoryBySKU(ctx context.Context, sku string) (domain.Inventory, error)
	ListActive(ctx context.Context) ([]domain.Inventory, error)
	ListLowStock(ctx context.Context) ([]domain.Inventory, error)
	CreateInventory(ctx context.Context, inv domain.Inventory, movement *domain.Movement) error
	UpdateInventory(ctx context.Context, inv domain.Inventory, movement domain.Movement) error

	GetReservation(ctx context.Context, orderID uuid.UUID) (domain.Reservation, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
	ApplyReservation(ctx context.Context, res domain.Reservation, updates []domain.Inventory, movements []domain.Movement, outcome domain.InventoryReservedEvent) error
	FinalizeReservation(ctx context.Context, res domain.Reservation, updates []domain.Inventory, movements []domain.Movement) error
	SaveReservationOutcome(ctx context.Context, orderID uuid.UUID, outcome domain.InventoryReservedEvent) error

	MovementsByProduct(ctx context.Context, productID uuid.UUID) ([]domain.Movement, error)
}
