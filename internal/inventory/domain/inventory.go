package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/pkg/apperrors"
)

// Inventory is the per-product stock counter. Reserved stock stays part of
// totalQuantity until a sale confirms; available = total - reserved.
// Rows are updated under an optimistic version check because reservations
// for the same product arrive concurrently from many orders.
type Inventory struct {
	ID               uuid.UUID
	ProductID        uuid.UUID
	ProductName      string
	SKU              string
	TotalQuantity    int
	ReservedQuantity int
	MinStockLevel    int
	Active           bool
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (i *Inventory) Available() int {
	return i.TotalQuantity - i.ReservedQuantity
}

func (i *Inventory) HasAvailable(quantity int) bool {
	return i.Available() >= quantity
}

func (i *Inventory) LowStock() bool {
	return i.Available() <= i.MinStockLevel
}

// Reserve holds quantity against the available pool. Callers must have
// checked availability; going out of range here is counter corruption.
func (i *Inventory) Reserve(quantity int) {
	i.ReservedQuantity += quantity
	i.check()
}

// ReleaseReserved returns quantity to the available pool.
func (i *Inventory) ReleaseReserved(quantity int) {
	i.ReservedQuantity -= quantity
	i.check()
}

// CommitSale permanently removes reserved stock: the goods are sold.
func (i *Inventory) CommitSale(quantity int) {
	i.TotalQuantity -= quantity
	i.ReservedQuantity -= quantity
	i.check()
}

func (i *Inventory) AddStock(quantity int) {
	i.TotalQuantity += quantity
	i.check()
}

func (i *Inventory) RemoveStock(quantity int) {
	i.TotalQuantity -= quantity
	i.check()
}

func (i *Inventory) check() {
	apperrors.Assert(i.ReservedQuantity >= 0 && i.ReservedQuantity <= i.TotalQuantity,
		"product %s: reserved=%d total=%d", i.ProductID, i.ReservedQuantity, i.TotalQuantity)
}
