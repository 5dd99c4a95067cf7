package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func stock(total, reserved int) Inventory {
	return Inventory{ProductID: uuid.New(), TotalQuantity: total, ReservedQuantity: reserved}
}

func TestReserveAndReleaseRoundTrip(t *testing.T) {
	inv := stock(10, 0)

	inv.Reserve(4)
	assert.Equal(t, 6, inv.Available())
	assert.Equal(t, 4, inv.ReservedQuantity)

	inv.ReleaseReserved(4)
	assert.Equal(t, 10, inv.Available())
	assert.Equal(t, 0, inv.ReservedQuantity)
	assert.Equal(t, 10, inv.TotalQuantity, "release must not touch total")
}

func TestCommitSaleRemovesStock(t *testing.T) {
	inv := stock(10, 4)
	inv.CommitSale(4)
	assert.Equal(t, 6, inv.TotalQuantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
	assert.Equal(t, 6, inv.Available())
}

func TestInvariantPanicsOnCorruption(t *testing.T) {
	assert.Panics(t, func() {
		inv := stock(5, 0)
		inv.Reserve(6)
	})
	assert.Panics(t, func() {
		inv := stock(5, 2)
		inv.ReleaseReserved(3)
	})
	assert.Panics(t, func() {
		inv := stock(5, 5)
		inv.RemoveStock(1)
	})
}

func TestLowStock(t *testing.T) {
	inv := stock(10, 0)
	inv.MinStockLevel = 3

	assert.False(t, inv.LowStock())
	inv.Reserve(7)
	assert.True(t, inv.LowStock())
}

func TestReservationExpiry(t *testing.T) {
	now := time.Now()
	res := NewReservation(uuid.New(), []ReservationItem{{ProductID: uuid.New(), Quantity: 1}}, now)

	assert.Equal(t, ReservationPending, res.Status)
	assert.False(t, res.Expired(now.Add(DefaultExpiry-time.Second)))
	assert.True(t, res.Expired(now.Add(DefaultExpiry+time.Second)))
}
