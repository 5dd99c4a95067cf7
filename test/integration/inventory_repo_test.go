package integration

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/orderflow/internal/inventory/application"
	"github.com/orderflow/orderflow/internal/inventory/domain"
	"github.com/orderflow/orderflow/internal/inventory/infrastructure/postgres"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

func TestInventoryVersionCheck(t *testing.T) {
	pool := SetupPostgres(t)
	ctx := context.Background()
	repo := postgres.NewRepository(slog.New(slog.DiscardHandler), pool)

	productID := uuid.New()
	inv := domain.Inventory{
		ID:            uuid.New(),
		ProductID:     productID,
		ProductName:   "widget",
		SKU:           "WID-1",
		TotalQuantity: 10,
		Active:        true,
	}
	require.NoError(t, repo.CreateInventory(ctx, inv, nil))

	stored, err := repo.GetInventory(ctx, productID)
	require.NoError(t, err)
	require.EqualValues(t, 0, stored.Version)

	stored.Reserve(3)
	movement := domain.Movement{ProductID: productID, Type: domain.MovementReservation, Quantity: 3}
	require.NoError(t, repo.UpdateInventory(ctx, stored, movement))

	// A writer holding the old version must lose.
	stale := stored
	stale.ReleaseReserved(3)
	err = repo.UpdateInventory(ctx, stale, movement)
	assert.ErrorIs(t, err, application.ErrVersionConflict)

	fresh, err := repo.GetInventory(ctx, productID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fresh.Version)
	assert.Equal(t, 3, fresh.ReservedQuantity)
}

func TestReserveThroughService(t *testing.T) {
	pool := SetupPostgres(t)
	ctx := context.Background()
	repo := postgres.NewRepository(slog.New(slog.DiscardHandler), pool)
	svc := application.NewService(slog.New(slog.DiscardHandler), repo)

	productID := uuid.New()
	_, err := svc.CreateInventory(ctx, productID, "widget", "WID-2", 10, 2)
	require.NoError(t, err)

	orderID := uuid.New()
	res, err := svc.Reserve(ctx, orderID, []domain.ReservationItem{{ProductID: productID, Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationPending, res.Status)

	inv, err := svc.GetInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 6, inv.Available())

	// The outcome event landed in the same transaction.
	var pendingEvents int
	err = pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE aggregate_id=$1 AND published=false`, orderID.String()).Scan(&pendingEvents)
	require.NoError(t, err)
	assert.Equal(t, 1, pendingEvents)

	// Redelivered reserve returns the same reservation without double-holding.
	again, err := svc.Reserve(ctx, orderID, []domain.ReservationItem{{ProductID: productID, Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, res.ID, again.ID)

	inv, err = svc.GetInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 6, inv.Available())

	// Release round-trips the stock.
	_, err = svc.Release(ctx, orderID, "cancelled")
	require.NoError(t, err)
	inv, err = svc.GetInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 10, inv.Available())

	_, err = svc.Confirm(ctx, orderID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}
