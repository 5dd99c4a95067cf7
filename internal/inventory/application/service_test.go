package application

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/orderflow/internal/inventory/domain"
	orderdom "github.com/orderflow/orderflow/internal/order/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

// mockRepo keeps everything in memory and can inject version conflicts to
// exercise the retry loops.
type mockRepo struct {
	inventories   map[uuid.UUID]domain.Inventory
	reservations  map[uuid.UUID]domain.Reservation
	movements     []domain.Movement
	outcomes      []domain.InventoryReservedEvent
	conflictsLeft int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		inventories:  make(map[uuid.UUID]domain.Inventory),
		reservations: make(map[uuid.UUID]domain.Reservation),
	}
}

func (m *mockRepo) addStock(total int) uuid.UUID {
	productID := uuid.New()
	m.inventories[productID] = domain.Inventory{
		ID:            uuid.New(),
		ProductID:     productID,
		ProductName:   "widget",
		SKU:           "WID-" + productID.String()[:8],
		TotalQuantity: total,
		Active:        true,
	}
	return productID
}

func (m *mockRepo) GetInventory(_ context.Context, productID uuid.UUID) (domain.Inventory, error) {
	inv, ok := m.inventories[productID]
	if !ok {
		return domain.Inventory{}, fmt.Errorf("%w: inventory", apperrors.ErrNotFound)
	}
	return inv, nil
}

func (m *mockRepo) GetInventoryBySKU(_ context.Context, sku string) (domain.Inventory, error) {
	for _, inv := range m.inventories {
		if inv.SKU == sku {
			return inv, nil
		}
	}
	return domain.Inventory{}, fmt.Errorf("%w: inventory", apperrors.ErrNotFound)
}

func (m *mockRepo) ListActive(_ context.Context) ([]domain.Inventory, error) {
	var out []domain.Inventory
	for _, inv := range m.inventories {
		if inv.Active {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *mockRepo) ListLowStock(_ context.Context) ([]domain.Inventory, error) {
	var out []domain.Inventory
	for _, inv := range m.inventories {
		if inv.Active && inv.LowStock() {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *mockRepo) CreateInventory(_ context.Context, inv domain.Inventory, movement *domain.Movement) error {
	if _, ok := m.inventories[inv.ProductID]; ok {
		return fmt.Errorf("%w: inventory exists", apperrors.ErrConflict)
	}
	m.inventories[inv.ProductID] = inv
	if movement != nil {
		m.movements = append(m.movements, *movement)
	}
	return nil
}

func (m *mockRepo) UpdateInventory(_ context.Context, inv domain.Inventory, movement domain.Movement) error {
	if err := m.cas(inv); err != nil {
		return err
	}
	m.movements = append(m.movements, movement)
	return nil
}

func (m *mockRepo) GetReservation(_ context.Context, orderID uuid.UUID) (domain.Reservation, error) {
	res, ok := m.reservations[orderID]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("%w: reservation", apperrors.ErrNotFound)
	}
	return res, nil
}

func (m *mockRepo) ListExpiredPending(_ context.Context, now time.Time, _ int) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, res := range m.reservations {
		if res.Status == domain.ReservationPending && res.Expired(now) {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *mockRepo) ApplyReservation(_ context.Context, res domain.Reservation, updates []domain.Inventory, movements []domain.Movement, outcome domain.InventoryReservedEvent) error {
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return ErrVersionConflict
	}
	if _, ok := m.reservations[res.OrderID]; ok {
		return fmt.Errorf("%w: reservation exists", apperrors.ErrConflict)
	}
	for _, inv := range updates {
		if err := m.cas(inv); err != nil {
			return err
		}
	}
	m.reservations[res.OrderID] = res
	m.movements = append(m.movements, movements...)
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func (m *mockRepo) FinalizeReservation(_ context.Context, res domain.Reservation, updates []domain.Inventory, movements []domain.Movement) error {
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return ErrVersionConflict
	}
	current, ok := m.reservations[res.OrderID]
	if !ok || current.Status != domain.ReservationPending {
		return fmt.Errorf("%w: reservation no longer pending", apperrors.ErrConflict)
	}
	for _, inv := range updates {
		if err := m.cas(inv); err != nil {
			return err
		}
	}
	m.reservations[res.OrderID] = res
	m.movements = append(m.movements, movements...)
	return nil
}

func (m *mockRepo) SaveReservationOutcome(_ context.Context, _ uuid.UUID, outcome domain.InventoryReservedEvent) error {
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func (m *mockRepo) MovementsByProduct(_ context.Context, productID uuid.UUID) ([]domain.Movement, error) {
	var out []domain.Movement
	for _, mv := range m.movements {
		if mv.ProductID == productID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *mockRepo) cas(inv domain.Inventory) error {
	stored := m.inventories[inv.ProductID]
	if stored.Version != inv.Version {
		return ErrVersionConflict
	}
	inv.Version++
	m.inventories[inv.ProductID] = inv
	return nil
}

func newTestService(repo *mockRepo) *Service {
	return NewService(slog.New(slog.DiscardHandler), repo)
}

func TestReserveHoldsStock(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	orderID := uuid.New()

	res, err := svc.Reserve(context.Background(), orderID, []domain.ReservationItem{{ProductID: productID, Quantity: 4}})
	require.NoError(t, err)

	assert.Equal(t, domain.ReservationPending, res.Status)
	inv := repo.inventories[productID]
	assert.Equal(t, 4, inv.ReservedQuantity)
	assert.Equal(t, 10, inv.TotalQuantity)

	require.Len(t, repo.outcomes, 1)
	assert.True(t, repo.outcomes[0].Success)
	require.Len(t, repo.movements, 1)
	assert.Equal(t, domain.MovementReservation, repo.movements[0].Type)
}

func TestReserveAllOrNothing(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	plenty := repo.addStock(10)
	scarce := repo.addStock(1)

	_, err := svc.Reserve(context.Background(), uuid.New(), []domain.ReservationItem{
		{ProductID: plenty, Quantity: 2},
		{ProductID: scarce, Quantity: 5},
	})
	require.ErrorIs(t, err, apperrors.ErrInsufficientStock)

	assert.Equal(t, 0, repo.inventories[plenty].ReservedQuantity, "shortfall on one line must write nothing")
	assert.Empty(t, repo.movements)
	assert.Empty(t, repo.reservations)
}

func TestReserveRedeliveryReturnsExisting(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	orderID := uuid.New()
	items := []domain.ReservationItem{{ProductID: productID, Quantity: 4}}

	first, err := svc.Reserve(context.Background(), orderID, items)
	require.NoError(t, err)

	second, err := svc.Reserve(context.Background(), orderID, items)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 4, repo.inventories[productID].ReservedQuantity, "second delivery must not double-hold")
	assert.Len(t, repo.outcomes, 1)
}

func TestReserveRetriesVersionConflicts(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	repo.conflictsLeft = casRetries - 1

	_, err := svc.Reserve(context.Background(), uuid.New(), []domain.ReservationItem{{ProductID: productID, Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.inventories[productID].ReservedQuantity)
}

func TestReserveGivesUpAfterRetries(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	repo.conflictsLeft = casRetries

	_, err := svc.Reserve(context.Background(), uuid.New(), []domain.ReservationItem{{ProductID: productID, Quantity: 1}})
	assert.ErrorIs(t, err, apperrors.ErrTransient)
}

func TestConfirmCommitsSale(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	orderID := uuid.New()
	_, err := svc.Reserve(context.Background(), orderID, []domain.ReservationItem{{ProductID: productID, Quantity: 4}})
	require.NoError(t, err)

	res, err := svc.Confirm(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, res.Status)

	inv := repo.inventories[productID]
	assert.Equal(t, 6, inv.TotalQuantity)
	assert.Equal(t, 0, inv.ReservedQuantity)

	// Confirming again is a no-op.
	again, err := svc.Confirm(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, again.Status)
	assert.Equal(t, 6, repo.inventories[productID].TotalQuantity)
}

func TestConfirmAfterReleaseConflicts(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	orderID := uuid.New()
	_, err := svc.Reserve(context.Background(), orderID, []domain.ReservationItem{{ProductID: productID, Quantity: 4}})
	require.NoError(t, err)
	_, err = svc.Release(context.Background(), orderID, "cancelled")
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), orderID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestConfirmExpiredConflicts(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	orderID := uuid.New()
	_, err := svc.Reserve(context.Background(), orderID, []domain.ReservationItem{{ProductID: productID, Quantity: 4}})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC().Add(domain.DefaultExpiry + time.Minute) }
	_, err = svc.Confirm(context.Background(), orderID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestReleaseReturnsStockAndIsIdempotent(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	orderID := uuid.New()
	_, err := svc.Reserve(context.Background(), orderID, []domain.ReservationItem{{ProductID: productID, Quantity: 4}})
	require.NoError(t, err)

	res, err := svc.Release(context.Background(), orderID, "payment failed")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, res.Status)
	assert.Equal(t, 0, repo.inventories[productID].ReservedQuantity)
	assert.Equal(t, 10, repo.inventories[productID].TotalQuantity)

	movementCount := len(repo.movements)
	again, err := svc.Release(context.Background(), orderID, "payment failed")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, again.Status)
	assert.Len(t, repo.movements, movementCount, "double release must not move stock twice")
}

func TestSweepExpiredReleases(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	orderID := uuid.New()
	_, err := svc.Reserve(context.Background(), orderID, []domain.ReservationItem{{ProductID: productID, Quantity: 4}})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC().Add(domain.DefaultExpiry + time.Minute) }
	released := svc.SweepExpired(context.Background())

	assert.Equal(t, 1, released)
	assert.Equal(t, domain.ReservationReleased, repo.reservations[orderID].Status)
	assert.Equal(t, 0, repo.inventories[productID].ReservedQuantity)
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)

	for _, qty := range []int{0, -3} {
		_, err := svc.Reserve(context.Background(), uuid.New(), []domain.ReservationItem{{ProductID: productID, Quantity: qty}})
		require.ErrorIs(t, err, apperrors.ErrValidation)
	}
	_, err := svc.Reserve(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	assert.Equal(t, 0, repo.inventories[productID].ReservedQuantity)
	assert.Empty(t, repo.reservations)
	assert.Empty(t, repo.movements)
}

// A bad quantity off the wire is a rejection event, never a crash or a
// poison message.
func TestHandleReserveRequestInvalidQuantityEmitsFailure(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(10)
	orderID := uuid.New()

	err := svc.HandleReserveRequest(context.Background(), orderdom.InventoryReserveRequestEvent{
		OrderID: orderID,
		Items:   []orderdom.OrderItemEvent{{ProductID: productID, Quantity: -1}},
	})
	require.NoError(t, err)

	require.Len(t, repo.outcomes, 1)
	assert.False(t, repo.outcomes[0].Success)
	assert.Equal(t, orderID, repo.outcomes[0].OrderID)
	assert.Equal(t, 0, repo.inventories[productID].ReservedQuantity)
}

func TestHandleReserveRequestInsufficientStockEmitsFailure(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	productID := repo.addStock(1)
	orderID := uuid.New()

	err := svc.HandleReserveRequest(context.Background(), orderdom.InventoryReserveRequestEvent{
		OrderID: orderID,
		Items:   []orderdom.OrderItemEvent{{ProductID: productID, Quantity: 5}},
	})
	require.NoError(t, err, "a business rejection is an outcome, not a handler error")

	require.Len(t, repo.outcomes, 1)
	assert.False(t, repo.outcomes[0].Success)
	assert.Equal(t, orderID, repo.outcomes[0].OrderID)
	assert.NotEmpty(t, repo.outcomes[0].FailureReason)
}
