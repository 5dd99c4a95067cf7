package application

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/orderflow/internal/order/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

// mockRepo is an in-memory Repository that enforces the same status
// predicate ApplyTransition enforces in SQL.
type mockRepo struct {
	orders      map[uuid.UUID]domain.Order
	sagas       map[uuid.UUID]domain.SagaState
	transitions []Transition
	events      []Message
	saveOnly    []Message
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		orders: make(map[uuid.UUID]domain.Order),
		sagas:  make(map[uuid.UUID]domain.SagaState),
	}
}

func (m *mockRepo) GetOrder(_ context.Context, id uuid.UUID) (domain.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: order", apperrors.ErrNotFound)
	}
	return o, nil
}

func (m *mockRepo) GetOrderByNumber(_ context.Context, number string) (domain.Order, error) {
	for _, o := range m.orders {
		if o.OrderNumber == number {
			return o, nil
		}
	}
	return domain.Order{}, fmt.Errorf("%w: order", apperrors.ErrNotFound)
}

func (m *mockRepo) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockRepo) ListOrders(_ context.Context, limit, offset int) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range m.orders {
		out = append(out, o)
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) History(_ context.Context, _ uuid.UUID) ([]domain.StatusHistory, error) {
	return nil, nil
}

func (m *mockRepo) GetSaga(_ context.Context, orderID uuid.UUID) (domain.SagaState, error) {
	s, ok := m.sagas[orderID]
	if !ok {
		return domain.SagaState{}, fmt.Errorf("%w: saga", apperrors.ErrNotFound)
	}
	return s, nil
}

func (m *mockRepo) CreateOrder(_ context.Context, o domain.Order, saga domain.SagaState, events []Message) error {
	m.orders[o.ID] = o
	m.sagas[o.ID] = saga
	m.events = append(m.events, events...)
	return nil
}

func (m *mockRepo) ApplyTransition(_ context.Context, t Transition) error {
	o, ok := m.orders[t.OrderID]
	if !ok {
		return fmt.Errorf("%w: order", apperrors.ErrNotFound)
	}
	if o.Status != t.Expect {
		return fmt.Errorf("%w: order no longer %s", apperrors.ErrConflict, t.Expect)
	}
	o.Status = t.Status
	o.FailureReason = t.FailureReason
	o.CancellationReason = t.CancellationReason
	o.CancelledBy = t.CancelledBy
	m.orders[t.OrderID] = o
	m.sagas[t.OrderID] = t.Saga
	m.transitions = append(m.transitions, t)
	m.events = append(m.events, t.Events...)
	return nil
}

func (m *mockRepo) SaveEvents(_ context.Context, _ uuid.UUID, events []Message) error {
	m.saveOnly = append(m.saveOnly, events...)
	m.events = append(m.events, events...)
	return nil
}

func (m *mockRepo) eventTypes() []string {
	var out []string
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestService(repo *mockRepo) *Service {
	return NewService(slog.New(slog.DiscardHandler), repo)
}

func createTestOrder(t *testing.T, svc *Service) domain.Order {
	t.Helper()
	o, err := svc.CreateOrder(context.Background(), uuid.New(), "a@b.com", "", []domain.OrderItem{{
		ProductID:   uuid.New(),
		ProductName: "widget",
		ProductSKU:  "WID-1",
		Quantity:    2,
		UnitPrice:   decimal.RequireFromString("100.00"),
	}})
	require.NoError(t, err)
	return o
}

func TestCreateOrderStartsSaga(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	o := createTestOrder(t, svc)

	assert.Equal(t, domain.StatusPending, repo.orders[o.ID].Status)
	assert.Equal(t, domain.SagaInventoryPending, repo.sagas[o.ID].Status)
	assert.Equal(t, []string{domain.TopicInventoryReserve, domain.TopicOrderCreated}, repo.eventTypes())
}

func TestHandleInventoryReservedSuccess(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)

	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, true, ""))

	assert.Equal(t, domain.StatusInventoryReserved, repo.orders[o.ID].Status)
	assert.Equal(t, domain.SagaPaymentPending, repo.sagas[o.ID].Status)

	last := repo.events[len(repo.events)-1]
	require.Equal(t, domain.TopicPaymentRequest, last.Type)
	req := last.Payload.(domain.PaymentRequestEvent)
	assert.Equal(t, o.ID, req.OrderID)
	assert.True(t, req.Amount.Equal(o.TotalAmount))
}

func TestHandleInventoryReservedFailure(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)
	before := len(repo.events)

	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, false, "insufficient stock"))

	assert.Equal(t, domain.StatusFailed, repo.orders[o.ID].Status)
	assert.Equal(t, "insufficient stock", repo.orders[o.ID].FailureReason)
	assert.Equal(t, domain.SagaFailed, repo.sagas[o.ID].Status)
	assert.Len(t, repo.events, before, "failure before payment compensates nothing")
}

func TestHandleInventoryReservedRedelivered(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)

	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, true, ""))
	transitions := len(repo.transitions)
	events := len(repo.events)

	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, true, ""))
	assert.Len(t, repo.transitions, transitions, "redelivery must not transition again")
	assert.Len(t, repo.events, events, "redelivery must not enqueue a second payment request")
}

func TestHandleInventoryReservedAfterOrderDied(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)

	_, err := svc.CancelOrder(context.Background(), o.ID, "changed my mind", "customer")
	require.NoError(t, err)

	// The reservation won the race anyway; the stock must be let go.
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, true, ""))
	require.Len(t, repo.saveOnly, 1)
	assert.Equal(t, domain.TopicInventoryRelease, repo.saveOnly[0].Type)
}

func TestHandlePaymentCompletedSuccess(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, true, ""))

	require.NoError(t, svc.HandlePaymentCompleted(context.Background(), o.ID, true, ""))

	assert.Equal(t, domain.StatusCompleted, repo.orders[o.ID].Status)
	assert.Equal(t, domain.SagaCompleted, repo.sagas[o.ID].Status)
	require.NotNil(t, repo.sagas[o.ID].CompletedAt)
	assert.Equal(t, domain.TopicOrderCompleted, repo.events[len(repo.events)-1].Type)

	// Redelivery after completion is absorbed.
	transitions := len(repo.transitions)
	require.NoError(t, svc.HandlePaymentCompleted(context.Background(), o.ID, true, ""))
	assert.Len(t, repo.transitions, transitions)
}

func TestHandlePaymentCompletedFailureCompensates(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, true, ""))

	require.NoError(t, svc.HandlePaymentCompleted(context.Background(), o.ID, false, "MAX_RETRY_EXCEEDED"))

	assert.Equal(t, domain.StatusFailed, repo.orders[o.ID].Status)
	assert.Equal(t, "MAX_RETRY_EXCEEDED", repo.orders[o.ID].FailureReason)
	assert.Equal(t, domain.SagaFailed, repo.sagas[o.ID].Status)
	assert.Equal(t, domain.TopicInventoryRelease, repo.events[len(repo.events)-1].Type)
}

func TestCancelOrderPending(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)
	before := len(repo.events)

	cancelled, err := svc.CancelOrder(context.Background(), o.ID, "changed my mind", "customer")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, domain.SagaFailed, repo.sagas[o.ID].Status)
	added := repo.events[before:]
	require.Len(t, added, 1, "nothing reserved or charged yet, only the notification goes out")
	assert.Equal(t, domain.TopicOrderCancelled, added[0].Type)
}

func TestCancelOrderAfterReservation(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, true, ""))
	before := len(repo.events)

	_, err := svc.CancelOrder(context.Background(), o.ID, "out of patience", "customer")
	require.NoError(t, err)

	added := repo.events[before:]
	require.Len(t, added, 2)
	assert.Equal(t, domain.TopicInventoryRelease, added[0].Type)
	assert.Equal(t, domain.TopicOrderCancelled, added[1].Type)
}

func TestCancelOrderAfterPaymentRefunds(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, true, ""))

	// Force the intermediate status a crash between the payment and
	// completion writes leaves behind.
	stored := repo.orders[o.ID]
	stored.Status = domain.StatusPaymentCompleted
	repo.orders[o.ID] = stored
	saga := repo.sagas[o.ID]
	saga.Status = domain.SagaPaymentCompleted
	repo.sagas[o.ID] = saga
	before := len(repo.events)

	_, err := svc.CancelOrder(context.Background(), o.ID, "support cancellation", "support")
	require.NoError(t, err)

	added := repo.events[before:]
	require.Len(t, added, 3)
	assert.Equal(t, domain.TopicPaymentRefund, added[0].Type)
	assert.Equal(t, domain.TopicInventoryRelease, added[1].Type)
	assert.Equal(t, domain.TopicOrderCancelled, added[2].Type)
	assert.Equal(t, domain.StatusCancelled, repo.orders[o.ID].Status)
}

func TestCancelOrderTerminalConflicts(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	o := createTestOrder(t, svc)
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), o.ID, true, ""))
	require.NoError(t, svc.HandlePaymentCompleted(context.Background(), o.ID, true, ""))

	_, err := svc.CancelOrder(context.Background(), o.ID, "too late", "customer")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}
