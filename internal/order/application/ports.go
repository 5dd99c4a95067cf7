package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/internal/order/domain"
)

// Message is an outbox record queued alongside a state change. Type doubles
// as the Kafka topic.
type Message struct {
	Type    string
	Payload any
}

// HistoryEntry is one hop in the order's audit trail. A handler that moves
// the order through an intermediate status records every hop.
type HistoryEntry struct {
	From   *domain.OrderStatus
	To     domain.OrderStatus
	Reason string
}

// Transition bundles everything one saga step writes: the order status change
// guarded by the expected current status, the new saga row, the audit hops
// and the outbox events. The repository commits it atomically and returns
// ErrConflict when the order status no longer matches Expect.
type Transition struct {
	OrderID            uuid.UUID
	Expect             domain.OrderStatus
	Status             domain.OrderStatus
	FailureReason      string
	CancellationReason string
	CancelledBy        string
	Saga               domain.SagaState
	History            []HistoryEntry
	Events             []Message
}

type Repository interface {
	GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]domain.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]domain.StatusHistory, error)
	GetSaga(ctx context.Context, orderID uuid.UUID) (domain.SagaState, error)

	CreateOrder(ctx context.Context, o domain.Order, saga domain.SagaState, events []Message) error
	ApplyTransition(ctx context.Context, t Transition) error
	SaveEvents(ctx context.Context, orderID uuid.UUID, events []Message) error
}
