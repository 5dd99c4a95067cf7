package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/internal/order/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

// Service is the saga orchestrator. Each handler loads the persisted saga,
// runs the event through the transition table and commits the order status,
// saga row, history and follow-up events in one transaction. Redelivered
// outcome events are absorbed by the table and change nothing.
type Service struct {
	log  *slog.Logger
	repo Repository
	now  func() time.Time
}

func NewService(log *slog.Logger, repo Repository) *Service {
	return &Service{log: log, repo: repo, now: time.Now}
}

// CreateOrder persists the order, starts the saga and queues the reservation
// request. No synchronous call leaves this method; collaborators hear about
// the order through the outbox.
func (s *Service) CreateOrder(ctx context.Context, customerID uuid.UUID, email, phone string, items []domain.OrderItem) (domain.Order, error) {
	o, err := domain.NewOrder(customerID, email, phone, items)
	if err != nil {
		return domain.Order{}, err
	}

	saga := domain.NewSagaState(o.ID)
	next, _, err := domain.Transition(saga.Status, domain.EventReserveRequested)
	if err != nil {
		return domain.Order{}, err
	}
	saga.Status = next
	saga.CurrentStep = "RESERVE_INVENTORY"
	saga.UpdatedAt = s.now()

	events := []Message{
		{Type: domain.TopicInventoryReserve, Payload: s.reserveRequest(o)},
		{Type: domain.TopicOrderCreated, Payload: s.notification(o, "")},
	}
	if err := s.repo.CreateOrder(ctx, o, saga, events); err != nil {
		return domain.Order{}, err
	}

	s.log.Info("order created", "order_id", o.ID, "order_number", o.OrderNumber, "total", o.TotalAmount)
	return o, nil
}

// HandleInventoryReserved advances the saga past the reservation step. On
// success the payment request is queued in the same transaction; on failure
// the order fails with nothing to compensate.
func (s *Service) HandleInventoryReserved(ctx context.Context, orderID uuid.UUID, success bool, reason string) error {
	saga, err := s.repo.GetSaga(ctx, orderID)
	if err != nil {
		return err
	}

	if !success {
		next, applied, err := domain.Transition(saga.Status, domain.EventInventoryFailed)
		if err != nil {
			return s.absorbConflict(orderID, domain.EventInventoryFailed, err)
		}
		if !applied {
			return nil
		}
		return s.repo.ApplyTransition(ctx, Transition{
			OrderID:       orderID,
			Expect:        domain.StatusPending,
			Status:        domain.StatusFailed,
			FailureReason: reason,
			Saga:          s.sagaAt(saga, next, "INVENTORY_FAILED"),
			History:       []HistoryEntry{{From: ptr(domain.StatusPending), To: domain.StatusFailed, Reason: reason}},
		})
	}

	next, applied, err := domain.Transition(saga.Status, domain.EventInventoryReserved)
	if err != nil {
		// Stock was held for an order that already died; let it go.
		if errors.Is(err, apperrors.ErrConflict) && saga.Status.Terminal() {
			s.log.Warn("reservation succeeded for dead order, releasing", "order_id", orderID, "saga_status", saga.Status)
			return s.repo.SaveEvents(ctx, orderID, []Message{
				{Type: domain.TopicInventoryRelease, Payload: domain.InventoryReleaseRequestEvent{OrderID: orderID, Reason: "order no longer active"}},
			})
		}
		return err
	}
	if !applied {
		s.log.Info("inventory reserved event redelivered", "order_id", orderID)
		return nil
	}

	// Chain straight into the payment step.
	next, _, err = domain.Transition(next, domain.EventPaymentRequested)
	if err != nil {
		return err
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	return s.repo.ApplyTransition(ctx, Transition{
		OrderID: orderID,
		Expect:  domain.StatusPending,
		Status:  domain.StatusInventoryReserved,
		Saga:    s.sagaAt(saga, next, "PROCESS_PAYMENT"),
		History: []HistoryEntry{{From: ptr(domain.StatusPending), To: domain.StatusInventoryReserved, Reason: "inventory reserved"}},
		Events: []Message{
			{Type: domain.TopicPaymentRequest, Payload: domain.PaymentRequestEvent{
				OrderID:    o.ID,
				CustomerID: o.CustomerID,
				Amount:     o.TotalAmount,
				Currency:   o.Currency,
			}},
		},
	})
}

// HandlePaymentCompleted finishes the saga. Payment success completes the
// order; payment failure releases the held stock and fails it.
func (s *Service) HandlePaymentCompleted(ctx context.Context, orderID uuid.UUID, success bool, reason string) error {
	saga, err := s.repo.GetSaga(ctx, orderID)
	if err != nil {
		return err
	}

	if !success {
		next, applied, err := domain.Transition(saga.Status, domain.EventPaymentFailed)
		if err != nil {
			return s.absorbConflict(orderID, domain.EventPaymentFailed, err)
		}
		if !applied {
			return nil
		}
		// Compensation is fire-and-forget: the release request rides the
		// outbox and the saga settles without waiting for an ack.
		next, _, err = domain.Transition(next, domain.EventCompensated)
		if err != nil {
			return err
		}
		return s.repo.ApplyTransition(ctx, Transition{
			OrderID:       orderID,
			Expect:        domain.StatusInventoryReserved,
			Status:        domain.StatusFailed,
			FailureReason: reason,
			Saga:          s.sagaCompleted(saga, next, "PAYMENT_FAILED"),
			History:       []HistoryEntry{{From: ptr(domain.StatusInventoryReserved), To: domain.StatusFailed, Reason: reason}},
			Events: []Message{
				{Type: domain.TopicInventoryRelease, Payload: domain.InventoryReleaseRequestEvent{OrderID: orderID, Reason: "payment failed"}},
			},
		})
	}

	next, applied, err := domain.Transition(saga.Status, domain.EventPaymentCompleted)
	if err != nil {
		return s.absorbConflict(orderID, domain.EventPaymentCompleted, err)
	}
	if applied {
		err := s.repo.ApplyTransition(ctx, Transition{
			OrderID: orderID,
			Expect:  domain.StatusInventoryReserved,
			Status:  domain.StatusPaymentCompleted,
			Saga:    s.sagaAt(saga, next, "COMPLETE_ORDER"),
			History: []HistoryEntry{{From: ptr(domain.StatusInventoryReserved), To: domain.StatusPaymentCompleted, Reason: "payment completed"}},
		})
		if err != nil {
			return err
		}
		saga.Status = next
	}
	if saga.Status != domain.SagaPaymentCompleted {
		s.log.Info("payment completed event redelivered", "order_id", orderID)
		return nil
	}

	// Separate step so a redelivery after a crash between the two writes
	// still drives the order to COMPLETED.
	final, _, err := domain.Transition(saga.Status, domain.EventOrderCompleted)
	if err != nil {
		return err
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	return s.repo.ApplyTransition(ctx, Transition{
		OrderID: orderID,
		Expect:  domain.StatusPaymentCompleted,
		Status:  domain.StatusCompleted,
		Saga:    s.sagaCompleted(saga, final, "COMPLETED"),
		History: []HistoryEntry{{From: ptr(domain.StatusPaymentCompleted), To: domain.StatusCompleted, Reason: "order completed"}},
		Events: []Message{
			{Type: domain.TopicOrderCompleted, Payload: s.notification(o, "")},
		},
	})
}

// CancelOrder aborts the workflow from any non-terminal point. Whatever the
// saga already did is compensated through the outbox.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID, reason, cancelledBy string) (domain.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status.Terminal() {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s and cannot be cancelled", apperrors.ErrConflict, o.OrderNumber, o.Status)
	}

	saga, err := s.repo.GetSaga(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	next, _, err := domain.Transition(saga.Status, domain.EventCancelRequested)
	if err != nil {
		return domain.Order{}, err
	}
	if next == domain.SagaCompensating {
		next, _, err = domain.Transition(next, domain.EventCompensated)
		if err != nil {
			return domain.Order{}, err
		}
	}

	var events []Message
	if o.Status == domain.StatusPaymentCompleted {
		events = append(events, Message{Type: domain.TopicPaymentRefund, Payload: domain.PaymentRequestEvent{
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			Amount:     o.TotalAmount,
			Currency:   o.Currency,
		}})
	}
	if o.Status == domain.StatusInventoryReserved || o.Status == domain.StatusPaymentCompleted {
		events = append(events, Message{Type: domain.TopicInventoryRelease, Payload: domain.InventoryReleaseRequestEvent{OrderID: o.ID, Reason: reason}})
	}
	events = append(events, Message{Type: domain.TopicOrderCancelled, Payload: s.notification(o, reason)})

	t := Transition{
		OrderID:            orderID,
		Expect:             o.Status,
		Status:             domain.StatusCancelled,
		CancellationReason: reason,
		CancelledBy:        cancelledBy,
		Saga:               s.sagaCompleted(saga, next, "CANCELLED"),
		History:            []HistoryEntry{{From: ptr(o.Status), To: domain.StatusCancelled, Reason: reason}},
		Events:             events,
	}
	if err := s.repo.ApplyTransition(ctx, t); err != nil {
		return domain.Order{}, err
	}

	s.log.Info("order cancelled", "order_id", orderID, "by", cancelledBy, "reason", reason)
	o.Status = domain.StatusCancelled
	o.CancellationReason = reason
	o.CancelledBy = cancelledBy
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	return s.repo.GetOrderByNumber(ctx, number)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *Service) ListOrders(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListOrders(ctx, limit, offset)
}

func (s *Service) History(ctx context.Context, orderID uuid.UUID) ([]domain.StatusHistory, error) {
	return s.repo.History(ctx, orderID)
}

// absorbConflict downgrades an illegal-transition error for an outcome event
// that can race a cancellation. The saga already settled; the event carries
// no work left to do.
func (s *Service) absorbConflict(orderID uuid.UUID, ev domain.SagaEvent, err error) error {
	if errors.Is(err, apperrors.ErrConflict) {
		s.log.Warn("outcome event ignored, saga already settled", "order_id", orderID, "event", ev)
		return nil
	}
	return err
}

func (s *Service) sagaAt(saga domain.SagaState, status domain.SagaStatus, step string) domain.SagaState {
	saga.Status = status
	saga.CurrentStep = step
	saga.UpdatedAt = s.now()
	return saga
}

func (s *Service) sagaCompleted(saga domain.SagaState, status domain.SagaStatus, step string) domain.SagaState {
	saga = s.sagaAt(saga, status, step)
	done := s.now()
	saga.CompletedAt = &done
	return saga
}

func (s *Service) reserveRequest(o domain.Order) domain.InventoryReserveRequestEvent {
	ev := domain.InventoryReserveRequestEvent{OrderID: o.ID}
	for _, it := range o.Items {
		ev.Items = append(ev.Items, domain.OrderItemEvent{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			ProductSKU:  it.ProductSKU,
			Quantity:    it.Quantity,
		})
	}
	return ev
}

func (s *Service) notification(o domain.Order, reason string) domain.OrderNotificationEvent {
	return domain.OrderNotificationEvent{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerID:    o.CustomerID,
		CustomerEmail: o.CustomerEmail,
		CustomerPhone: o.CustomerPhone,
		TotalAmount:   o.TotalAmount,
		Reason:        reason,
		Timestamp:     s.now(),
	}
}

func ptr(s domain.OrderStatus) *domain.OrderStatus { return &s }
