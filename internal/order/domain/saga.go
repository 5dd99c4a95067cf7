package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/pkg/apperrors"
)

type SagaStatus string

const (
	SagaStarted           SagaStatus = "STARTED"
	SagaInventoryPending  SagaStatus = "INVENTORY_PENDING"
	SagaInventoryReserved SagaStatus = "INVENTORY_RESERVED"
	SagaPaymentPending    SagaStatus = "PAYMENT_PENDING"
	SagaPaymentCompleted  SagaStatus = "PAYMENT_COMPLETED"
	SagaCompleted         SagaStatus = "COMPLETED"
	SagaCompensating      SagaStatus = "COMPENSATING"
	SagaFailed            SagaStatus = "FAILED"
)

func (s SagaStatus) Terminal() bool {
	return s == SagaCompleted || s == SagaFailed
}

// SagaEvent is an input to the workflow state machine. Transitions are
// driven only by these; the orchestrator never polls.
type SagaEvent string

const (
	EventReserveRequested  SagaEvent = "RESERVE_REQUESTED"
	EventInventoryReserved SagaEvent = "INVENTORY_RESERVED"
	EventInventoryFailed   SagaEvent = "INVENTORY_FAILED"
	EventPaymentRequested  SagaEvent = "PAYMENT_REQUESTED"
	EventPaymentCompleted  SagaEvent = "PAYMENT_COMPLETED"
	EventPaymentFailed     SagaEvent = "PAYMENT_FAILED"
	EventOrderCompleted    SagaEvent = "ORDER_COMPLETED"
	EventCancelRequested   SagaEvent = "CANCEL_REQUESTED"
	EventCompensated       SagaEvent = "COMPENSATED"
)

// transitions is the full workflow. Anything not listed is rejected;
// ad hoc status mutation is not possible.
var transitions = map[SagaStatus]map[SagaEvent]SagaStatus{
	SagaStarted: {
		EventReserveRequested: SagaInventoryPending,
		EventCancelRequested:  SagaFailed,
	},
	SagaInventoryPending: {
		EventInventoryReserved: SagaInventoryReserved,
		EventInventoryFailed:   SagaFailed,
		EventCancelRequested:   SagaFailed,
	},
	SagaInventoryReserved: {
		EventPaymentRequested: SagaPaymentPending,
		EventCancelRequested:  SagaCompensating,
	},
	SagaPaymentPending: {
		EventPaymentCompleted: SagaPaymentCompleted,
		EventPaymentFailed:    SagaCompensating,
		EventCancelRequested:  SagaCompensating,
	},
	SagaPaymentCompleted: {
		EventOrderCompleted:  SagaCompleted,
		EventCancelRequested: SagaCompensating,
	},
	SagaCompensating: {
		EventCompensated: SagaFailed,
	},
}

// absorbed lists, per event, the states that prove the event was already
// applied. Redelivered outcome events land here and become no-ops.
var absorbed = map[SagaEvent][]SagaStatus{
	EventReserveRequested:  {SagaInventoryPending, SagaInventoryReserved, SagaPaymentPending, SagaPaymentCompleted, SagaCompleted},
	EventInventoryReserved: {SagaInventoryReserved, SagaPaymentPending, SagaPaymentCompleted, SagaCompleted},
	EventPaymentRequested:  {SagaPaymentPending, SagaPaymentCompleted, SagaCompleted},
	EventPaymentCompleted:  {SagaPaymentCompleted, SagaCompleted},
	EventOrderCompleted:    {SagaCompleted},
	EventInventoryFailed:   {SagaCompensating, SagaFailed},
	EventPaymentFailed:     {SagaCompensating, SagaFailed},
	EventCompensated:       {SagaFailed},
}

// Transition computes the next saga status for an event against the current
// persisted status. An event whose effect is already visible returns the
// current status with applied=false; an event with no legal transition is a
// conflict.
func Transition(current SagaStatus, ev SagaEvent) (next SagaStatus, applied bool, err error) {
	if m, ok := transitions[current]; ok {
		if nxt, ok := m[ev]; ok {
			return nxt, true, nil
		}
	}
	for _, s := range absorbed[ev] {
		if s == current {
			return current, false, nil
		}
	}
	return current, false, fmt.Errorf("%w: saga event %s illegal in state %s", apperrors.ErrConflict, ev, current)
}

// SagaState is the persisted workflow bookkeeping, one row per order,
// separate from the order's externally visible status. Never deleted.
type SagaState struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	Status      SagaStatus
	CurrentStep string
	Payload     []byte
	StartedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

func NewSagaState(orderID uuid.UUID) SagaState {
	now := time.Now().UTC()
	return SagaState{
		ID:          uuid.New(),
		OrderID:     orderID,
		Status:      SagaStarted,
		CurrentStep: "ORDER_CREATED",
		StartedAt:   now,
		UpdatedAt:   now,
	}
}
