package domain

import (
	"time"

	"github.com/google/uuid"
)

// TopicInventoryReserved carries reservation outcomes back to the
// orchestrator.
const TopicInventoryReserved = "inventory-reserved"

// InventoryReservedEvent is the reply to a reserve request. Success and
// failure share one shape; failures are business outcomes, not errors.
type InventoryReservedEvent struct {
	OrderID       uuid.UUID  `json:"orderId"`
	ReservationID *uuid.UUID `json:"reservationId,omitempty"`
	Success       bool       `json:"success"`
	FailureReason string     `json:"failureReason,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}
