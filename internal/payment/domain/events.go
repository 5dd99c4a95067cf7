package domain

import (
	"time"

	"github.com/google/uuid"
)

// TopicPaymentCompleted carries charge outcomes back to the orchestrator.
// Published once per payment, success or failure; transient retries stay
// silent until they resolve.
const TopicPaymentCompleted = "payment-completed"

type PaymentCompletedEvent struct {
	OrderID       uuid.UUID `json:"orderId"`
	PaymentID     uuid.UUID `json:"paymentId"`
	TransactionID string    `json:"transactionId,omitempty"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failureReason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
