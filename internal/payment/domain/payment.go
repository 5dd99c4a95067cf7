package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}

type Method string

const MethodCreditCard Method = "CREDIT_CARD"

// ReasonMaxRetry marks a payment failed because its retry budget ran out.
const ReasonMaxRetry = "MAX_RETRY_EXCEEDED"

// Payment tracks one charge attempt per order. PENDING means a transient
// gateway failure put it in the retry queue; only the retry sweep moves it
// from there.
type Payment struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	CustomerID     uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Method         Method
	Status         Status
	TransactionRef string
	RetryCount     int
	NextRetryAt    *time.Time
	FailureReason  string
	FailureMessage string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
