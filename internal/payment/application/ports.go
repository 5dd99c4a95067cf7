package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/internal/payment/domain"
)

// Repository persists payments. SaveWithOutcome writes the payment row and,
// when outcome is non-nil, the outcome event to the outbox in one
// transaction, so the row and its announcement cannot diverge.
type Repository interface {
	GetByOrder(ctx context.Context, orderID uuid.UUID) (domain.Payment, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Payment, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error)
	// ClaimRetry moves a PENDING payment to PROCESSING. It reports false when
	// the row is no longer PENDING, which means another sweep owns it.
	ClaimRetry(ctx context.Context, id uuid.UUID) (bool, error)
	Create(ctx context.Context, p domain.Payment) error
	SaveWithOutcome(ctx context.Context, p domain.Payment, outcome *domain.PaymentCompletedEvent) error
}
