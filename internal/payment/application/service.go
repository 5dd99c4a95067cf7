package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderflow/orderflow/internal/payment/domain"
	"github.com/orderflow/orderflow/internal/payment/gateway"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

const (
	maxRetries = 5
	retryDelay = 5 * time.Minute

	retryBatchSize = 50
	sweepInterval  = 30 * time.Second
)

type Service struct {
	log  *slog.Logger
	repo Repository
	gw   gateway.Gateway
	now  func() time.Time
}

func NewService(log *slog.Logger, repo Repository, gw gateway.Gateway) *Service {
	return &Service{log: log, repo: repo, gw: gw, now: time.Now}
}

// ProcessPayment charges the order total. Redelivered requests find the
// existing payment row and leave it untouched. A decline settles the payment
// immediately; only failures to reach the bank put it in the retry queue.
func (s *Service) ProcessPayment(ctx context.Context, orderID, customerID uuid.UUID, amount decimal.Decimal, currency string) error {
	existing, err := s.repo.GetByOrder(ctx, orderID)
	switch {
	case err == nil:
		s.log.Info("payment request redelivered", "order_id", orderID, "status", existing.Status)
		return nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return err
	}

	now := s.now()
	p := domain.Payment{
		ID:         uuid.New(),
		OrderID:    orderID,
		CustomerID: customerID,
		Amount:     amount,
		Currency:   currency,
		Method:     domain.MethodCreditCard,
		Status:     domain.StatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Lost a race with a concurrent delivery of the same request.
			return nil
		}
		return err
	}

	return s.attempt(ctx, p)
}

// attempt makes one gateway call and settles the payment accordingly. It
// assumes p is PROCESSING.
func (s *Service) attempt(ctx context.Context, p domain.Payment) error {
	res, err := s.gw.Charge(ctx, gateway.ChargeRequest{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
	})
	now := s.now()
	p.UpdatedAt = now

	if err != nil {
		p.Status = domain.StatusPending
		p.RetryCount++
		next := now.Add(retryDelay)
		p.NextRetryAt = &next
		p.FailureMessage = err.Error()
		s.log.Warn("charge attempt failed, queued for retry",
			"order_id", p.OrderID, "retry_count", p.RetryCount, "err", err)
		return s.repo.SaveWithOutcome(ctx, p, nil)
	}

	if !res.Approved {
		p.Status = domain.StatusFailed
		p.FailureReason = res.DeclineReason
		p.ProcessedAt = &now
		p.NextRetryAt = nil
		s.log.Info("payment declined", "order_id", p.OrderID, "reason", res.DeclineReason)
		return s.repo.SaveWithOutcome(ctx, p, s.outcome(p, false))
	}

	p.Status = domain.StatusCompleted
	p.TransactionRef = res.TransactionID
	p.ProcessedAt = &now
	p.NextRetryAt = nil
	p.FailureReason = ""
	p.FailureMessage = ""
	s.log.Info("payment completed", "order_id", p.OrderID, "transaction", res.TransactionID)
	return s.repo.SaveWithOutcome(ctx, p, s.outcome(p, true))
}

// RetryDuePayments re-attempts every PENDING payment whose retry time has
// come. A payment that has burned its whole retry budget fails with exactly
// one outcome event.
func (s *Service) RetryDuePayments(ctx context.Context, now time.Time) error {
	due, err := s.repo.ListDueRetries(ctx, now, retryBatchSize)
	if err != nil {
		return err
	}
	for _, p := range due {
		// Claim the row before touching the bank. An overlapping sweep that
		// selected the same payment loses the claim and must not re-charge.
		claimed, err := s.repo.ClaimRetry(ctx, p.ID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		p.Status = domain.StatusProcessing

		if p.RetryCount >= maxRetries {
			p.Status = domain.StatusFailed
			p.FailureReason = domain.ReasonMaxRetry
			p.NextRetryAt = nil
			p.UpdatedAt = now
			s.log.Warn("payment failed after exhausting retries", "order_id", p.OrderID)
			if err := s.repo.SaveWithOutcome(ctx, p, s.outcome(p, false)); err != nil {
				return err
			}
			continue
		}

		if err := s.attempt(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Refund compensates a cancelled order. Anything but a COMPLETED payment is
// a no-op so redeliveries and cancel-before-charge races stay harmless.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID, reason string) error {
	p, err := s.repo.GetByOrder(ctx, orderID)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.log.Info("refund requested for unknown payment", "order_id", orderID)
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status != domain.StatusCompleted {
		s.log.Info("refund skipped", "order_id", orderID, "status", p.Status)
		return nil
	}

	if err := s.gw.Refund(ctx, p.TransactionRef, p.Amount); err != nil {
		return err
	}

	p.Status = domain.StatusRefunded
	p.FailureMessage = reason
	p.UpdatedAt = s.now()
	s.log.Info("payment refunded", "order_id", orderID, "transaction", p.TransactionRef)
	return s.repo.SaveWithOutcome(ctx, p, nil)
}

func (s *Service) GetByOrder(ctx context.Context, orderID uuid.UUID) (domain.Payment, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Payment, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *Service) outcome(p domain.Payment, success bool) *domain.PaymentCompletedEvent {
	return &domain.PaymentCompletedEvent{
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		TransactionID: p.TransactionRef,
		Success:       success,
		FailureReason: p.FailureReason,
		Timestamp:     s.now(),
	}
}

// RunRetrySweeper drives RetryDuePayments on a fixed tick until ctx ends.
func (s *Service) RunRetrySweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RetryDuePayments(ctx, s.now()); err != nil {
				s.log.Error("retry sweep failed", "err", err)
			}
		}
	}
}
