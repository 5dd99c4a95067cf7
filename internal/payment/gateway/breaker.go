package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable marks attempts short-circuited by an open breaker. Callers
// treat it like any other transient gateway failure.
var ErrUnavailable = errors.New("bank gateway unavailable")

// Breaker wraps a Gateway with a circuit breaker. Only transport errors count
// as failures; declines come back as results and leave the breaker closed.
type Breaker struct {
	inner Gateway
	cb    *gobreaker.CircuitBreaker[ChargeResult]
}

func WithBreaker(log *slog.Logger, inner Gateway) *Breaker {
	cb := gobreaker.NewCircuitBreaker[ChargeResult](gobreaker.Settings{
		Name:        "bank-gateway",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	res, err := b.cb.Execute(func() (ChargeResult, error) {
		return b.inner.Charge(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ChargeResult{}, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return ChargeResult{}, err
	}
	return res, nil
}

func (b *Breaker) Refund(ctx context.Context, transactionRef string, amount decimal.Decimal) error {
	_, err := b.cb.Execute(func() (ChargeResult, error) {
		return ChargeResult{}, b.inner.Refund(ctx, transactionRef, amount)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	return err
}
