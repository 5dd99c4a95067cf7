package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ChargeRequest struct {
	PaymentID uuid.UUID
	OrderID   uuid.UUID
	Amount    decimal.Decimal
	Currency  string
}

// ChargeResult is the bank's answer to an attempt that reached it. A decline
// is a result with Approved=false, not an error; errors mean the bank could
// not be reached and the attempt may be retried.
type ChargeResult struct {
	Approved      bool
	TransactionID string
	DeclineReason string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, transactionRef string, amount decimal.Decimal) error
}

// SimulatedBank stands in for a real acquirer. Rates are probabilities in
// [0,1]; the remainder of the distribution approves.
type SimulatedBank struct {
	DeclineRate   float64
	TransientRate float64
}

var declineReasons = []string{"INSUFFICIENT_FUNDS", "CARD_DECLINED", "CARD_EXPIRED"}

func (b *SimulatedBank) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, err
	}

	roll := rand.Float64()
	if roll < b.TransientRate {
		return ChargeResult{}, fmt.Errorf("bank connection reset")
	}
	if roll < b.TransientRate+b.DeclineRate {
		return ChargeResult{
			Approved:      false,
			DeclineReason: declineReasons[rand.IntN(len(declineReasons))],
		}, nil
	}
	return ChargeResult{
		Approved:      true,
		TransactionID: fmt.Sprintf("TXN-%s", uuid.NewString()),
	}, nil
}

func (b *SimulatedBank) Refund(ctx context.Context, transactionRef string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rand.Float64() < b.TransientRate {
		return fmt.Errorf("bank connection reset")
	}
	return nil
}
