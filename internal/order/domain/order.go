package domain

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderflow/orderflow/pkg/apperrors"
)

type OrderStatus string

const (
	StatusPending           OrderStatus = "PENDING"
	StatusInventoryReserved OrderStatus = "INVENTORY_RESERVED"
	StatusPaymentCompleted  OrderStatus = "PAYMENT_COMPLETED"
	StatusCompleted         OrderStatus = "COMPLETED"
	StatusCancelled         OrderStatus = "CANCELLED"
	StatusFailed            OrderStatus = "FAILED"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

var taxRate = decimal.RequireFromString("0.18")

// Order is the aggregate root of the fulfillment workflow. Line items are
// fixed at creation; only the orchestrator mutates status.
type Order struct {
	ID                 uuid.UUID
	OrderNumber        string
	CustomerID         uuid.UUID
	CustomerEmail      string
	CustomerPhone      string
	Status             OrderStatus
	Subtotal           decimal.Decimal
	TaxAmount          decimal.Decimal
	TotalAmount        decimal.Decimal
	Currency           string
	CancellationReason string
	CancelledBy        string
	FailureReason      string
	Items              []OrderItem
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type OrderItem struct {
	ProductID   uuid.UUID
	ProductName string
	ProductSKU  string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

// NewOrder validates the line items and computes subtotal, tax and total.
func NewOrder(customerID uuid.UUID, email, phone string, items []OrderItem) (Order, error) {
	if customerID == uuid.Nil {
		return Order{}, fmt.Errorf("%w: customer id is required", apperrors.ErrValidation)
	}
	if email == "" {
		return Order{}, fmt.Errorf("%w: customer email is required", apperrors.ErrValidation)
	}
	if len(items) == 0 {
		return Order{}, fmt.Errorf("%w: order has no items", apperrors.ErrValidation)
	}

	subtotal := decimal.Zero
	for i := range items {
		it := &items[i]
		if it.ProductID == uuid.Nil {
			return Order{}, fmt.Errorf("%w: item %d has no product id", apperrors.ErrValidation, i)
		}
		if it.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: item %d quantity must be positive", apperrors.ErrValidation, i)
		}
		if it.UnitPrice.IsNegative() || it.UnitPrice.IsZero() {
			return Order{}, fmt.Errorf("%w: item %d unit price must be positive", apperrors.ErrValidation, i)
		}
		it.TotalPrice = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(it.TotalPrice)
	}

	tax := subtotal.Mul(taxRate).Round(2)
	now := time.Now().UTC()
	return Order{
		ID:            uuid.New(),
		OrderNumber:   NewOrderNumber(),
		CustomerID:    customerID,
		CustomerEmail: email,
		CustomerPhone: phone,
		Status:        StatusPending,
		Subtotal:      subtotal,
		TaxAmount:     tax,
		TotalAmount:   subtotal.Add(tax),
		Currency:      "TRY",
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func NewOrderNumber() string {
	return fmt.Sprintf("ORD-%d-%03d", time.Now().UnixMilli(), rand.IntN(1000))
}

// StatusHistory is an append-only record of one status transition.
type StatusHistory struct {
	ID        int64
	OrderID   uuid.UUID
	OldStatus *OrderStatus
	NewStatus OrderStatus
	Reason    string
	CreatedAt time.Time
}
