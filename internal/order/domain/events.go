package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topics published by the orchestrator. Event type and Kafka topic are the
// same string.
const (
	TopicInventoryReserve = "inventory-reserve-request"
	TopicInventoryRelease = "inventory-release-request"
	TopicPaymentRequest   = "payment-request"
	TopicPaymentRefund    = "payment-refund-request"
	TopicOrderCreated     = "order-created"
	TopicOrderCompleted   = "order-completed"
	TopicOrderCancelled   = "order-cancelled"
)

type OrderItemEvent struct {
	ProductID   uuid.UUID `json:"productId"`
	ProductName string    `json:"productName"`
	ProductSKU  string    `json:"sku"`
	Quantity    int       `json:"quantity"`
}

// InventoryReserveRequestEvent asks the reservation engine to hold stock.
type InventoryReserveRequestEvent struct {
	OrderID uuid.UUID        `json:"orderId"`
	Items   []OrderItemEvent `json:"items"`
}

// InventoryReleaseRequestEvent undoes a reservation; fire-and-forget.
type InventoryReleaseRequestEvent struct {
	OrderID uuid.UUID `json:"orderId"`
	Reason  string    `json:"reason"`
}

// PaymentRequestEvent asks the payment processor to charge (or, on the
// refund topic, refund) the order total.
type PaymentRequestEvent struct {
	OrderID    uuid.UUID       `json:"orderId"`
	CustomerID uuid.UUID       `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

// OrderNotificationEvent feeds the notification collaborator on the
// order-created / order-completed / order-cancelled topics.
type OrderNotificationEvent struct {
	OrderID       uuid.UUID       `json:"orderId"`
	OrderNumber   string          `json:"orderNumber"`
	CustomerID    uuid.UUID       `json:"customerId"`
	CustomerEmail string          `json:"customerEmail"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Reason        string          `json:"reason,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}
