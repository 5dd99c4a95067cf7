package domain

import (
	"time"

	"github.com/google/uuid"
)

type MovementType string

const (
	MovementStockIn           MovementType = "STOCK_IN"
	MovementStockOut          MovementType = "STOCK_OUT"
	MovementReservation       MovementType = "RESERVATION"
	MovementReservationCancel MovementType = "RESERVATION_CANCEL"
	MovementSale              MovementType = "SALE"
	MovementAdjustment        MovementType = "ADJUSTMENT"
)

// Movement is the append-only audit record of a stock delta. Never mutated
// or deleted.
type Movement struct {
	ID            int64
	ProductID     uuid.UUID
	Type          MovementType
	Quantity      int
	ReferenceID   *uuid.UUID
	ReferenceType string
	Notes         string
	CreatedAt     time.Time
}
