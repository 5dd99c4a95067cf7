package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

const DefaultExpiry = 15 * time.Minute

// Reservation provisionally holds stock for one order. PENDING either
// confirms (payment succeeded, stock is sold) or releases (cancellation,
// failure, or expiry sweep).
type Reservation struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	Status        ReservationStatus
	ExpiresAt     time.Time
	ConfirmedAt   *time.Time
	ReleasedAt    *time.Time
	ReleaseReason string
	Items         []ReservationItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ReservationItem struct {
	ProductID uuid.UUID
	Quantity  int
}

func NewReservation(orderID uuid.UUID, items []ReservationItem, now time.Time) Reservation {
	return Reservation{
		ID:        uuid.New(),
		OrderID:   orderID,
		Status:    ReservationPending,
		ExpiresAt: now.Add(DefaultExpiry),
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Reservation) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}
