package db

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

type PaymentEntity struct {
	ID          uuid.UUID
	BookingID   uuid.UUID
	UserID      uuid.UUID
	ProviderRef string
	Amount      float64
	Currency    string
	Status      PaymentStatus
	// ConnectAccount records the connected account the charge was routed
	// to at intent creation, or "" for a platform-collected charge. The
	// refund must target the same account the intent lives on.
	ConnectAccount string
	PaymentMethod  string
	Active         bool
	CreatedAt      time.Time
	CompletedAt    *time.Time
	RefundedAt     *time.Time
}

type BookingEntity struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ActivityID uuid.UUID
	Status     BookingStatus
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PaymentListItem is the enrichment projection returned by the list and
// status queries: payment columns joined with booking and activity.
type PaymentListItem struct {
	PaymentEntity
	BookingStatus BookingStatus
	ActivityTitle string
}
