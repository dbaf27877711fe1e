package payment

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"payment-service/internal/db"
)

// Projector is the sole writer of payment-driven booking transitions.
// Both transitions are idempotent: writing a status the booking already
// has is a no-op.
type Projector struct {
	bookings BookingStore
	logger   *slog.Logger
}

func NewProjector(bookings BookingStore, logger *slog.Logger) *Projector {
	return &Projector{bookings: bookings, logger: logger}
}

func (p *Projector) OnPaymentCompleted(ctx context.Context, bookingID uuid.UUID) error {
	p.logger.InfoContext(ctx, "Confirming booking after payment completion", "bookingId", bookingID)
	return p.bookings.SetStatus(ctx, bookingID, db.BookingConfirmed)
}

func (p *Projector) OnPaymentRefunded(ctx context.Context, bookingID uuid.UUID) error {
	p.logger.InfoContext(ctx, "Cancelling booking after refund", "bookingId", bookingID)
	return p.bookings.SetStatus(ctx, bookingID, db.BookingCancelled)
}
