package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"payment-service/internal/db"
	"payment-service/internal/event"
	"payment-service/internal/gateway"
)

type PaymentStore interface {
	Create(ctx context.Context, p *db.PaymentEntity) (*db.PaymentEntity, error)
	GetBlockingByBookingID(ctx context.Context, bookingID uuid.UUID) (*db.PaymentEntity, error)
	GetActiveByProviderRef(ctx context.Context, providerRef string) (*db.PaymentEntity, error)
	GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*db.PaymentEntity, error)
	GetStatusItem(ctx context.Context, id, userID uuid.UUID) (*db.PaymentListItem, error)
	List(ctx context.Context, userID uuid.UUID, status *db.PaymentStatus, limit, offset int) ([]*db.PaymentListItem, int, error)
	MarkCompleted(ctx context.Context, providerRef string, completedAt time.Time) (uuid.UUID, bool, error)
	MarkFailed(ctx context.Context, providerRef string) (bool, error)
	MarkRefunded(ctx context.Context, providerRef string, refundedAt time.Time) (uuid.UUID, bool, error)
	GetStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*db.PaymentEntity, error)
}

type BookingStore interface {
	GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*db.BookingEntity, error)
	SetStatus(ctx context.Context, id uuid.UUID, status db.BookingStatus) error
}

type Gateway interface {
	CreateIntent(ctx context.Context, in gateway.CreateIntentInput) (*gateway.Intent, error)
	ConfirmIntent(ctx context.Context, intentID string) (*gateway.Intent, error)
	GetIntent(ctx context.Context, intentID string) (*gateway.Intent, error)
	CreateRefund(ctx context.Context, in gateway.CreateRefundInput) (*gateway.Refund, error)
}

type AccountResolver interface {
	Resolve(ctx context.Context, venueID uuid.UUID) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, e event.PaymentEvent)
}
