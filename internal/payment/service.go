package payment

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"payment-service/internal/db"
	"payment-service/internal/event"
	"payment-service/internal/gateway"
)

var allowedCurrencies = map[string]struct{}{
	"gbp": {},
	"usd": {},
	"eur": {},
}

// Service orchestrates the payment lifecycle: intent creation,
// confirmation, status reads and refunds. Webhook-driven transitions
// live in the webhook processor; both share the conditional store
// writes, so the sync and async paths converge regardless of order.
type Service struct {
	payments     PaymentStore
	bookings     BookingStore
	gateway      Gateway
	accounts     AccountResolver
	projector    *Projector
	publisher    EventPublisher
	refundWindow time.Duration
	logger       *slog.Logger
}

func NewService(
	payments PaymentStore,
	bookings BookingStore,
	gw Gateway,
	accounts AccountResolver,
	projector *Projector,
	publisher EventPublisher,
	refundWindow time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		payments:     payments,
		bookings:     bookings,
		gateway:      gw,
		accounts:     accounts,
		projector:    projector,
		publisher:    publisher,
		refundWindow: refundWindow,
		logger:       logger,
	}
}

type CreateIntentInput struct {
	BookingID uuid.UUID
	Amount    float64
	Currency  string
	VenueID   *uuid.UUID
}

type BookingSummary struct {
	ID         uuid.UUID `json:"id"`
	ActivityID uuid.UUID `json:"activityId"`
	Status     string    `json:"status"`
}

type CreateIntentResult struct {
	ClientSecret    string         `json:"clientSecret"`
	PaymentIntentID string         `json:"paymentIntentId"`
	Amount          float64        `json:"amount"`
	Currency        string         `json:"currency"`
	Booking         BookingSummary `json:"booking"`
}

// CreateIntent validates booking eligibility, creates the provider-side
// intent and persists a pending payment row. All domain checks run
// before the gateway call so a rejected request never charges anyone.
func (s *Service) CreateIntent(ctx context.Context, userID uuid.UUID, in CreateIntentInput) (*CreateIntentResult, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToLower(in.Currency)
	if _, ok := allowedCurrencies[currency]; !ok {
		return nil, ErrInvalidCurrency
	}

	booking, err := s.bookings.GetByIDForUser(ctx, in.BookingID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading booking")
	}
	if booking.Status != db.BookingPending {
		return nil, ErrBookingNotPending
	}

	_, err = s.payments.GetBlockingByBookingID(ctx, booking.ID)
	if err == nil {
		return nil, ErrPaymentAlreadyExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "checking existing payment")
	}

	destination := ""
	if in.VenueID != nil {
		destination, err = s.accounts.Resolve(ctx, *in.VenueID)
		if err != nil {
			return nil, errors.Wrap(err, "resolving venue account")
		}
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentInput{
		BookingID:          booking.ID.String(),
		Amount:             in.Amount,
		Currency:           currency,
		DestinationAccount: destination,
	})
	if err != nil {
		return nil, err
	}

	// The provider call and this insert are not atomic: an insert failure
	// leaves an orphaned intent for the reconciler to pick up.
	_, err = s.payments.Create(ctx, &db.PaymentEntity{
		ID:             uuid.New(),
		BookingID:      booking.ID,
		UserID:         userID,
		ProviderRef:    intent.ID,
		Amount:         in.Amount,
		Currency:       currency,
		Status:         db.PaymentPending,
		ConnectAccount: destination,
		PaymentMethod:  "card",
		Active:         true,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Payment row insert failed after intent creation", "intentId", intent.ID, "error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "Created payment intent", "bookingId", booking.ID, "intentId", intent.ID)

	return &CreateIntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          in.Amount,
		Currency:        currency,
		Booking: BookingSummary{
			ID:         booking.ID,
			ActivityID: booking.ActivityID,
			Status:     string(booking.Status),
		},
	}, nil
}

type ConfirmResult struct {
	PaymentIntentID string `json:"paymentIntentId"`
	Status          string `json:"status"`
}

// Confirm drives the synchronous confirmation path. The webhook path is
// authoritative and may already have settled the payment; the
// conditional completed write keeps the two paths idempotent.
func (s *Service) Confirm(ctx context.Context, intentID string) (*ConfirmResult, error) {
	p, err := s.payments.GetActiveByProviderRef(ctx, intentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading payment")
	}

	intent, err := s.gateway.ConfirmIntent(ctx, intentID)
	if err != nil {
		s.logger.WarnContext(ctx, "Intent confirmation failed", "intentId", intentID, "error", err)
		return nil, ErrPaymentConfirmationFailed
	}
	if intent.Status != "succeeded" {
		return nil, ErrPaymentConfirmationFailed
	}

	bookingID, transitioned, err := s.payments.MarkCompleted(ctx, intentID, time.Now())
	if err != nil {
		return nil, err
	}
	if transitioned {
		if err := s.projector.OnPaymentCompleted(ctx, bookingID); err != nil {
			return nil, err
		}
		s.publisher.Publish(ctx, event.PaymentEvent{
			Type:      event.TypePaymentCompleted,
			PaymentID: p.ID,
			BookingID: bookingID,
			Amount:    p.Amount,
			Currency:  p.Currency,
		})
	}

	return &ConfirmResult{PaymentIntentID: intentID, Status: intent.Status}, nil
}

type StatusResult struct {
	ID            uuid.UUID  `json:"id"`
	Status        string     `json:"status"`
	StripeStatus  *string    `json:"stripeStatus"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	BookingStatus string     `json:"bookingStatus"`
	ActivityTitle string     `json:"activityTitle"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt"`
}

// GetStatus returns the local row plus a best-effort live provider
// status. A provider failure degrades stripeStatus to null; it never
// fails the request.
func (s *Service) GetStatus(ctx context.Context, userID, paymentID uuid.UUID) (*StatusResult, error) {
	item, err := s.payments.GetStatusItem(ctx, paymentID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading payment status")
	}

	var stripeStatus *string
	if intent, err := s.gateway.GetIntent(ctx, item.ProviderRef); err == nil {
		stripeStatus = &intent.Status
	} else {
		s.logger.WarnContext(ctx, "Live intent status unavailable", "intentId", item.ProviderRef, "error", err)
	}

	return &StatusResult{
		ID:            item.ID,
		Status:        string(item.Status),
		StripeStatus:  stripeStatus,
		Amount:        item.Amount,
		Currency:      item.Currency,
		BookingStatus: string(item.BookingStatus),
		ActivityTitle: item.ActivityTitle,
		CreatedAt:     item.CreatedAt,
		CompletedAt:   item.CompletedAt,
	}, nil
}

type ListItem struct {
	ID            uuid.UUID  `json:"id"`
	BookingID     uuid.UUID  `json:"bookingId"`
	Status        string     `json:"status"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	BookingStatus string     `json:"bookingStatus"`
	ActivityTitle string     `json:"activityTitle"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt"`
}

type ListResult struct {
	Items      []ListItem `json:"items"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	Total      int        `json:"total"`
	TotalPages int        `json:"totalPages"`
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, status string, page, limit int) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var statusFilter *db.PaymentStatus
	if status != "" {
		st := db.PaymentStatus(status)
		statusFilter = &st
	}

	items, total, err := s.payments.List(ctx, userID, statusFilter, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}

	result := &ListResult{
		Items:      make([]ListItem, 0, len(items)),
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
	for _, item := range items {
		result.Items = append(result.Items, ListItem{
			ID:            item.ID,
			BookingID:     item.BookingID,
			Status:        string(item.Status),
			Amount:        item.Amount,
			Currency:      item.Currency,
			BookingStatus: string(item.BookingStatus),
			ActivityTitle: item.ActivityTitle,
			CreatedAt:     item.CreatedAt,
			CompletedAt:   item.CompletedAt,
		})
	}
	return result, nil
}

type RefundResult struct {
	PaymentID uuid.UUID `json:"paymentId"`
	Status    string    `json:"status"`
	RefundID  string    `json:"refundId"`
}

// Refund issues a full refund for a completed payment inside the refund
// window. The window boundary is inclusive: a request at exactly the
// window's edge is still accepted.
func (s *Service) Refund(ctx context.Context, userID, paymentID uuid.UUID, reason string) (*RefundResult, error) {
	p, err := s.payments.GetByIDForUser(ctx, paymentID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading payment")
	}

	if p.Status != db.PaymentCompleted || p.CompletedAt == nil {
		return nil, ErrPaymentNotRefundable
	}
	if time.Since(*p.CompletedAt) > s.refundWindow {
		return nil, ErrRefundWindowExpired
	}

	// The refund must be issued against the same account the intent was
	// created on, which the payment row recorded at creation time. A
	// venue lookup here could name an account the intent never lived on.
	refund, err := s.gateway.CreateRefund(ctx, gateway.CreateRefundInput{
		IntentID:       p.ProviderRef,
		Reason:         reason,
		ConnectAccount: p.ConnectAccount,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Refund failed at gateway", "paymentId", p.ID, "error", err)
		return nil, ErrStripeRefund
	}

	bookingID, transitioned, err := s.payments.MarkRefunded(ctx, p.ProviderRef, time.Now())
	if err != nil {
		return nil, err
	}
	if transitioned {
		if err := s.projector.OnPaymentRefunded(ctx, bookingID); err != nil {
			return nil, err
		}
		s.publisher.Publish(ctx, event.PaymentEvent{
			Type:      event.TypePaymentRefunded,
			PaymentID: p.ID,
			BookingID: bookingID,
			Amount:    p.Amount,
			Currency:  p.Currency,
		})
	}

	s.logger.InfoContext(ctx, "Payment refunded", "paymentId", p.ID, "refundId", refund.ID)

	return &RefundResult{PaymentID: p.ID, Status: string(db.PaymentRefunded), RefundID: refund.ID}, nil
}
