package payment_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"payment-service/internal/db"
	"payment-service/internal/event"
	"payment-service/internal/gateway"
)

// fakeBookingStore is an in-memory BookingStore that tracks status
// writes so tests can assert on transition counts.
type fakeBookingStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*db.BookingEntity
	writes   []db.BookingStatus
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{bookings: make(map[uuid.UUID]*db.BookingEntity)}
}

func (s *fakeBookingStore) add(b *db.BookingEntity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

func (s *fakeBookingStore) GetByIDForUser(_ context.Context, id, userID uuid.UUID) (*db.BookingEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.UserID != userID || !b.Active {
		return nil, pgx.ErrNoRows
	}
	copied := *b
	return &copied, nil
}

func (s *fakeBookingStore) SetStatus(_ context.Context, id uuid.UUID, status db.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return errors.New("booking not found")
	}
	if b.Status == status {
		return nil
	}
	b.Status = status
	s.writes = append(s.writes, status)
	return nil
}

func (s *fakeBookingStore) status(id uuid.UUID) db.BookingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id].Status
}

// fakePaymentStore mirrors the conditional-write semantics of the real
// repository.
type fakePaymentStore struct {
	mu            sync.Mutex
	byRef         map[string]*db.PaymentEntity
	bookings      *fakeBookingStore
	activityTitle string
	createErr     error
}

func newFakePaymentStore(bookings *fakeBookingStore) *fakePaymentStore {
	return &fakePaymentStore{
		byRef:         make(map[string]*db.PaymentEntity),
		bookings:      bookings,
		activityTitle: "Football Club",
	}
}

func (s *fakePaymentStore) Create(_ context.Context, p *db.PaymentEntity) (*db.PaymentEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	if _, exists := s.byRef[p.ProviderRef]; exists {
		return nil, errors.New("duplicate provider reference")
	}
	copied := *p
	s.byRef[p.ProviderRef] = &copied
	return p, nil
}

func (s *fakePaymentStore) GetBlockingByBookingID(_ context.Context, bookingID uuid.UUID) (*db.PaymentEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byRef {
		if p.BookingID == bookingID && p.Active &&
			(p.Status == db.PaymentPending || p.Status == db.PaymentCompleted) {
			copied := *p
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakePaymentStore) GetActiveByProviderRef(_ context.Context, providerRef string) (*db.PaymentEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byRef[providerRef]
	if !ok || !p.Active {
		return nil, pgx.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (s *fakePaymentStore) GetByIDForUser(_ context.Context, id, userID uuid.UUID) (*db.PaymentEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byRef {
		if p.ID == id && p.UserID == userID && p.Active {
			copied := *p
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakePaymentStore) GetStatusItem(ctx context.Context, id, userID uuid.UUID) (*db.PaymentListItem, error) {
	p, err := s.GetByIDForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return &db.PaymentListItem{
		PaymentEntity: *p,
		BookingStatus: s.bookings.status(p.BookingID),
		ActivityTitle: s.activityTitle,
	}, nil
}

func (s *fakePaymentStore) List(_ context.Context, userID uuid.UUID, status *db.PaymentStatus, limit, offset int) ([]*db.PaymentListItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []*db.PaymentListItem
	for _, p := range s.byRef {
		if p.UserID != userID || !p.Active {
			continue
		}
		if status != nil && p.Status != *status {
			continue
		}
		items = append(items, &db.PaymentListItem{
			PaymentEntity: *p,
			BookingStatus: s.bookings.status(p.BookingID),
			ActivityTitle: s.activityTitle,
		})
	}
	total := len(items)
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], total, nil
}

func (s *fakePaymentStore) MarkCompleted(_ context.Context, providerRef string, completedAt time.Time) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byRef[providerRef]
	if !ok || !p.Active || p.Status != db.PaymentPending {
		return uuid.Nil, false, nil
	}
	p.Status = db.PaymentCompleted
	p.CompletedAt = &completedAt
	return p.BookingID, true, nil
}

func (s *fakePaymentStore) MarkFailed(_ context.Context, providerRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byRef[providerRef]
	if !ok || !p.Active || p.Status != db.PaymentPending {
		return false, nil
	}
	p.Status = db.PaymentFailed
	return true, nil
}

func (s *fakePaymentStore) MarkRefunded(_ context.Context, providerRef string, refundedAt time.Time) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byRef[providerRef]
	if !ok || !p.Active || p.Status != db.PaymentCompleted {
		return uuid.Nil, false, nil
	}
	p.Status = db.PaymentRefunded
	p.RefundedAt = &refundedAt
	return p.BookingID, true, nil
}

func (s *fakePaymentStore) GetStalePending(_ context.Context, cutoff time.Time, limit int) ([]*db.PaymentEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var payments []*db.PaymentEntity
	for _, p := range s.byRef {
		if p.Status == db.PaymentPending && p.Active && p.CreatedAt.Before(cutoff) && len(payments) < limit {
			copied := *p
			payments = append(payments, &copied)
		}
	}
	return payments, nil
}

func (s *fakePaymentStore) statusOf(providerRef string) db.PaymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRef[providerRef].Status
}

// fakeGateway lets each test script the provider's behavior and records
// how often it was called.
type fakeGateway struct {
	mu sync.Mutex

	createCalls int
	lastCreate  gateway.CreateIntentInput
	createFn    func(gateway.CreateIntentInput) (*gateway.Intent, error)
	confirmFn   func(string) (*gateway.Intent, error)
	getFn       func(string) (*gateway.Intent, error)
	refundCalls int
	lastRefund  gateway.CreateRefundInput
	refundFn    func(gateway.CreateRefundInput) (*gateway.Refund, error)
}

func (g *fakeGateway) CreateIntent(_ context.Context, in gateway.CreateIntentInput) (*gateway.Intent, error) {
	g.mu.Lock()
	g.createCalls++
	g.lastCreate = in
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(in)
	}
	return &gateway.Intent{ID: "pi_" + uuid.NewString(), ClientSecret: "secret", Status: "requires_payment_method"}, nil
}

func (g *fakeGateway) ConfirmIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	if g.confirmFn != nil {
		return g.confirmFn(intentID)
	}
	return &gateway.Intent{ID: intentID, Status: "succeeded"}, nil
}

func (g *fakeGateway) GetIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	if g.getFn != nil {
		return g.getFn(intentID)
	}
	return &gateway.Intent{ID: intentID, Status: "succeeded"}, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, in gateway.CreateRefundInput) (*gateway.Refund, error) {
	g.mu.Lock()
	g.refundCalls++
	g.lastRefund = in
	g.mu.Unlock()
	if g.refundFn != nil {
		return g.refundFn(in)
	}
	return &gateway.Refund{ID: "re_" + uuid.NewString(), Status: "succeeded"}, nil
}

type fakeResolver struct {
	accounts map[uuid.UUID]string
}

func (r *fakeResolver) Resolve(_ context.Context, venueID uuid.UUID) (string, error) {
	return r.accounts[venueID], nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []event.PaymentEvent
}

func (p *fakePublisher) Publish(_ context.Context, e event.PaymentEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}
