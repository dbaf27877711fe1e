package db_test

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"payment-service/internal/db"
	"payment-service/internal/testhelpers"
)

type PaymentRepositoryTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	payments    *db.PaymentRepository
	bookings    *db.BookingRepository
	ctx         context.Context
}

func (s *PaymentRepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	if err := db.RunMigrations(pgContainer.ConnectionString, "../../migrations"); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.payments = db.NewPaymentRepository(pool)
	s.bookings = db.NewBookingRepository(pool)
}

func (s *PaymentRepositoryTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *PaymentRepositoryTestSuite) SetupTest() {
	for _, table := range []string{"payment", "booking", "activity", "venue"} {
		if _, err := s.pool.Exec(s.ctx, "DELETE FROM "+table); err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}
}

func (s *PaymentRepositoryTestSuite) createVenue(stripeAccount *string) uuid.UUID {
	id := uuid.New()
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO venue (id, name, stripe_account_id) VALUES ($1, $2, $3)`,
		id, "Sports Centre", stripeAccount)
	s.Require().NoError(err)
	return id
}

func (s *PaymentRepositoryTestSuite) createActivity(venueID uuid.UUID) uuid.UUID {
	id := uuid.New()
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO activity (id, venue_id, title) VALUES ($1, $2, $3)`,
		id, venueID, "Five-a-side Football")
	s.Require().NoError(err)
	return id
}

func (s *PaymentRepositoryTestSuite) createBooking(userID, activityID uuid.UUID) uuid.UUID {
	id := uuid.New()
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO booking (id, user_id, activity_id, status) VALUES ($1, $2, $3, 'pending')`,
		id, userID, activityID)
	s.Require().NoError(err)
	return id
}

type seed struct {
	userID    uuid.UUID
	venueID   uuid.UUID
	bookingID uuid.UUID
}

func (s *PaymentRepositoryTestSuite) seedBooking(stripeAccount *string) seed {
	userID := uuid.New()
	venueID := s.createVenue(stripeAccount)
	activityID := s.createActivity(venueID)
	bookingID := s.createBooking(userID, activityID)
	return seed{userID: userID, venueID: venueID, bookingID: bookingID}
}

func (s *PaymentRepositoryTestSuite) newPayment(sd seed) *db.PaymentEntity {
	return &db.PaymentEntity{
		ID:            uuid.New(),
		BookingID:     sd.bookingID,
		UserID:        sd.userID,
		ProviderRef:   "pi_" + uuid.NewString(),
		Amount:        25.50,
		Currency:      "gbp",
		Status:        db.PaymentPending,
		PaymentMethod: "card",
		Active:        true,
		CreatedAt:     time.Now(),
	}
}

func (s *PaymentRepositoryTestSuite) TestCreateAndGetActiveByProviderRef() {
	t := s.T()
	sd := s.seedBooking(nil)

	created, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)

	found, err := s.payments.GetActiveByProviderRef(s.ctx, created.ProviderRef)
	assert.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, db.PaymentPending, found.Status)
	assert.Equal(t, 25.50, found.Amount)
}

func (s *PaymentRepositoryTestSuite) TestGetBlockingByBookingID() {
	t := s.T()
	sd := s.seedBooking(nil)

	_, err := s.payments.GetBlockingByBookingID(s.ctx, sd.bookingID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	created, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)

	blocking, err := s.payments.GetBlockingByBookingID(s.ctx, sd.bookingID)
	assert.NoError(t, err)
	assert.Equal(t, created.ID, blocking.ID)
}

func (s *PaymentRepositoryTestSuite) TestFailedPaymentDoesNotBlock() {
	t := s.T()
	sd := s.seedBooking(nil)

	created, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)

	failed, err := s.payments.MarkFailed(s.ctx, created.ProviderRef)
	assert.NoError(t, err)
	assert.True(t, failed)

	_, err = s.payments.GetBlockingByBookingID(s.ctx, sd.bookingID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	// a fresh attempt is allowed once the previous one failed
	_, err = s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)
}

func (s *PaymentRepositoryTestSuite) TestBlockingIndexRejectsSecondOpenPayment() {
	t := s.T()
	sd := s.seedBooking(nil)

	_, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)

	_, err = s.payments.Create(s.ctx, s.newPayment(sd))
	assert.Error(t, err, "unique index must reject a second open payment for the booking")
}

func (s *PaymentRepositoryTestSuite) TestMarkCompletedIsIdempotent() {
	t := s.T()
	sd := s.seedBooking(nil)

	created, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)

	bookingID, transitioned, err := s.payments.MarkCompleted(s.ctx, created.ProviderRef, time.Now())
	assert.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, sd.bookingID, bookingID)

	_, transitioned, err = s.payments.MarkCompleted(s.ctx, created.ProviderRef, time.Now())
	assert.NoError(t, err)
	assert.False(t, transitioned)

	found, err := s.payments.GetActiveByProviderRef(s.ctx, created.ProviderRef)
	assert.NoError(t, err)
	assert.Equal(t, db.PaymentCompleted, found.Status)
	assert.NotNil(t, found.CompletedAt)
}

func (s *PaymentRepositoryTestSuite) TestMarkFailedOnlyFromPending() {
	t := s.T()
	sd := s.seedBooking(nil)

	created, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)

	_, transitioned, err := s.payments.MarkCompleted(s.ctx, created.ProviderRef, time.Now())
	assert.NoError(t, err)
	assert.True(t, transitioned)

	failed, err := s.payments.MarkFailed(s.ctx, created.ProviderRef)
	assert.NoError(t, err)
	assert.False(t, failed, "a completed payment must not be failed by a late event")
}

func (s *PaymentRepositoryTestSuite) TestMarkRefundedOnlyFromCompleted() {
	t := s.T()
	sd := s.seedBooking(nil)

	created, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)

	_, transitioned, err := s.payments.MarkRefunded(s.ctx, created.ProviderRef, time.Now())
	assert.NoError(t, err)
	assert.False(t, transitioned)

	_, _, err = s.payments.MarkCompleted(s.ctx, created.ProviderRef, time.Now())
	assert.NoError(t, err)

	bookingID, transitioned, err := s.payments.MarkRefunded(s.ctx, created.ProviderRef, time.Now())
	assert.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, sd.bookingID, bookingID)

	found, err := s.payments.GetActiveByProviderRef(s.ctx, created.ProviderRef)
	assert.NoError(t, err)
	assert.Equal(t, db.PaymentRefunded, found.Status)
	assert.NotNil(t, found.RefundedAt)
}

func (s *PaymentRepositoryTestSuite) TestGetStatusItem() {
	t := s.T()
	sd := s.seedBooking(nil)

	created, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)

	item, err := s.payments.GetStatusItem(s.ctx, created.ID, sd.userID)
	assert.NoError(t, err)
	assert.Equal(t, created.ID, item.ID)
	assert.Equal(t, db.BookingPending, item.BookingStatus)
	assert.Equal(t, "Five-a-side Football", item.ActivityTitle)

	_, err = s.payments.GetStatusItem(s.ctx, created.ID, uuid.New())
	assert.ErrorIs(t, err, pgx.ErrNoRows, "another user must not see the payment")
}

func (s *PaymentRepositoryTestSuite) TestList() {
	t := s.T()
	sd := s.seedBooking(nil)

	first, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)
	_, _, err = s.payments.MarkCompleted(s.ctx, first.ProviderRef, time.Now())
	assert.NoError(t, err)

	otherBooking := s.createBooking(sd.userID, s.createActivity(sd.venueID))
	second := s.newPayment(sd)
	second.BookingID = otherBooking
	_, err = s.payments.Create(s.ctx, second)
	assert.NoError(t, err)

	items, total, err := s.payments.List(s.ctx, sd.userID, nil, 10, 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	completed := db.PaymentCompleted
	items, total, err = s.payments.List(s.ctx, sd.userID, &completed, 10, 0)
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)
	assert.Equal(t, first.ID, items[0].ID)

	items, total, err = s.payments.List(s.ctx, sd.userID, nil, 1, 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 1)
}

func (s *PaymentRepositoryTestSuite) TestConnectAccountPersisted() {
	t := s.T()
	sd := s.seedBooking(nil)

	payment := s.newPayment(sd)
	payment.ConnectAccount = "acct_venue"
	created, err := s.payments.Create(s.ctx, payment)
	assert.NoError(t, err)

	found, err := s.payments.GetActiveByProviderRef(s.ctx, created.ProviderRef)
	assert.NoError(t, err)
	assert.Equal(t, "acct_venue", found.ConnectAccount)
}

func (s *PaymentRepositoryTestSuite) TestConnectAccountDefaultsEmpty() {
	t := s.T()
	sd := s.seedBooking(nil)

	created, err := s.payments.Create(s.ctx, s.newPayment(sd))
	assert.NoError(t, err)

	found, err := s.payments.GetActiveByProviderRef(s.ctx, created.ProviderRef)
	assert.NoError(t, err)
	assert.Empty(t, found.ConnectAccount)
}

func (s *PaymentRepositoryTestSuite) TestGetStalePending() {
	t := s.T()
	sd := s.seedBooking(nil)

	stale := s.newPayment(sd)
	stale.CreatedAt = time.Now().Add(-time.Hour)
	_, err := s.payments.Create(s.ctx, stale)
	assert.NoError(t, err)

	freshBooking := s.createBooking(sd.userID, s.createActivity(sd.venueID))
	fresh := s.newPayment(sd)
	fresh.BookingID = freshBooking
	_, err = s.payments.Create(s.ctx, fresh)
	assert.NoError(t, err)

	payments, err := s.payments.GetStalePending(s.ctx, time.Now().Add(-30*time.Minute), 10)
	assert.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Equal(t, stale.ID, payments[0].ID)
}

func (s *PaymentRepositoryTestSuite) TestBookingSetStatus() {
	t := s.T()
	sd := s.seedBooking(nil)

	err := s.bookings.SetStatus(s.ctx, sd.bookingID, db.BookingConfirmed)
	assert.NoError(t, err)

	booking, err := s.bookings.GetByIDForUser(s.ctx, sd.bookingID, sd.userID)
	assert.NoError(t, err)
	assert.Equal(t, db.BookingConfirmed, booking.Status)

	// writing the same status again is a no-op
	err = s.bookings.SetStatus(s.ctx, sd.bookingID, db.BookingConfirmed)
	assert.NoError(t, err)
}

func (s *PaymentRepositoryTestSuite) TestBookingScopedToUser() {
	t := s.T()
	sd := s.seedBooking(nil)

	_, err := s.bookings.GetByIDForUser(s.ctx, sd.bookingID, uuid.New())
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestPaymentRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(PaymentRepositoryTestSuite))
}
