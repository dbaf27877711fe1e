package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentColumns = `id, booking_id, user_id, provider_ref, amount, currency, status, connect_account, payment_method, active, created_at, completed_at, refunded_at`

func scanPayment(row pgx.Row) (*PaymentEntity, error) {
	var p PaymentEntity
	err := row.Scan(&p.ID, &p.BookingID, &p.UserID, &p.ProviderRef, &p.Amount, &p.Currency,
		&p.Status, &p.ConnectAccount, &p.PaymentMethod, &p.Active, &p.CreatedAt, &p.CompletedAt, &p.RefundedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, p *PaymentEntity) (*PaymentEntity, error) {
	query := `INSERT INTO payment (id, booking_id, user_id, provider_ref, amount, currency, status, connect_account, payment_method, active, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`
	err := r.pool.QueryRow(ctx, query, p.ID, p.BookingID, p.UserID, p.ProviderRef, p.Amount,
		p.Currency, p.Status, p.ConnectAccount, p.PaymentMethod, p.Active, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "inserting payment")
	}
	return p, nil
}

// GetBlockingByBookingID returns the active payment that blocks a new
// intent for the booking. A failed payment does not block, so a fresh
// intent can be created after a terminal failure.
func (r *PaymentRepository) GetBlockingByBookingID(ctx context.Context, bookingID uuid.UUID) (*PaymentEntity, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment
	          WHERE booking_id = $1 AND active = true AND status IN ('pending', 'completed')`
	return scanPayment(r.pool.QueryRow(ctx, query, bookingID))
}

func (r *PaymentRepository) GetActiveByProviderRef(ctx context.Context, providerRef string) (*PaymentEntity, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE provider_ref = $1 AND active = true`
	return scanPayment(r.pool.QueryRow(ctx, query, providerRef))
}

func (r *PaymentRepository) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*PaymentEntity, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE id = $1 AND user_id = $2 AND active = true`
	return scanPayment(r.pool.QueryRow(ctx, query, id, userID))
}

// GetStatusItem returns the payment joined with its booking and activity
// for the status endpoint.
func (r *PaymentRepository) GetStatusItem(ctx context.Context, id, userID uuid.UUID) (*PaymentListItem, error) {
	query := `SELECT p.id, p.booking_id, p.user_id, p.provider_ref, p.amount, p.currency, p.status,
	                 p.connect_account, p.payment_method, p.active, p.created_at, p.completed_at, p.refunded_at,
	                 b.status, a.title
	          FROM payment p
	          JOIN booking b ON b.id = p.booking_id
	          JOIN activity a ON a.id = b.activity_id
	          WHERE p.id = $1 AND p.user_id = $2 AND p.active = true`
	var item PaymentListItem
	err := r.pool.QueryRow(ctx, query, id, userID).Scan(
		&item.ID, &item.BookingID, &item.UserID, &item.ProviderRef, &item.Amount, &item.Currency,
		&item.Status, &item.ConnectAccount, &item.PaymentMethod, &item.Active, &item.CreatedAt,
		&item.CompletedAt, &item.RefundedAt, &item.BookingStatus, &item.ActivityTitle)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *PaymentRepository) List(ctx context.Context, userID uuid.UUID, status *PaymentStatus, limit, offset int) ([]*PaymentListItem, int, error) {
	countQuery := `SELECT count(*) FROM payment p WHERE p.user_id = $1 AND p.active = true AND ($2::text IS NULL OR p.status = $2)`
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, userID, status).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "counting payments")
	}

	query := `SELECT p.id, p.booking_id, p.user_id, p.provider_ref, p.amount, p.currency, p.status,
	                 p.connect_account, p.payment_method, p.active, p.created_at, p.completed_at, p.refunded_at,
	                 b.status, a.title
	          FROM payment p
	          JOIN booking b ON b.id = p.booking_id
	          JOIN activity a ON a.id = b.activity_id
	          WHERE p.user_id = $1 AND p.active = true AND ($2::text IS NULL OR p.status = $2)
	          ORDER BY p.created_at DESC
	          LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, userID, status, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "listing payments")
	}
	defer rows.Close()

	var items []*PaymentListItem
	for rows.Next() {
		var item PaymentListItem
		err := rows.Scan(&item.ID, &item.BookingID, &item.UserID, &item.ProviderRef, &item.Amount,
			&item.Currency, &item.Status, &item.ConnectAccount, &item.PaymentMethod, &item.Active,
			&item.CreatedAt, &item.CompletedAt, &item.RefundedAt, &item.BookingStatus, &item.ActivityTitle)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scanning payment row")
		}
		items = append(items, &item)
	}
	return items, total, rows.Err()
}

// MarkCompleted moves a payment from pending to completed. The status
// guard makes redundant deliveries of the same success event a no-op;
// the returned booking id is zero when no row transitioned.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, providerRef string, completedAt time.Time) (uuid.UUID, bool, error) {
	query := `UPDATE payment SET status = 'completed', completed_at = $2
	          WHERE provider_ref = $1 AND active = true AND status = 'pending'
	          RETURNING booking_id`
	var bookingID uuid.UUID
	err := r.pool.QueryRow(ctx, query, providerRef, completedAt).Scan(&bookingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, errors.Wrap(err, "marking payment completed")
	}
	return bookingID, true, nil
}

func (r *PaymentRepository) MarkFailed(ctx context.Context, providerRef string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payment SET status = 'failed' WHERE provider_ref = $1 AND active = true AND status = 'pending'`,
		providerRef)
	if err != nil {
		return false, errors.Wrap(err, "marking payment failed")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRefunded moves a payment from completed to refunded, keyed by
// provider reference so both the refund path and the webhook path share
// the same conditional write.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, providerRef string, refundedAt time.Time) (uuid.UUID, bool, error) {
	query := `UPDATE payment SET status = 'refunded', refunded_at = $2
	          WHERE provider_ref = $1 AND active = true AND status = 'completed'
	          RETURNING booking_id`
	var bookingID uuid.UUID
	err := r.pool.QueryRow(ctx, query, providerRef, refundedAt).Scan(&bookingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, errors.Wrap(err, "marking payment refunded")
	}
	return bookingID, true, nil
}

// GetStalePending returns pending payments created before the cutoff,
// oldest first, for the reconciliation sweep.
func (r *PaymentRepository) GetStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*PaymentEntity, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment
	          WHERE status = 'pending' AND active = true AND created_at < $1
	          ORDER BY created_at ASC
	          LIMIT $2`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetching stale pending payments")
	}
	defer rows.Close()

	var payments []*PaymentEntity
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning payment row")
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
