package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type BookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*BookingEntity, error) {
	query := `SELECT id, user_id, activity_id, status, active, created_at, updated_at
	          FROM booking WHERE id = $1 AND user_id = $2 AND active = true`
	var b BookingEntity
	err := r.pool.QueryRow(ctx, query, id, userID).Scan(
		&b.ID, &b.UserID, &b.ActivityID, &b.Status, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SetStatus applies a payment-driven booking transition. The guard makes
// a repeated write of the same target status a no-op rather than an error.
func (r *BookingRepository) SetStatus(ctx context.Context, id uuid.UUID, status BookingStatus) error {
	query := `UPDATE booking SET status = $2, updated_at = $3 WHERE id = $1 AND status <> $2`
	_, err := r.pool.Exec(ctx, query, id, status, time.Now())
	if err != nil {
		return errors.Wrapf(err, "setting booking %s status to %s", id, status)
	}
	return nil
}
