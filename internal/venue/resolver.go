// Package venue resolves a venue to its connected Stripe account, when
// one has been onboarded.
package venue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DB is the slice of the pgx pool API the resolver needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type AccountResolver struct {
	db     DB
	cache  redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewAccountResolver(db DB, cache redis.Cmdable, ttl time.Duration, logger *slog.Logger) *AccountResolver {
	return &AccountResolver{db: db, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(venueID uuid.UUID) string {
	return "venue:connect-account:" + venueID.String()
}

// Resolve returns the venue's connected account id, or "" when the venue
// has none. Cache failures fall through to the database.
func (r *AccountResolver) Resolve(ctx context.Context, venueID uuid.UUID) (string, error) {
	if r.cache != nil {
		account, err := r.cache.Get(ctx, cacheKey(venueID)).Result()
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, redis.Nil) {
			r.logger.WarnContext(ctx, "Venue account cache read failed", "venueId", venueID, "error", err)
		}
	}

	var account *string
	err := r.db.QueryRow(ctx,
		`SELECT stripe_account_id FROM venue WHERE id = $1`, venueID).Scan(&account)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "resolving venue account")
	}

	resolved := ""
	if account != nil {
		resolved = *account
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey(venueID), resolved, r.ttl).Err(); err != nil {
			r.logger.WarnContext(ctx, "Venue account cache write failed", "venueId", venueID, "error", err)
		}
	}

	return resolved, nil
}
