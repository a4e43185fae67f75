package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/model"
)

// SubscriptionRepo defines the interface for subscription repository operations
type SubscriptionRepo interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (model.Subscription, error)
	Upsert(ctx context.Context, sub model.Subscription) error
}

type subscriptionRepo struct {
	db *sql.DB
}

// NewSubscriptionRepo creates a new SubscriptionRepo instance
func NewSubscriptionRepo(db *sql.DB) SubscriptionRepo {
	return &subscriptionRepo{db: db}
}

func (r *subscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (model.Subscription, error) {
	var sub model.Subscription
	var tier, status string
	var endDate sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, tier, status, start_date, end_date, updated_at
		FROM subscriptions
		WHERE user_id = $1
	`, userID).Scan(&sub.UserID, &tier, &status, &sub.StartDate, &endDate, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Subscription{}, fmt.Errorf("get subscription: %w", apperror.ErrSubscriptionNotFound)
		}
		return model.Subscription{}, fmt.Errorf("query subscription: %w", err)
	}
	sub.Tier = model.Tier(tier)
	sub.Status = model.SubscriptionStatus(status)
	if endDate.Valid {
		sub.EndDate = &endDate.Time
	}
	return sub, nil
}

func (r *subscriptionRepo) Upsert(ctx context.Context, sub model.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, tier, status, start_date, end_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier,
		    status = EXCLUDED.status,
		    start_date = EXCLUDED.start_date,
		    end_date = EXCLUDED.end_date,
		    updated_at = EXCLUDED.updated_at
	`, sub.UserID, string(sub.Tier), string(sub.Status), sub.StartDate, sub.EndDate, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}
