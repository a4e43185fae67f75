package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/model"
	"github.com/relaychat/server/internal/repo"
)

// Plan is what the dispatch gate needs to know about a user
type Plan struct {
	Tier   model.Tier
	Anchor time.Time
}

// Service reads and records subscriptions
type Service struct {
	subs repo.SubscriptionRepo
	now  func() time.Time
}

// NewService creates a new subscription service
func NewService(subs repo.SubscriptionRepo) *Service {
	return &Service{subs: subs, now: time.Now}
}

// Status returns the user's subscription, basic/inactive when none is recorded
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (model.Subscription, error) {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if errors.Is(err, apperror.ErrSubscriptionNotFound) {
		return model.DefaultSubscription(userID), nil
	}
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// PlanFor resolves the effective tier and cycle anchor for user
func (s *Service) PlanFor(ctx context.Context, user model.User) (Plan, error) {
	sub, err := s.subs.GetByUserID(ctx, user.ID)
	switch {
	case errors.Is(err, apperror.ErrSubscriptionNotFound):
		return Plan{Tier: model.TierBasic, Anchor: model.CycleAnchor(user, nil)}, nil
	case err != nil:
		return Plan{}, fmt.Errorf("load subscription: %w", err)
	}
	return Plan{Tier: sub.EffectiveTier(s.now()), Anchor: model.CycleAnchor(user, &sub)}, nil
}

// Activate records an active subscription of tier starting at start
func (s *Service) Activate(ctx context.Context, userID uuid.UUID, tier model.Tier, start time.Time, end *time.Time) (model.Subscription, error) {
	sub := model.Subscription{
		UserID:    userID,
		Tier:      tier,
		Status:    model.SubscriptionActive,
		StartDate: start,
		EndDate:   end,
		UpdatedAt: s.now(),
	}
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// Cancel marks the user's subscription canceled, keeping its start date
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) (model.Subscription, error) {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil {
		return model.Subscription{}, err
	}
	now := s.now()
	sub.Status = model.SubscriptionCanceled
	sub.EndDate = &now
	sub.UpdatedAt = now
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}
