package model

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the subscription level that decides whether dispatches are capped
type Tier string

const (
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// SubscriptionStatus is the billing state of a subscription
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is the billing record of a user. A user without one is basic/inactive.
type Subscription struct {
	UserID    uuid.UUID
	Tier      Tier
	Status    SubscriptionStatus
	StartDate time.Time
	EndDate   *time.Time
	UpdatedAt time.Time
}

// DefaultSubscription is reported for users that never subscribed
func DefaultSubscription(userID uuid.UUID) Subscription {
	return Subscription{
		UserID: userID,
		Tier:   TierBasic,
		Status: SubscriptionInactive,
	}
}

// IsPremium reports whether the subscription bypasses the dispatch cap at now
func (s Subscription) IsPremium(now time.Time) bool {
	if s.Tier != TierPro || s.Status != SubscriptionActive {
		return false
	}
	return s.EndDate == nil || now.Before(*s.EndDate)
}

// EffectiveTier is the tier the rate limiter applies at now
func (s Subscription) EffectiveTier(now time.Time) Tier {
	if s.IsPremium(now) {
		return TierPro
	}
	return TierBasic
}

// CycleAnchor returns the day a user's usage cycle is counted from: the
// subscription start date when one is recorded, otherwise the account
// creation date. The result is truncated to the UTC day.
func CycleAnchor(user User, sub *Subscription) time.Time {
	anchor := user.CreatedAt
	if sub != nil && !sub.StartDate.IsZero() {
		anchor = sub.StartDate
	}
	anchor = anchor.UTC()
	return time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)
}
