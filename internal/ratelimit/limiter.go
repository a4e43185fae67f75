// Package ratelimit caps how many messages a basic-tier user may dispatch
// per usage cycle.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/cache"
	"github.com/relaychat/server/internal/metrics"
	"github.com/relaychat/server/internal/model"
)

// Decision describes the gate outcome. Limit and Remaining are zero for unlimited tiers.
type Decision struct {
	Allowed   bool
	Unlimited bool
	Count     int64
	Limit     int64
	Remaining int64
}

// LimitError is returned when a dispatch is denied
type LimitError struct {
	Decision Decision
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily limit of %d messages reached", e.Decision.Limit)
}

func (e *LimitError) Unwrap() error { return apperror.ErrDailyLimitExceeded }

// Limiter gates dispatches with one counter per (user, cycle anchor)
type Limiter struct {
	store cache.Store
	limit int64
	cycle time.Duration
	log   *zap.Logger
}

// NewLimiter creates a limiter allowing limit dispatches per cycle
func NewLimiter(store cache.Store, limit int, cycle time.Duration, log *zap.Logger) *Limiter {
	return &Limiter{
		store: store,
		limit: int64(limit),
		cycle: cycle,
		log:   log,
	}
}

// Key returns the counter key for userID in the cycle starting at anchor
func Key(userID uuid.UUID, anchor time.Time) string {
	return fmt.Sprintf("prompt_count:%s:%s", userID, anchor.UTC().Format("2006-01-02"))
}

// CheckAndIncrement admits one dispatch or denies it with a *LimitError.
// Pro users are admitted without touching the counter. The check and the
// increment are a single store operation, so concurrent callers can never
// push an admitted count past the limit.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID uuid.UUID, tier model.Tier, anchor time.Time) (Decision, error) {
	if tier == model.TierPro {
		metrics.RateLimitDecisions.WithLabelValues(string(tier), "bypass").Inc()
		return Decision{Allowed: true, Unlimited: true}, nil
	}

	count, ok, err := l.store.IncrIfBelow(ctx, Key(userID, anchor), l.limit, l.cycle)
	if err != nil {
		return Decision{}, fmt.Errorf("usage counter: %w", err)
	}

	d := Decision{Allowed: ok, Count: count, Limit: l.limit, Remaining: l.limit - count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !ok {
		metrics.RateLimitDecisions.WithLabelValues(string(tier), "denied").Inc()
		l.log.Info("dispatch denied by daily limit",
			zap.String("user_id", userID.String()),
			zap.Int64("count", count),
			zap.Int64("limit", l.limit),
		)
		return d, &LimitError{Decision: d}
	}
	metrics.RateLimitDecisions.WithLabelValues(string(tier), "allowed").Inc()
	return d, nil
}
