package auth

import (
	"context"
	"time"

	"github.com/relaychat/server/internal/model"
)

// ChallengeStore issues and verifies one-time codes
type ChallengeStore interface {
	// Issue creates a new challenge for user and returns its plaintext code
	Issue(ctx context.Context, user model.User, purpose model.Purpose) (code string, expiresAt time.Time, err error)
	// Verify consumes the most recent live challenge matching code and
	// applies effect atomically; any mismatch is ErrInvalidOrExpired.
	Verify(ctx context.Context, user model.User, purpose model.Purpose, code string, effect model.ConsumeEffect) error
}
