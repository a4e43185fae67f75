package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/relaychat/server/internal/model"
)

// activeChallengeLimit bounds how many live challenges are compared per verification
const activeChallengeLimit = 10

// OtpRepo defines the interface for OTP challenge repository operations
type OtpRepo interface {
	Create(ctx context.Context, ch model.OTPChallenge) error
	// ChargeActive counts one verification attempt against every unconsumed,
	// unexpired challenge for the user and purpose that has fewer than
	// maxAttempts, and returns those challenges newest first.
	ChargeActive(ctx context.Context, userID uuid.UUID, purpose model.Purpose, now time.Time, maxAttempts int) ([]model.OTPChallenge, error)
	// Consume marks the challenge used and applies effect to its user in one
	// transaction. It returns false when the challenge was already consumed or
	// expired by now, in which case nothing is written.
	Consume(ctx context.Context, id uuid.UUID, now time.Time, effect model.ConsumeEffect) (bool, error)
	CountRecentRequests(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// Create inserts a new challenge. Earlier challenges stay valid until they expire.
func (r *otpRepo) Create(ctx context.Context, ch model.OTPChallenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_challenges (id, user_id, code_hash, purpose, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ch.ID, ch.UserID, ch.CodeHash, string(ch.Purpose), ch.CreatedAt, ch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// ChargeActive charges and reads in one statement, so concurrent guesses
// cannot share an attempt.
func (r *otpRepo) ChargeActive(ctx context.Context, userID uuid.UUID, purpose model.Purpose, now time.Time, maxAttempts int) ([]model.OTPChallenge, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE otp_challenges
		SET attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM otp_challenges
			WHERE user_id = $1
			  AND purpose = $2
			  AND consumed_at IS NULL
			  AND expires_at > $3
			  AND attempts < $4
			ORDER BY created_at DESC
			LIMIT $5
		)
		RETURNING id, user_id, code_hash, purpose, created_at, expires_at, attempts
	`, userID, string(purpose), now, maxAttempts, activeChallengeLimit)
	if err != nil {
		return nil, fmt.Errorf("charge challenges: %w", err)
	}
	defer rows.Close()

	var out []model.OTPChallenge
	for rows.Next() {
		var ch model.OTPChallenge
		var p string
		if err := rows.Scan(&ch.ID, &ch.UserID, &ch.CodeHash, &p, &ch.CreatedAt, &ch.ExpiresAt, &ch.Attempts); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		ch.Purpose = model.Purpose(p)
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate challenges: %w", err)
	}
	// RETURNING has no order
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Consume relies on the row lock taken by the conditional UPDATE: a second
// caller blocks until the first commits, then matches zero rows.
func (r *otpRepo) Consume(ctx context.Context, id uuid.UUID, now time.Time, effect model.ConsumeEffect) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		UPDATE otp_challenges
		SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2
		RETURNING user_id
	`, id, now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}

	if effect.MarkVerified {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET is_verified = TRUE WHERE id = $1`, userID); err != nil {
			return false, fmt.Errorf("mark verified: %w", err)
		}
	}
	if effect.NewPasswordHash != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, effect.NewPasswordHash); err != nil {
			return false, fmt.Errorf("reset password: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// CountRecentRequests returns the number of challenges created for the user since the given time.
func (r *otpRepo) CountRecentRequests(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_challenges
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent requests: %w", err)
	}
	return count, nil
}
