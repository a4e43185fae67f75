package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/metrics"
	"github.com/relaychat/server/internal/model"
	"github.com/relaychat/server/internal/repo"
)

const (
	otpLength          = 6
	defaultMaxAttempts = 5
)

var otpSpace = big.NewInt(1_000_000)

// OtpConfig tunes challenge lifetime and per-user issue throttling
type OtpConfig struct {
	Salt          string
	TTL           time.Duration
	MaxRequests   int // 0 disables throttling
	RequestWindow time.Duration
	// MaxAttempts is how many verifications a challenge absorbs before it is dead
	MaxAttempts int
}

// OtpService is the challenge store backed by an OtpRepo. Only the salted
// hash of a code is persisted.
type OtpService struct {
	otpRepo repo.OtpRepo
	cfg     OtpConfig
	now     func() time.Time
}

// NewOtpService creates a new challenge store
func NewOtpService(otpRepo repo.OtpRepo, cfg OtpConfig) *OtpService {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &OtpService{
		otpRepo: otpRepo,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Issue creates a challenge. Earlier live challenges for the same purpose stay
// valid until they expire.
func (s *OtpService) Issue(ctx context.Context, user model.User, purpose model.Purpose) (string, time.Time, error) {
	now := s.now()
	if s.cfg.MaxRequests > 0 {
		count, err := s.otpRepo.CountRecentRequests(ctx, user.ID, now.Add(-s.cfg.RequestWindow))
		if err != nil {
			return "", time.Time{}, fmt.Errorf("rate limit check: %w", err)
		}
		if count >= s.cfg.MaxRequests {
			metrics.OTPEvents.WithLabelValues("issue", "throttled").Inc()
			return "", time.Time{}, fmt.Errorf("max %d OTP requests per %v: %w", s.cfg.MaxRequests, s.cfg.RequestWindow, apperror.ErrTooManyRequests)
		}
	}

	code, err := generateOTPCode()
	if err != nil {
		return "", time.Time{}, err
	}
	ch := model.OTPChallenge{
		ID:        uuid.New(),
		UserID:    user.ID,
		CodeHash:  hashOTPHex(user.Mobile, code, s.cfg.Salt),
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.otpRepo.Create(ctx, ch); err != nil {
		return "", time.Time{}, fmt.Errorf("create challenge: %w", err)
	}
	metrics.OTPEvents.WithLabelValues("issue", "ok").Inc()
	return code, ch.ExpiresAt, nil
}

// Verify picks the newest live challenge whose hash matches and consumes it.
// Every call, right or wrong, uses up one attempt on each live challenge for
// the purpose. Losing a concurrent race for the same challenge is reported
// like a wrong code.
func (s *OtpService) Verify(ctx context.Context, user model.User, purpose model.Purpose, code string, effect model.ConsumeEffect) error {
	if !validCodeFormat(code) {
		metrics.OTPEvents.WithLabelValues("verify", "invalid").Inc()
		return apperror.ErrInvalidOrExpired
	}

	now := s.now()
	active, err := s.otpRepo.ChargeActive(ctx, user.ID, purpose, now, s.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("load challenges: %w", err)
	}

	provided, _ := hex.DecodeString(hashOTPHex(user.Mobile, code, s.cfg.Salt))
	for _, ch := range active {
		stored, err := hex.DecodeString(ch.CodeHash)
		if err != nil || !constantTimeCompare(provided, stored) {
			continue
		}
		ok, err := s.otpRepo.Consume(ctx, ch.ID, now, effect)
		if err != nil {
			return fmt.Errorf("consume challenge: %w", err)
		}
		if !ok {
			break
		}
		metrics.OTPEvents.WithLabelValues("verify", "ok").Inc()
		return nil
	}

	metrics.OTPEvents.WithLabelValues("verify", "invalid").Inc()
	return apperror.ErrInvalidOrExpired
}

// generateOTPCode draws uniformly from 000000-999999
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpLength, n.Int64()), nil
}

func validCodeFormat(code string) bool {
	if len(code) != otpLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// hashOTPHex returns SHA-256(mobile:code:salt) as hex for DB storage
func hashOTPHex(mobile, code, salt string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", mobile, code, salt)))
	return hex.EncodeToString(hash[:])
}

func constantTimeCompare(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
