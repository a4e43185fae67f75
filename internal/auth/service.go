package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/logger"
	"github.com/relaychat/server/internal/model"
	"github.com/relaychat/server/internal/repo"
)

// UserKind tells a send-otp caller whether the mobile belonged to an existing account
type UserKind string

const (
	ExistingUser    UserKind = "existing"
	ProvisionalUser UserKind = "provisional"
)

// SendOTPResult is the outcome of issuing a challenge
type SendOTPResult struct {
	User      model.User
	Kind      UserKind
	Code      string
	ExpiresAt time.Time
}

// Session is returned by a successful verification
type Session struct {
	User   model.User
	Tokens TokenPair
}

// AuthService orchestrates authentication operations
type AuthService struct {
	challenges           ChallengeStore
	jwtService           *JWTService
	userRepo             repo.UserRepo
	hideAccountExistence bool
	log                  *zap.Logger
	now                  func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(
	challenges ChallengeStore,
	jwtService *JWTService,
	userRepo repo.UserRepo,
	hideAccountExistence bool,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		challenges:           challenges,
		jwtService:           jwtService,
		userRepo:             userRepo,
		hideAccountExistence: hideAccountExistence,
		log:                  log,
		now:                  time.Now,
	}
}

func (s *AuthService) newUser(mobile, passwordHash string, email *string) model.User {
	return model.User{
		ID:           uuid.New(),
		Mobile:       mobile,
		PasswordHash: passwordHash,
		Email:        email,
		IsActive:     true,
		CreatedAt:    s.now(),
	}
}

// Signup registers a mobile with a password. A provisional account created
// by an earlier OTP request is claimed instead of rejected.
func (s *AuthService) Signup(ctx context.Context, mobile, password string, email *string) (model.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return model.User{}, err
	}

	existing, err := s.userRepo.GetByMobile(ctx, mobile)
	switch {
	case err == nil:
		claimed, err := s.userRepo.ClaimProvisional(ctx, existing.ID, hash, email)
		if err != nil {
			return model.User{}, err
		}
		if !claimed {
			return model.User{}, apperror.ErrUserExists
		}
		existing.PasswordHash = hash
		if email != nil {
			existing.Email = email
		}
		s.log.Info("provisional user claimed by signup", logger.Mobile(mobile))
		return existing, nil
	case !errors.Is(err, apperror.ErrUserNotFound):
		return model.User{}, fmt.Errorf("lookup user: %w", err)
	}

	user := s.newUser(mobile, hash, email)
	if err := s.userRepo.Create(ctx, user); err != nil {
		return model.User{}, err
	}
	s.log.Info("user signed up", logger.Mobile(mobile), zap.String("user_id", user.ID.String()))
	return user, nil
}

// SendOTP issues a challenge for purpose. Signup and login create a
// provisional user for an unknown mobile; forgot never does.
func (s *AuthService) SendOTP(ctx context.Context, mobile string, purpose model.Purpose) (SendOTPResult, error) {
	if !purpose.Valid() {
		return SendOTPResult{}, fmt.Errorf("purpose %q: %w", purpose, apperror.ErrInvalidInput)
	}
	if purpose == model.PurposeForgot {
		return s.ForgotPassword(ctx, mobile)
	}

	user, created, err := s.userRepo.GetOrCreateByMobile(ctx, s.newUser(mobile, "", nil))
	if err != nil {
		return SendOTPResult{}, fmt.Errorf("get or create user: %w", err)
	}
	kind := ExistingUser
	if created {
		kind = ProvisionalUser
	}
	return s.issue(ctx, user, kind, purpose)
}

// ForgotPassword issues a forgot-purpose challenge to an existing verified user
func (s *AuthService) ForgotPassword(ctx context.Context, mobile string) (SendOTPResult, error) {
	user, err := s.userRepo.GetByMobile(ctx, mobile)
	if err != nil {
		return SendOTPResult{}, err
	}
	if !user.IsVerified || !user.IsActive {
		return SendOTPResult{}, fmt.Errorf("forgot password for unverified account: %w", apperror.ErrUserNotFound)
	}
	return s.issue(ctx, user, ExistingUser, model.PurposeForgot)
}

func (s *AuthService) issue(ctx context.Context, user model.User, kind UserKind, purpose model.Purpose) (SendOTPResult, error) {
	code, expiresAt, err := s.challenges.Issue(ctx, user, purpose)
	if err != nil {
		return SendOTPResult{}, err
	}
	s.log.Info("otp issued",
		logger.Mobile(user.Mobile),
		zap.String("purpose", string(purpose)),
		zap.String("kind", string(kind)),
	)
	return SendOTPResult{User: user, Kind: kind, Code: code, ExpiresAt: expiresAt}, nil
}

// lookupForVerify loads the user behind a verification attempt, folding an
// unknown mobile into ErrInvalidOrExpired when account existence is hidden.
func (s *AuthService) lookupForVerify(ctx context.Context, mobile string) (model.User, error) {
	user, err := s.userRepo.GetByMobile(ctx, mobile)
	if err != nil {
		if s.hideAccountExistence && errors.Is(err, apperror.ErrUserNotFound) {
			return model.User{}, apperror.ErrInvalidOrExpired
		}
		return model.User{}, err
	}
	return user, nil
}

// VerifyOTP consumes a challenge and issues credentials. Signup and login
// verifications also mark the account verified in the same transaction.
func (s *AuthService) VerifyOTP(ctx context.Context, mobile, code string, purpose model.Purpose) (Session, error) {
	if !purpose.Valid() {
		return Session{}, fmt.Errorf("purpose %q: %w", purpose, apperror.ErrInvalidInput)
	}
	user, err := s.lookupForVerify(ctx, mobile)
	if err != nil {
		return Session{}, err
	}

	effect := model.ConsumeEffect{MarkVerified: purpose != model.PurposeForgot}
	if err := s.challenges.Verify(ctx, user, purpose, code, effect); err != nil {
		s.log.Info("otp verification failed", logger.Mobile(mobile), zap.String("purpose", string(purpose)))
		return Session{}, err
	}
	if effect.MarkVerified {
		user.IsVerified = true
	}

	tokens, err := s.jwtService.IssuePair(user)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate tokens: %w", err)
	}
	return Session{User: user, Tokens: tokens}, nil
}

// ResetPassword consumes a forgot-purpose challenge and replaces the password
// in the same transaction.
func (s *AuthService) ResetPassword(ctx context.Context, mobile, code, newPassword string) error {
	user, err := s.lookupForVerify(ctx, mobile)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.challenges.Verify(ctx, user, model.PurposeForgot, code, model.ConsumeEffect{NewPasswordHash: hash}); err != nil {
		return err
	}
	s.log.Info("password reset", logger.Mobile(mobile))
	return nil
}

// ChangePassword replaces the password of an authenticated user after checking the old one
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := CheckPassword(user.PasswordHash, oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.ErrIncorrectPassword
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.log.Info("password changed", zap.String("user_id", user.ID.String()))
	return nil
}

// Refresh exchanges a valid refresh token for a new pair
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.jwtService.VerifyRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", apperror.ErrUnauthorized, err)
	}
	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrUserNotFound) {
			return TokenPair{}, apperror.ErrUnauthorized
		}
		return TokenPair{}, err
	}
	if !user.IsActive {
		return TokenPair{}, apperror.ErrUnauthorized
	}
	return s.jwtService.IssuePair(user)
}

// Me returns the current state of the user behind an access token
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (model.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}
