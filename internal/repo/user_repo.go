package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, user model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByMobile(ctx context.Context, mobile string) (model.User, error)
	// GetOrCreateByMobile inserts user unless the mobile is already taken and
	// returns the stored row; created reports which happened.
	GetOrCreateByMobile(ctx context.Context, user model.User) (stored model.User, created bool, err error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	// ClaimProvisional sets the password (and email, when given) of a user that
	// has neither a password nor a verified mobile. It reports false when the
	// user no longer qualifies.
	ClaimProvisional(ctx context.Context, id uuid.UUID, passwordHash string, email *string) (bool, error)
}

const userColumns = `id, mobile, password_hash, email, is_verified, is_active, created_at`

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var user model.User
	var email sql.NullString
	err := row.Scan(
		&user.ID,
		&user.Mobile,
		&user.PasswordHash,
		&email,
		&user.IsVerified,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		return model.User{}, err
	}
	if email.Valid {
		user.Email = &email.String
	}
	return user, nil
}

// Create inserts a new user; a taken mobile yields ErrUserExists
func (r *userRepo) Create(ctx context.Context, user model.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, mobile, password_hash, email, is_verified, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Mobile, user.PasswordHash, user.Email, user.IsVerified, user.IsActive, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create user: %w", apperror.ErrUserExists)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("get user %s: %w", id, apperror.ErrUserNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetByMobile retrieves a user by mobile number
func (r *userRepo) GetByMobile(ctx context.Context, mobile string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE mobile = $1`, mobile)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("get user by mobile: %w", apperror.ErrUserNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetOrCreateByMobile inserts with ON CONFLICT DO NOTHING; when no row comes
// back the mobile already existed and the stored user is selected instead.
func (r *userRepo) GetOrCreateByMobile(ctx context.Context, user model.User) (model.User, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, mobile, password_hash, email, is_verified, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (mobile) DO NOTHING
		RETURNING `+userColumns,
		user.ID, user.Mobile, user.PasswordHash, user.Email, user.IsVerified, user.IsActive, user.CreatedAt)
	created, err := scanUser(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.User{}, false, fmt.Errorf("failed to insert user: %w", err)
	}

	existing, err := r.GetByMobile(ctx, user.Mobile)
	if err != nil {
		return model.User{}, false, err
	}
	return existing, false, nil
}

// UpdatePassword replaces the stored password hash
func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update password: %w", apperror.ErrUserNotFound)
	}
	return nil
}

// ClaimProvisional is a single conditional UPDATE, so concurrent claims of the
// same user have exactly one winner.
func (r *userRepo) ClaimProvisional(ctx context.Context, id uuid.UUID, passwordHash string, email *string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, email = COALESCE($3, email)
		WHERE id = $1 AND password_hash = '' AND NOT is_verified
	`, id, passwordHash, email)
	if err != nil {
		return false, fmt.Errorf("claim provisional user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim provisional user: %w", err)
	}
	return n == 1, nil
}
