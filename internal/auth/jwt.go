package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/relaychat/server/internal/model"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// JWTClaims represents the JWT token claims shared by access and refresh tokens
type JWTClaims struct {
	UserID    uuid.UUID `json:"sub"`
	Mobile    string    `json:"mobile,omitempty"`
	TokenType string    `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is the credential handed to a client after verification
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// JWTService handles JWT token operations. Tokens carry no server-side
// state: validity is signature plus expiry.
type JWTService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewJWTService creates a new JWT service; an empty secret is rejected
func NewJWTService(secret string, accessTTL, refreshTTL time.Duration) (*JWTService, error) {
	if secret == "" {
		return nil, errors.New("jwt signing secret is empty")
	}
	return &JWTService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

func (s *JWTService) sign(user model.User, tokenType string, issued time.Time, ttl time.Duration) (string, time.Time, error) {
	expires := issued.Add(ttl)
	claims := &JWTClaims{
		UserID:    user.ID,
		Mobile:    user.Mobile,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return tokenString, expires, nil
}

// IssuePair signs a fresh access and refresh token for user
func (s *JWTService) IssuePair(user model.User) (TokenPair, error) {
	now := s.now()
	access, accessExp, err := s.sign(user, tokenTypeAccess, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.sign(user, tokenTypeRefresh, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccessToken parses an access token; refresh tokens are rejected
func (s *JWTService) VerifyAccessToken(tokenString string) (*JWTClaims, error) {
	return s.verify(tokenString, tokenTypeAccess)
}

// VerifyRefreshToken parses a refresh token; access tokens are rejected
func (s *JWTService) VerifyRefreshToken(tokenString string) (*JWTClaims, error) {
	return s.verify(tokenString, tokenTypeRefresh)
}

func (s *JWTService) verify(tokenString, tokenType string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("expected %s token, got %q", tokenType, claims.TokenType)
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
