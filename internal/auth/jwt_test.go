package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/server/internal/model"
)

const testSecret = "test-jwt-secret-at-least-32-characters-long"

func newTestJWT(t *testing.T) *JWTService {
	t.Helper()
	s, err := NewJWTService(testSecret, 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	return s
}

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService("", time.Minute, time.Hour)
	require.Error(t, err)
}

func TestJWTService_IssueAndVerifyPair(t *testing.T) {
	s := newTestJWT(t)
	user := model.User{ID: uuid.New(), Mobile: "+15550001111"}

	pair, err := s.IssuePair(user)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))

	claims, err := s.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Mobile, claims.Mobile)

	claims, err = s.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestJWTService_TokenTypesNotInterchangeable(t *testing.T) {
	s := newTestJWT(t)
	pair, err := s.IssuePair(model.User{ID: uuid.New()})
	require.NoError(t, err)

	_, err = s.VerifyAccessToken(pair.RefreshToken)
	assert.Error(t, err)
	_, err = s.VerifyRefreshToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestJWTService_Expiry(t *testing.T) {
	s := newTestJWT(t)
	issued := time.Now()
	s.now = func() time.Time { return issued }
	pair, err := s.IssuePair(model.User{ID: uuid.New()})
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(16 * time.Minute) }
	_, err = s.VerifyAccessToken(pair.AccessToken)
	require.Error(t, err, "access token expires after its TTL")

	_, err = s.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err, "refresh token outlives the access token")
}

func TestJWTService_RejectsForeignSignature(t *testing.T) {
	s := newTestJWT(t)
	other, err := NewJWTService("another-secret-that-is-also-32-chars-long", time.Minute, time.Hour)
	require.NoError(t, err)

	pair, err := other.IssuePair(model.User{ID: uuid.New()})
	require.NoError(t, err)
	_, err = s.VerifyAccessToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestJWTService_RejectsNoneAlgorithm(t *testing.T) {
	s := newTestJWT(t)
	claims := &JWTClaims{
		UserID:    uuid.New(),
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.VerifyAccessToken(token)
	assert.Error(t, err)
}
