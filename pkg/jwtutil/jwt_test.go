package jwtutil

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suteetoe/tenantgate/internal/model"
)

func newUtil(t *testing.T) *JWTUtil {
	t.Helper()
	u, err := NewJWTUtil(JWTConfig{SigningKey: "test-key", Issuer: "tenantgate-test", ExpirationHours: 24})
	require.NoError(t, err)
	return u
}

func TestTokenRoundTrip(t *testing.T) {
	u := newUtil(t)
	userID := uuid.New()
	tenantID := uuid.New()

	token, expiresAt, err := u.GenerateToken(userID, model.RoleTenantAdmin, &tenantID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, time.Minute)

	claims, err := u.ValidateToken(token)
	require.NoError(t, err)

	claim := claims.Claim()
	assert.Equal(t, userID, claim.UserID)
	assert.Equal(t, model.RoleTenantAdmin, claim.Role)
	require.NotNil(t, claim.TenantID)
	assert.Equal(t, tenantID, *claim.TenantID)
}

func TestSuperAdminTokenHasNoTenant(t *testing.T) {
	u := newUtil(t)
	token, _, err := u.GenerateToken(uuid.New(), model.RoleSuperAdmin, nil)
	require.NoError(t, err)

	claims, err := u.ValidateToken(token)
	require.NoError(t, err)
	assert.Nil(t, claims.TenantID)
}

func TestGenerateRejectsScopeMismatch(t *testing.T) {
	u := newUtil(t)
	tenantID := uuid.New()

	_, _, err := u.GenerateToken(uuid.New(), model.RoleSuperAdmin, &tenantID)
	assert.Error(t, err)
	_, _, err = u.GenerateToken(uuid.New(), model.RoleUser, nil)
	assert.Error(t, err)
	_, _, err = u.GenerateToken(uuid.New(), model.Role("owner"), &tenantID)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	u := newUtil(t).WithClock(func() time.Time { return time.Now().Add(-25 * time.Hour) })
	tenantID := uuid.New()
	token, _, err := u.GenerateToken(uuid.New(), model.RoleUser, &tenantID)
	require.NoError(t, err)

	_, err = newUtil(t).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongKeyRejected(t *testing.T) {
	tenantID := uuid.New()
	token, _, err := newUtil(t).GenerateToken(uuid.New(), model.RoleUser, &tenantID)
	require.NoError(t, err)

	other, err := NewJWTUtil(JWTConfig{SigningKey: "other-key"})
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTamperedTokenRejected(t *testing.T) {
	u := newUtil(t)
	tenantID := uuid.New()
	token, _, err := u.GenerateToken(uuid.New(), model.RoleUser, &tenantID)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, UserClaims{
		UserID: uuid.New(),
		Role:   model.RoleSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	forgedString, err := forged.SignedString([]byte("attacker"))
	require.NoError(t, err)
	forgedParts := strings.Split(forgedString, ".")

	// original signature over a swapped payload
	_, err = u.ValidateToken(parts[0] + "." + forgedParts[1] + "." + parts[2])
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMalformedAndUnsignedTokens(t *testing.T) {
	u := newUtil(t)
	_, err := u.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, UserClaims{UserID: uuid.New(), Role: model.RoleSuperAdmin})
	s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = u.ValidateToken(s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMissingExpiryRejected(t *testing.T) {
	tenantID := uuid.New()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, UserClaims{UserID: uuid.New(), Role: model.RoleUser, TenantID: &tenantID})
	s, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)

	_, err = newUtil(t).ValidateToken(s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTUtilRequiresKey(t *testing.T) {
	_, err := NewJWTUtil(JWTConfig{})
	assert.Error(t, err)
}
