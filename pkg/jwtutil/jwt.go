package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/suteetoe/tenantgate/internal/model"
)

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	Issuer          string
	ExpirationHours int
}

// UserClaims represents the JWT claims for user authentication.
// TenantID is absent for platform super admins.
type UserClaims struct {
	UserID   uuid.UUID  `json:"user_id"`
	Role     model.Role `json:"role"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Claim converts the token payload into the domain claim.
func (c *UserClaims) Claim() model.Claim {
	claim := model.Claim{UserID: c.UserID, Role: c.Role, TenantID: c.TenantID}
	if c.ExpiresAt != nil {
		claim.ExpiresAt = c.ExpiresAt.Time
	}
	return claim
}

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// JWTUtil issues and validates HS256 session tokens. It holds no mutable state
// and is safe for concurrent use.
type JWTUtil struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTUtil creates a new JWT utility with the given configuration
func NewJWTUtil(config JWTConfig) (*JWTUtil, error) {
	if config.SigningKey == "" {
		return nil, errors.New("JWT signing key not provided")
	}
	hours := config.ExpirationHours
	if hours <= 0 {
		hours = 24
	}
	return &JWTUtil{
		key:    []byte(config.SigningKey),
		issuer: config.Issuer,
		ttl:    time.Duration(hours) * time.Hour,
		now:    time.Now,
	}, nil
}

// WithClock returns a copy of j that stamps tokens using now.
func (j *JWTUtil) WithClock(now func() time.Time) *JWTUtil {
	cp := *j
	cp.now = now
	return &cp
}

// GenerateToken signs a token for the user. There is no refresh; the token
// expires after the configured window.
func (j *JWTUtil) GenerateToken(userID uuid.UUID, role model.Role, tenantID *uuid.UUID) (string, time.Time, error) {
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("cannot issue token for role %q", role)
	}
	if role.IsPlatform() != (tenantID == nil) {
		return "", time.Time{}, fmt.Errorf("role %q does not match tenant scope", role)
	}

	issuedAt := j.now()
	expiresAt := issuedAt.Add(j.ttl)
	claims := UserClaims{
		UserID:   userID,
		Role:     role,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    j.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature and expiry and returns the parsed claims.
// Every failure is reported as ErrInvalidToken wrapping the parser error.
func (j *JWTUtil) ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&UserClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return j.key, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}
	if claims.UserID == uuid.Nil || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: malformed identity", ErrInvalidToken)
	}
	if claims.Role.IsPlatform() != (claims.TenantID == nil) {
		return nil, fmt.Errorf("%w: role and tenant scope disagree", ErrInvalidToken)
	}
	return claims, nil
}
