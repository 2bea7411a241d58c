package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/pkg/jwtutil"
	"github.com/suteetoe/tenantgate/pkg/logger"
	"github.com/suteetoe/tenantgate/prometheus"
)

const claimKey = "claim"

// JWTAuthMiddleware validates the bearer token and stores the claim in the
// echo context. Every failure is the same Unauthenticated error.
func JWTAuthMiddleware(jwtUtil *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				log.Debug("Missing authorization header")
				prometheus.RecordAuthError("missing_token")
				return apperror.Unauthenticated("missing_token", "missing authorization token")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				log.Debug("Invalid authorization header format")
				prometheus.RecordAuthError("invalid_auth_format")
				return apperror.Unauthenticated("invalid_token", "invalid or expired token")
			}

			claims, err := jwtUtil.ValidateToken(parts[1])
			if err != nil {
				log.Debug("Invalid or expired token", zap.Error(err))
				prometheus.RecordAuthError("invalid_token")
				return apperror.Unauthenticated("invalid_token", "invalid or expired token")
			}

			claim := claims.Claim()
			c.Set(claimKey, claim)

			fields := []zap.Field{
				zap.String("user_id", claim.UserID.String()),
				zap.String("role", claim.Role.String()),
			}
			if claim.TenantID != nil {
				fields = append(fields, zap.String("tenant_id", claim.TenantID.String()))
			}
			c.Set(logger.ContextKey, log.With(fields...))

			return next(c)
		}
	}
}

// ClaimFrom returns the claim stored by JWTAuthMiddleware.
func ClaimFrom(c echo.Context) (model.Claim, error) {
	claim, ok := c.Get(claimKey).(model.Claim)
	if !ok {
		return model.Claim{}, apperror.Unauthenticated("missing_token", "missing authorization token")
	}
	return claim, nil
}
