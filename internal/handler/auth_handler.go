package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/suteetoe/tenantgate/internal/middleware"
	"github.com/suteetoe/tenantgate/internal/service"
)

// AuthHandler serves registration, login and the caller's own profile.
type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Register creates a tenant and its first admin.
func (h *AuthHandler) Register(c echo.Context) error {
	var req service.RegisterInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.IPAddress = c.RealIP()

	res, err := h.auth.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"tenant": newTenantResponse(res.Tenant),
		"user":   newUserResponse(res.User),
	})
}

// Login issues a session token. workspace is omitted for platform admins.
func (h *AuthHandler) Login(c echo.Context) error {
	var req service.LoginInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.IPAddress = c.RealIP()

	res, err := h.auth.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"token":      res.Token,
		"token_type": "Bearer",
		"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
		"user":       newUserResponse(res.User),
		"tenant":     newTenantResponse(res.Tenant),
	})
}

// Me returns the authenticated identity and its tenant.
func (h *AuthHandler) Me(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	user, tenant, err := h.auth.Me(c.Request().Context(), claim)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user":   newUserResponse(user),
		"tenant": newTenantResponse(tenant),
	})
}

// UpdateProfile changes the caller's display name and/or password.
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	var req service.ProfileInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.IPAddress = c.RealIP()

	user, err := h.auth.UpdateProfile(c.Request().Context(), claim, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"user": newUserResponse(user)})
}
