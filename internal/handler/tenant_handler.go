package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/middleware"
	"github.com/suteetoe/tenantgate/internal/service"
)

// TenantHandler serves platform admin endpoints and tenant usage.
type TenantHandler struct {
	tenants *service.TenantService
}

func NewTenantHandler(tenants *service.TenantService) *TenantHandler {
	return &TenantHandler{tenants: tenants}
}

func (h *TenantHandler) ListTenants(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	tenants, err := h.tenants.ListTenants(c.Request().Context(), claim)
	if err != nil {
		return err
	}
	out := make([]tenantSummaryResponse, 0, len(tenants))
	for i := range tenants {
		out = append(out, newTenantSummary(&tenants[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"tenants": out})
}

func (h *TenantHandler) UpdateTenant(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req service.TenantUpdate
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.IPAddress = c.RealIP()

	tenant, err := h.tenants.UpdateTenant(c.Request().Context(), claim, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"tenant": newTenantResponse(tenant)})
}

// ListAllUsers lists users across tenants; ?tenant_id= narrows to one tenant.
func (h *TenantHandler) ListAllUsers(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	var filter *uuid.UUID
	if raw := c.QueryParam("tenant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperror.Validation("invalid_id", "tenant_id must be a UUID")
		}
		filter = &id
	}
	users, err := h.tenants.ListAllUsers(c.Request().Context(), claim, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"users": newUserList(users)})
}

// ListTenantUsers lists the users of one tenant.
func (h *TenantHandler) ListTenantUsers(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	users, err := h.tenants.ListTenantUsers(c.Request().Context(), claim, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"users": newUserList(users)})
}

func (h *TenantHandler) Usage(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	usage, err := h.tenants.Usage(c.Request().Context(), claim)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"usage": usage})
}
