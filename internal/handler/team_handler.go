package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/suteetoe/tenantgate/internal/middleware"
	"github.com/suteetoe/tenantgate/internal/service"
)

type TeamHandler struct {
	team *service.TeamService
}

func NewTeamHandler(team *service.TeamService) *TeamHandler {
	return &TeamHandler{team: team}
}

// AddMember creates a user in the caller's tenant.
func (h *TeamHandler) AddMember(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	var req service.MemberInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.IPAddress = c.RealIP()

	user, err := h.team.AddMember(c.Request().Context(), claim, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": newUserResponse(user)})
}

// ListMembers lists the caller's tenant roster.
func (h *TeamHandler) ListMembers(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	users, err := h.team.ListMembers(c.Request().Context(), claim)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"users": newUserList(users)})
}
