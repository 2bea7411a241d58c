package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/middleware"
	"github.com/suteetoe/tenantgate/internal/service"
)

type ProjectHandler struct {
	projects *service.ProjectService
}

func NewProjectHandler(projects *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid_id", name+" must be a UUID")
	}
	return id, nil
}

func (h *ProjectHandler) CreateProject(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	var req service.ProjectInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.IPAddress = c.RealIP()

	project, err := h.projects.CreateProject(c.Request().Context(), claim, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"project": project})
}

func (h *ProjectHandler) ListProjects(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	projects, err := h.projects.ListProjects(c.Request().Context(), claim)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"projects": projects})
}

func (h *ProjectHandler) GetProject(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	project, err := h.projects.GetProject(c.Request().Context(), claim, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"project": project})
}

func (h *ProjectHandler) UpdateProject(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req service.ProjectUpdate
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.IPAddress = c.RealIP()

	project, err := h.projects.UpdateProject(c.Request().Context(), claim, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"project": project})
}

func (h *ProjectHandler) DeleteProject(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.projects.DeleteProject(c.Request().Context(), claim, id, c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ProjectHandler) CreateTask(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	projectID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req service.TaskInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.IPAddress = c.RealIP()

	task, err := h.projects.CreateTask(c.Request().Context(), claim, projectID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"task": task})
}

func (h *ProjectHandler) ListTasks(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	projectID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	tasks, err := h.projects.ListTasks(c.Request().Context(), claim, projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"tasks": tasks})
}

// ListMyTasks lists the open tasks assigned to the caller.
func (h *ProjectHandler) ListMyTasks(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	tasks, err := h.projects.ListMyTasks(c.Request().Context(), claim)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"tasks": tasks})
}

func (h *ProjectHandler) GetTask(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	task, err := h.projects.GetTask(c.Request().Context(), claim, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"task": task})
}

func (h *ProjectHandler) UpdateTask(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req service.TaskUpdate
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.IPAddress = c.RealIP()

	task, err := h.projects.UpdateTask(c.Request().Context(), claim, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"task": task})
}

func (h *ProjectHandler) DeleteTask(c echo.Context) error {
	claim, err := middleware.ClaimFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.projects.DeleteTask(c.Request().Context(), claim, id, c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
