package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/service"
)

type userResponse struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Role      model.Role `json:"role"`
	TenantID  *uuid.UUID `json:"tenant_id,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		TenantID:  u.TenantID,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

func newUserList(users []model.User) []userResponse {
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, newUserResponse(&users[i]))
	}
	return out
}

type tenantResponse struct {
	ID          uuid.UUID          `json:"id"`
	Name        string             `json:"name"`
	Slug        string             `json:"slug"`
	Status      model.TenantStatus `json:"status"`
	Plan        string             `json:"plan"`
	MaxUsers    int                `json:"max_users"`
	MaxProjects int                `json:"max_projects"`
	CreatedAt   time.Time          `json:"created_at"`
}

func newTenantResponse(t *model.Tenant) *tenantResponse {
	if t == nil {
		return nil
	}
	return &tenantResponse{
		ID:          t.ID,
		Name:        t.Name,
		Slug:        t.Slug,
		Status:      t.Status,
		Plan:        t.Plan,
		MaxUsers:    t.MaxUsers,
		MaxProjects: t.MaxProjects,
		CreatedAt:   t.CreatedAt,
	}
}

type tenantSummaryResponse struct {
	tenantResponse
	UserCount    int64 `json:"user_count"`
	ProjectCount int64 `json:"project_count"`
}

func newTenantSummary(t *service.TenantSummary) tenantSummaryResponse {
	return tenantSummaryResponse{
		tenantResponse: *newTenantResponse(&t.Tenant),
		UserCount:      t.UserCount,
		ProjectCount:   t.ProjectCount,
	}
}
