package service

import (
	"strings"

	"github.com/google/uuid"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
)

// Operation names a privileged action guarded by Authorize.
type Operation string

const (
	OpListTenants     Operation = "list_tenants"
	OpUpdateTenant    Operation = "update_tenant"
	OpListAllUsers    Operation = "list_all_users"
	OpInviteMember    Operation = "invite_member"
	OpListMembers     Operation = "list_members"
	OpDeleteProject   Operation = "delete_project"
	OpCreateProject   Operation = "create_project"
	OpListProjects    Operation = "list_projects"
	OpCreateTask      Operation = "create_task"
	OpListTasks       Operation = "list_tasks"
	OpViewProject     Operation = "view_project"
	OpUpdateProject   Operation = "update_project"
	OpViewTask        Operation = "view_task"
	OpUpdateTask      Operation = "update_task"
	OpDeleteTask      Operation = "delete_task"
	OpListMyTasks     Operation = "list_my_tasks"
	OpViewTenantUsage Operation = "view_tenant_usage"
)

type policy struct {
	roles        []model.Role
	tenantScoped bool
}

// Roles are not ordered: a super admin holds no tenant and may not act inside one.
var policies = map[Operation]policy{
	OpListTenants:     {roles: []model.Role{model.RoleSuperAdmin}},
	OpUpdateTenant:    {roles: []model.Role{model.RoleSuperAdmin}},
	OpListAllUsers:    {roles: []model.Role{model.RoleSuperAdmin}},
	OpInviteMember:    {roles: []model.Role{model.RoleTenantAdmin}, tenantScoped: true},
	OpDeleteProject:   {roles: []model.Role{model.RoleTenantAdmin}, tenantScoped: true},
	OpViewTenantUsage: {roles: []model.Role{model.RoleTenantAdmin}, tenantScoped: true},
	OpListMembers:     {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpCreateProject:   {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpListProjects:    {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpCreateTask:      {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpListTasks:       {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpViewProject:     {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpUpdateProject:   {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpViewTask:        {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpUpdateTask:      {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpDeleteTask:      {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
	OpListMyTasks:     {roles: []model.Role{model.RoleTenantAdmin, model.RoleUser}, tenantScoped: true},
}

// Authorize decides whether claim may perform op. For tenant-scoped
// operations resourceTenant is the tenant owning the target; nil means the
// operation acts inside the caller's own tenant (e.g. a create). A tenant
// mismatch is always Forbidden, never NotFound.
func Authorize(claim model.Claim, op Operation, resourceTenant *uuid.UUID) error {
	p, ok := policies[op]
	if !ok {
		return apperror.Forbidden("operation_not_allowed", "operation not allowed").WithDetail("operation", string(op))
	}

	if !hasRole(p.roles, claim.Role) {
		names := make([]string, len(p.roles))
		for i, r := range p.roles {
			names[i] = r.String()
		}
		return apperror.Forbidden("insufficient_role", "requires role "+strings.Join(names, " or ")).
			WithDetail("required_roles", names)
	}

	if !p.tenantScoped {
		return nil
	}
	if claim.TenantID == nil {
		return apperror.Forbidden("tenant_required", "operation requires a tenant context")
	}
	if resourceTenant != nil && !claim.InTenant(*resourceTenant) {
		return apperror.Forbidden("tenant_mismatch", "resource belongs to another tenant")
	}
	return nil
}

func hasRole(roles []model.Role, role model.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
