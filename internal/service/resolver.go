package service

import (
	"context"
	"strings"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
)

// TenantResolver maps a workspace slug to a tenant and checks that it may
// accept logins.
type TenantResolver struct {
	store store.Querier
}

func NewTenantResolver(st store.Querier) *TenantResolver {
	return &TenantResolver{store: st}
}

// Resolve returns (nil, nil) for an empty slug, which selects the platform
// admin path. A suspended tenant is rejected here, before any credential work.
func (r *TenantResolver) Resolve(ctx context.Context, slug string) (*model.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, nil
	}

	tenant, err := r.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, storeError(err,
			apperror.NotFound("workspace_not_found", "workspace not found").WithDetail("workspace", slug), nil)
	}
	if tenant.Status == model.TenantStatusSuspended {
		return nil, apperror.Forbidden("workspace_suspended", "workspace suspended").WithDetail("workspace", slug)
	}
	return tenant, nil
}
