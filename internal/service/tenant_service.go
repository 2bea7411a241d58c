package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
	"github.com/suteetoe/tenantgate/internal/validate"
	"github.com/suteetoe/tenantgate/prometheus"
)

// TenantUpdate is a platform operator change to a tenant. Nil fields are kept.
// Changing the plan re-derives both caps from the plan catalog.
type TenantUpdate struct {
	Status    *string `json:"status" validate:"omitnil,oneofci=trial active suspended"`
	Plan      *string `json:"plan" validate:"omitnil,notblank,max=30"`
	IPAddress string  `json:"-"`
}

// TenantSummary is a tenant with its current user and project counts.
type TenantSummary struct {
	model.Tenant
	UserCount    int64
	ProjectCount int64
}

// TenantService holds platform-wide operations and tenant usage reporting.
type TenantService struct {
	store store.Store
	quota *QuotaEnforcer
	plans Plans
	audit AuditRecorder
	log   *zap.Logger
}

func NewTenantService(st store.Store, quota *QuotaEnforcer, plans Plans, recorder AuditRecorder, log *zap.Logger) *TenantService {
	return &TenantService{store: st, quota: quota, plans: plans, audit: recorder, log: log.Named("tenant")}
}

// ListTenants returns every tenant with its user and project counts.
func (s *TenantService) ListTenants(ctx context.Context, claim model.Claim) ([]TenantSummary, error) {
	if err := Authorize(claim, OpListTenants, nil); err != nil {
		return nil, err
	}
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	counts, err := s.store.TenantCounts(ctx)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	out := make([]TenantSummary, 0, len(tenants))
	for _, t := range tenants {
		c := counts[t.ID]
		out = append(out, TenantSummary{Tenant: t, UserCount: c.Users, ProjectCount: c.Projects})
	}
	return out, nil
}

// ListAllUsers returns users across tenants, or of one tenant when filter is set.
func (s *TenantService) ListAllUsers(ctx context.Context, claim model.Claim, filter *uuid.UUID) ([]model.User, error) {
	if err := Authorize(claim, OpListAllUsers, nil); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx, filter)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return users, nil
}

// ListTenantUsers returns the users of one tenant. An unknown tenant is NotFound.
func (s *TenantService) ListTenantUsers(ctx context.Context, claim model.Claim, tenantID uuid.UUID) ([]model.User, error) {
	if err := Authorize(claim, OpListAllUsers, nil); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return nil, storeError(err, apperror.NotFound("tenant_not_found", "tenant not found"), nil)
	}
	users, err := s.store.ListUsers(ctx, &tenantID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return users, nil
}

// UpdateTenant changes status and/or plan. Lowering a plan below current usage
// is allowed; further creations are then denied until usage drops.
func (s *TenantService) UpdateTenant(ctx context.Context, claim model.Claim, tenantID uuid.UUID, in TenantUpdate) (*model.Tenant, error) {
	if err := Authorize(claim, OpUpdateTenant, nil); err != nil {
		return nil, err
	}
	if in.Status == nil && in.Plan == nil {
		return nil, apperror.Validation("empty_update", "nothing to update")
	}

	if in.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*in.Status))
		in.Status = &status
	}
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}

	var plan string
	if in.Plan != nil {
		plan = strings.ToLower(strings.TrimSpace(*in.Plan))
		if _, ok := s.plans.Lookup(plan); !ok {
			return nil, apperror.Validation("invalid_plan", "unknown plan").WithDetail("plan", plan)
		}
	}

	var updated *model.Tenant
	err := s.store.WithTenantLock(ctx, tenantID, func(tx store.Querier, tenant *model.Tenant) error {
		if in.Status != nil {
			tenant.Status = model.TenantStatus(*in.Status)
		}
		if in.Plan != nil {
			limits, _ := s.plans.Lookup(plan)
			tenant.Plan = plan
			tenant.MaxUsers = limits.MaxUsers
			tenant.MaxProjects = limits.MaxProjects
		}
		if err := tx.UpdateTenant(ctx, tenant); err != nil {
			return err
		}
		updated = tenant
		return nil
	})
	if err != nil {
		return nil, storeError(err, apperror.NotFound("tenant_not_found", "tenant not found"), nil)
	}

	prometheus.RecordTenantOperation("update_tenant")
	s.audit.Record(model.AuditLog{
		TenantID:   &updated.ID,
		UserID:     &claim.UserID,
		Action:     model.ActionTenantUpdated,
		EntityType: "tenant",
		EntityID:   updated.ID.String(),
		IPAddress:  in.IPAddress,
	})
	s.log.Info("Tenant updated",
		zap.String("tenant_id", updated.ID.String()),
		zap.String("status", string(updated.Status)),
		zap.String("plan", updated.Plan))
	return updated, nil
}

// Usage reports the caller's tenant consumption against its caps.
func (s *TenantService) Usage(ctx context.Context, claim model.Claim) (*Usage, error) {
	if err := Authorize(claim, OpViewTenantUsage, nil); err != nil {
		return nil, err
	}
	return s.quota.Usage(ctx, *claim.TenantID)
}
