package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
	"github.com/suteetoe/tenantgate/prometheus"
)

// ResourceKind is a tenant resource counted against a plan cap.
type ResourceKind string

const (
	ResourceUsers    ResourceKind = "users"
	ResourceProjects ResourceKind = "projects"
)

// QuotaError reports a denied reservation. It unwraps to a Forbidden apperror
// so handlers render it like any other access denial.
type QuotaError struct {
	Kind  ResourceKind
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exceeded (limit %d)", e.Kind, e.Limit)
}

func (e *QuotaError) Unwrap() error {
	return apperror.Forbidden("quota_exceeded", e.Error()).
		WithDetail("resource", string(e.Kind)).
		WithDetail("limit", e.Limit)
}

// Usage is the current consumption of a tenant against its caps.
type Usage struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	Plan        string    `json:"plan"`
	Users       int64     `json:"users"`
	MaxUsers    int       `json:"max_users"`
	Projects    int64     `json:"projects"`
	MaxProjects int       `json:"max_projects"`
}

// QuotaEnforcer reserves capacity and creates the resource in one locked
// transaction, so concurrent reservations for a tenant are linearized.
type QuotaEnforcer struct {
	store store.Store
	log   *zap.Logger
}

func NewQuotaEnforcer(st store.Store, log *zap.Logger) *QuotaEnforcer {
	return &QuotaEnforcer{store: st, log: log.Named("quota")}
}

// Reserve counts kind for tenantID under the tenant row lock and runs create
// in the same transaction only when a slot is free. A denial returns
// *QuotaError and creates nothing. Errors from create roll back and are
// returned unchanged, as is store.ErrNotFound for an unknown tenant.
func (q *QuotaEnforcer) Reserve(ctx context.Context, tenantID uuid.UUID, kind ResourceKind, create func(tx store.Querier) error) error {
	err := q.store.WithTenantLock(ctx, tenantID, func(tx store.Querier, tenant *model.Tenant) error {
		var (
			count int64
			limit int
			err   error
		)
		switch kind {
		case ResourceUsers:
			count, err = tx.CountUsers(ctx, tenantID)
			limit = tenant.MaxUsers
		case ResourceProjects:
			count, err = tx.CountProjects(ctx, tenantID)
			limit = tenant.MaxProjects
		default:
			return fmt.Errorf("unknown resource kind %q", kind)
		}
		if err != nil {
			return err
		}

		if count >= int64(limit) {
			q.log.Info("Quota reservation denied",
				zap.String("tenant_id", tenantID.String()),
				zap.String("kind", string(kind)),
				zap.Int64("count", count),
				zap.Int("limit", limit))
			return &QuotaError{Kind: kind, Limit: limit}
		}
		return create(tx)
	})

	var quotaErr *QuotaError
	switch {
	case err == nil:
		prometheus.RecordQuotaDecision(string(kind), true)
		return nil
	case errors.As(err, &quotaErr):
		prometheus.RecordQuotaDecision(string(kind), false)
		return quotaErr
	default:
		return err
	}
}

// Usage returns counts and caps for tenantID.
func (q *QuotaEnforcer) Usage(ctx context.Context, tenantID uuid.UUID) (*Usage, error) {
	tenant, err := q.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, storeError(err, apperror.NotFound("tenant_not_found", "tenant not found"), nil)
	}
	users, err := q.store.CountUsers(ctx, tenantID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	projects, err := q.store.CountProjects(ctx, tenantID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return &Usage{
		TenantID:    tenant.ID,
		Plan:        tenant.Plan,
		Users:       users,
		MaxUsers:    tenant.MaxUsers,
		Projects:    projects,
		MaxProjects: tenant.MaxProjects,
	}, nil
}
