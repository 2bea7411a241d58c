package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/suteetoe/tenantgate/internal/model"
)

// Querier is the set of persistence operations available both on the shared
// store and inside a transaction.
type Querier interface {
	CreateTenant(ctx context.Context, tenant *model.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *model.Tenant) error
	// TenantCounts returns user and project counts keyed by tenant. Tenants
	// with neither are absent from the map.
	TenantCounts(ctx context.Context) (map[uuid.UUID]model.TenantCounts, error)

	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	// FindUserByEmail looks up a user by lower-cased email. A nil tenantID
	// restricts the search to users with no tenant.
	FindUserByEmail(ctx context.Context, email string, tenantID *uuid.UUID) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	// ListUsers returns the users of one tenant, or every user when tenantID is nil.
	ListUsers(ctx context.Context, tenantID *uuid.UUID) ([]model.User, error)
	CountUsers(ctx context.Context, tenantID uuid.UUID) (int64, error)

	CreateProject(ctx context.Context, project *model.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error)
	ListProjects(ctx context.Context, tenantID uuid.UUID) ([]model.Project, error)
	UpdateProject(ctx context.Context, project *model.Project) error
	DeleteProject(ctx context.Context, id uuid.UUID) error
	CountProjects(ctx context.Context, tenantID uuid.UUID) (int64, error)

	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error)
	ListTasks(ctx context.Context, projectID uuid.UUID) ([]model.Task, error)
	// ListOpenTasks returns the tasks of a tenant assigned to userID that are
	// not done, earliest due date first; tasks without a due date come last.
	ListOpenTasks(ctx context.Context, tenantID, userID uuid.UUID) ([]model.Task, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
}

// Store is the process-wide persistence handle, injected into every service.
type Store interface {
	Querier

	// Transaction runs fn in one transaction. Any error from fn rolls it back.
	Transaction(ctx context.Context, fn func(tx Querier) error) error

	// WithTenantLock runs fn in one transaction that holds an exclusive lock on
	// the tenant row until commit or rollback. Concurrent callers for the same
	// tenant are serialized. Returns ErrNotFound when the tenant does not exist.
	WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(tx Querier, tenant *model.Tenant) error) error

	InsertAuditLog(ctx context.Context, entry *model.AuditLog) error
}
