package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
	"github.com/suteetoe/tenantgate/prometheus"
)

// PostgreSQL SQLSTATE codes.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store implements store.Store on gorm.
type Store struct {
	queries
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an open gorm connection. timeout bounds every standalone
// query and every transaction as a whole; zero leaves the caller's context
// untouched.
func NewStore(db *gorm.DB, timeout time.Duration) *Store {
	return &Store{queries: queries{db: db, timeout: timeout}}
}

// boundContext applies timeout to ctx unless timeout is zero or ctx already
// ends sooner.
func boundContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// Transaction runs fn inside a gorm transaction; gorm rolls back when fn errors or panics.
func (s *Store) Transaction(ctx context.Context, fn func(tx store.Querier) error) error {
	db, done := s.session(ctx, "transaction")
	defer done()

	return db.Transaction(func(tx *gorm.DB) error {
		return fn(&queries{db: tx})
	})
}

// WithTenantLock takes SELECT ... FOR UPDATE on the tenant row so that every
// reservation for the same tenant runs count and insert under one lock.
func (s *Store) WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(tx store.Querier, tenant *model.Tenant) error) error {
	db, done := s.session(ctx, "locked_transaction")
	defer done()

	return db.Transaction(func(tx *gorm.DB) error {
		var tenant model.Tenant
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tenantID).
			First(&tenant).Error
		if err != nil {
			return translate(err)
		}
		return fn(&queries{db: tx}, &tenant)
	})
}

// InsertAuditLog appends one audit row.
func (s *Store) InsertAuditLog(ctx context.Context, entry *model.AuditLog) error {
	db, done := s.session(ctx, "insert")
	defer done()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return translate(db.Create(entry).Error)
}

// queries implements store.Querier against either the pool or a transaction.
// Inside a transaction timeout is zero: the transaction's context already
// carries the deadline.
type queries struct {
	db      *gorm.DB
	timeout time.Duration
}

// session binds ctx (bounded by the query timeout) to the handle and starts
// the latency metric for op. The returned func must be deferred.
func (q *queries) session(ctx context.Context, op string) (*gorm.DB, func()) {
	ctx, cancel := boundContext(ctx, q.timeout)
	track := prometheus.TrackDBOperation(op)
	start := time.Now()
	return q.db.WithContext(ctx), func() {
		cancel()
		track(start)
	}
}

func (q *queries) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	db, done := q.session(ctx, "insert")
	defer done()
	return translate(db.Create(tenant).Error)
}

func (q *queries) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var tenant model.Tenant
	if err := db.Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, translate(err)
	}
	return &tenant, nil
}

func (q *queries) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var tenant model.Tenant
	if err := db.Where("slug = ?", slug).First(&tenant).Error; err != nil {
		return nil, translate(err)
	}
	return &tenant, nil
}

func (q *queries) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var tenants []model.Tenant
	if err := db.Order("created_at ASC").Find(&tenants).Error; err != nil {
		return nil, translate(err)
	}
	return tenants, nil
}

func (q *queries) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	db, done := q.session(ctx, "update")
	defer done()
	result := db.Model(&model.Tenant{}).
		Where("id = ?", tenant.ID).
		Updates(map[string]interface{}{
			"name":         tenant.Name,
			"status":       tenant.Status,
			"plan":         tenant.Plan,
			"max_users":    tenant.MaxUsers,
			"max_projects": tenant.MaxProjects,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type tenantCountRow struct {
	TenantID uuid.UUID
	Total    int64
}

func (q *queries) TenantCounts(ctx context.Context) (map[uuid.UUID]model.TenantCounts, error) {
	db, done := q.session(ctx, "query")
	defer done()

	var users, projects []tenantCountRow
	err := db.Model(&model.User{}).
		Select("tenant_id, COUNT(*) AS total").
		Where("tenant_id IS NOT NULL").
		Group("tenant_id").
		Scan(&users).Error
	if err != nil {
		return nil, translate(err)
	}
	err = db.Model(&model.Project{}).
		Select("tenant_id, COUNT(*) AS total").
		Group("tenant_id").
		Scan(&projects).Error
	if err != nil {
		return nil, translate(err)
	}

	counts := make(map[uuid.UUID]model.TenantCounts, len(users))
	for _, row := range users {
		c := counts[row.TenantID]
		c.Users = row.Total
		counts[row.TenantID] = c
	}
	for _, row := range projects {
		c := counts[row.TenantID]
		c.Projects = row.Total
		counts[row.TenantID] = c
	}
	return counts, nil
}

func (q *queries) CreateUser(ctx context.Context, user *model.User) error {
	db, done := q.session(ctx, "insert")
	defer done()
	user.Email = strings.ToLower(user.Email)
	return translate(db.Create(user).Error)
}

func (q *queries) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var user model.User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (q *queries) FindUserByEmail(ctx context.Context, email string, tenantID *uuid.UUID) (*model.User, error) {
	db, done := q.session(ctx, "query")
	defer done()
	query := db.Where("email = ?", strings.ToLower(email))
	if tenantID == nil {
		query = query.Where("tenant_id IS NULL")
	} else {
		query = query.Where("tenant_id = ?", *tenantID)
	}

	var user model.User
	if err := query.First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (q *queries) UpdateUser(ctx context.Context, user *model.User) error {
	db, done := q.session(ctx, "update")
	defer done()
	result := db.Model(&model.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"full_name":     user.FullName,
			"password_hash": user.PasswordHash,
			"active":        user.Active,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) ListUsers(ctx context.Context, tenantID *uuid.UUID) ([]model.User, error) {
	db, done := q.session(ctx, "query")
	defer done()
	query := db.Order("created_at ASC")
	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	}
	var users []model.User
	if err := query.Find(&users).Error; err != nil {
		return nil, translate(err)
	}
	return users, nil
}

func (q *queries) CountUsers(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var count int64
	err := db.Model(&model.User{}).Where("tenant_id = ?", tenantID).Count(&count).Error
	return count, translate(err)
}

func (q *queries) CreateProject(ctx context.Context, project *model.Project) error {
	db, done := q.session(ctx, "insert")
	defer done()
	if project.Status == "" {
		project.Status = model.ProjectStatusActive
	}
	return translate(db.Create(project).Error)
}

func (q *queries) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var project model.Project
	if err := db.Where("id = ?", id).First(&project).Error; err != nil {
		return nil, translate(err)
	}
	return &project, nil
}

func (q *queries) ListProjects(ctx context.Context, tenantID uuid.UUID) ([]model.Project, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var projects []model.Project
	err := db.Where("tenant_id = ?", tenantID).Order("created_at ASC").Find(&projects).Error
	if err != nil {
		return nil, translate(err)
	}
	return projects, nil
}

func (q *queries) UpdateProject(ctx context.Context, project *model.Project) error {
	db, done := q.session(ctx, "update")
	defer done()
	result := db.Model(&model.Project{}).
		Where("id = ?", project.ID).
		Updates(map[string]interface{}{
			"name":        project.Name,
			"description": project.Description,
			"status":      project.Status,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) DeleteProject(ctx context.Context, id uuid.UUID) error {
	db, done := q.session(ctx, "delete")
	defer done()
	if err := db.Where("project_id = ?", id).Delete(&model.Task{}).Error; err != nil {
		return translate(err)
	}
	result := db.Where("id = ?", id).Delete(&model.Project{})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) CountProjects(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var count int64
	err := db.Model(&model.Project{}).Where("tenant_id = ?", tenantID).Count(&count).Error
	return count, translate(err)
}

func (q *queries) CreateTask(ctx context.Context, task *model.Task) error {
	db, done := q.session(ctx, "insert")
	defer done()
	if task.Status == "" {
		task.Status = model.TaskStatusTodo
	}
	if task.Priority == "" {
		task.Priority = model.TaskPriorityMedium
	}
	return translate(db.Create(task).Error)
}

func (q *queries) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var task model.Task
	if err := db.Where("id = ?", id).First(&task).Error; err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

func (q *queries) ListTasks(ctx context.Context, projectID uuid.UUID) ([]model.Task, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var tasks []model.Task
	err := db.Where("project_id = ?", projectID).Order("created_at ASC").Find(&tasks).Error
	if err != nil {
		return nil, translate(err)
	}
	return tasks, nil
}

func (q *queries) ListOpenTasks(ctx context.Context, tenantID, userID uuid.UUID) ([]model.Task, error) {
	db, done := q.session(ctx, "query")
	defer done()
	var tasks []model.Task
	err := db.
		Where("tenant_id = ? AND assignee_id = ? AND status <> ?", tenantID, userID, model.TaskStatusDone).
		Order("due_date ASC NULLS LAST").
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, translate(err)
	}
	return tasks, nil
}

func (q *queries) UpdateTask(ctx context.Context, task *model.Task) error {
	db, done := q.session(ctx, "update")
	defer done()
	result := db.Model(&model.Task{}).
		Where("id = ?", task.ID).
		Updates(map[string]interface{}{
			"title":       task.Title,
			"description": task.Description,
			"status":      task.Status,
			"priority":    task.Priority,
			"assignee_id": task.AssigneeID,
			"due_date":    task.DueDate,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) DeleteTask(ctx context.Context, id uuid.UUID) error {
	db, done := q.session(ctx, "delete")
	defer done()
	result := db.Where("id = ?", id).Delete(&model.Task{})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Join(store.ErrDuplicate, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return errors.Join(store.ErrDuplicate, err)
		case foreignKeyViolation:
			// the referenced row was deleted after it was read
			return errors.Join(store.ErrNotFound, err)
		}
	}
	return err
}
