// Package memory is an in-process implementation of store.Store used by tests
// and by the DB_DRIVER=memory development mode. Transactions are serialized
// and roll back by restoring a snapshot.
package memory

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
)

type data struct {
	tenants  map[uuid.UUID]model.Tenant
	users    map[uuid.UUID]model.User
	projects map[uuid.UUID]model.Project
	tasks    map[uuid.UUID]model.Task
	last     time.Time
}

func (d *data) clone() *data {
	cp := &data{
		tenants:  make(map[uuid.UUID]model.Tenant, len(d.tenants)),
		users:    make(map[uuid.UUID]model.User, len(d.users)),
		projects: make(map[uuid.UUID]model.Project, len(d.projects)),
		tasks:    make(map[uuid.UUID]model.Task, len(d.tasks)),
		last:     d.last,
	}
	for k, v := range d.tenants {
		cp.tenants[k] = v
	}
	for k, v := range d.users {
		cp.users[k] = v
	}
	for k, v := range d.projects {
		cp.projects[k] = v
	}
	for k, v := range d.tasks {
		cp.tasks[k] = v
	}
	return cp
}

// Store is a transactional in-memory store.
type Store struct {
	// txMu serializes writers: every transaction and every standalone write.
	txMu sync.Mutex
	// mu guards d and audit for the duration of a single operation.
	mu sync.Mutex
	d  *data

	auditMu  sync.Mutex
	audit    []model.AuditLog
	auditErr error
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{d: &data{
		tenants:  map[uuid.UUID]model.Tenant{},
		users:    map[uuid.UUID]model.User{},
		projects: map[uuid.UUID]model.Project{},
		tasks:    map[uuid.UUID]model.Task{},
	}}
}

// FailAuditWrites makes InsertAuditLog return err until called again with nil.
func (s *Store) FailAuditWrites(err error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	s.auditErr = err
}

// AuditLogs returns a copy of the audit entries written so far.
func (s *Store) AuditLogs() []model.AuditLog {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	out := make([]model.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) InsertAuditLog(ctx context.Context, entry *model.AuditLog) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if s.auditErr != nil {
		return s.auditErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entry.ID = uint64(len(s.audit) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, *entry)
	return nil
}

// Transaction runs fn with exclusive write access and restores the previous
// state if fn fails.
func (s *Store) Transaction(ctx context.Context, fn func(tx store.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.runTx(ctx, fn)
}

// WithTenantLock serializes with every other transaction, which subsumes a
// per-tenant row lock.
func (s *Store) WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(tx store.Querier, tenant *model.Tenant) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.runTx(ctx, func(tx store.Querier) error {
		tenant, err := tx.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		return fn(tx, tenant)
	})
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Querier) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	snapshot := s.d.clone()
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.restore(snapshot)
			panic(r)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()
	return fn(&querier{s: s})
}

func (s *Store) restore(snapshot *data) {
	s.mu.Lock()
	s.d = snapshot
	s.mu.Unlock()
}

// write runs a standalone mutation as its own transaction.
func (s *Store) write(ctx context.Context, fn func(q *querier) error) error {
	return s.Transaction(ctx, func(tx store.Querier) error {
		return fn(tx.(*querier))
	})
}

func (s *Store) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	return s.write(ctx, func(q *querier) error { return q.CreateTenant(ctx, tenant) })
}

func (s *Store) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	return s.write(ctx, func(q *querier) error { return q.UpdateTenant(ctx, tenant) })
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	return s.write(ctx, func(q *querier) error { return q.CreateUser(ctx, user) })
}

func (s *Store) UpdateUser(ctx context.Context, user *model.User) error {
	return s.write(ctx, func(q *querier) error { return q.UpdateUser(ctx, user) })
}

func (s *Store) CreateProject(ctx context.Context, project *model.Project) error {
	return s.write(ctx, func(q *querier) error { return q.CreateProject(ctx, project) })
}

func (s *Store) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(q *querier) error { return q.DeleteProject(ctx, id) })
}

func (s *Store) UpdateProject(ctx context.Context, project *model.Project) error {
	return s.write(ctx, func(q *querier) error { return q.UpdateProject(ctx, project) })
}

func (s *Store) CreateTask(ctx context.Context, task *model.Task) error {
	return s.write(ctx, func(q *querier) error { return q.CreateTask(ctx, task) })
}

func (s *Store) UpdateTask(ctx context.Context, task *model.Task) error {
	return s.write(ctx, func(q *querier) error { return q.UpdateTask(ctx, task) })
}

func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(q *querier) error { return q.DeleteTask(ctx, id) })
}

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	return (&querier{s: s}).GetTenant(ctx, id)
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return (&querier{s: s}).GetTenantBySlug(ctx, slug)
}

func (s *Store) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	return (&querier{s: s}).ListTenants(ctx)
}

func (s *Store) TenantCounts(ctx context.Context) (map[uuid.UUID]model.TenantCounts, error) {
	return (&querier{s: s}).TenantCounts(ctx)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return (&querier{s: s}).GetUser(ctx, id)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string, tenantID *uuid.UUID) (*model.User, error) {
	return (&querier{s: s}).FindUserByEmail(ctx, email, tenantID)
}

func (s *Store) ListUsers(ctx context.Context, tenantID *uuid.UUID) ([]model.User, error) {
	return (&querier{s: s}).ListUsers(ctx, tenantID)
}

func (s *Store) CountUsers(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return (&querier{s: s}).CountUsers(ctx, tenantID)
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	return (&querier{s: s}).GetProject(ctx, id)
}

func (s *Store) ListProjects(ctx context.Context, tenantID uuid.UUID) ([]model.Project, error) {
	return (&querier{s: s}).ListProjects(ctx, tenantID)
}

func (s *Store) CountProjects(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return (&querier{s: s}).CountProjects(ctx, tenantID)
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	return (&querier{s: s}).GetTask(ctx, id)
}

func (s *Store) ListTasks(ctx context.Context, projectID uuid.UUID) ([]model.Task, error) {
	return (&querier{s: s}).ListTasks(ctx, projectID)
}

func (s *Store) ListOpenTasks(ctx context.Context, tenantID, userID uuid.UUID) ([]model.Task, error) {
	return (&querier{s: s}).ListOpenTasks(ctx, tenantID, userID)
}

// querier operates on the live data under mu. Callers that mutate must hold txMu.
type querier struct {
	s *Store
}

func (q *querier) lock() func() {
	q.s.mu.Lock()
	return q.s.mu.Unlock
}

// stamp returns a strictly increasing timestamp so ordering by CreatedAt is stable.
func (q *querier) stamp() time.Time {
	now := time.Now().UTC()
	if !now.After(q.s.d.last) {
		now = q.s.d.last.Add(time.Microsecond)
	}
	q.s.d.last = now
	return now
}

func (q *querier) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	defer q.lock()()
	for _, t := range q.s.d.tenants {
		if t.Slug == tenant.Slug {
			return store.ErrDuplicate
		}
	}
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	now := q.stamp()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	q.s.d.tenants[tenant.ID] = *tenant
	return nil
}

func (q *querier) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	defer q.lock()()
	t, ok := q.s.d.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (q *querier) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	defer q.lock()()
	for _, t := range q.s.d.tenants {
		if t.Slug == slug {
			t := t
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (q *querier) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	defer q.lock()()
	out := make([]model.Tenant, 0, len(q.s.d.tenants))
	for _, t := range q.s.d.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *querier) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	defer q.lock()()
	current, ok := q.s.d.tenants[tenant.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Name = tenant.Name
	current.Status = tenant.Status
	current.Plan = tenant.Plan
	current.MaxUsers = tenant.MaxUsers
	current.MaxProjects = tenant.MaxProjects
	current.UpdatedAt = q.stamp()
	q.s.d.tenants[tenant.ID] = current
	return nil
}

func (q *querier) TenantCounts(ctx context.Context) (map[uuid.UUID]model.TenantCounts, error) {
	defer q.lock()()
	counts := make(map[uuid.UUID]model.TenantCounts)
	for _, u := range q.s.d.users {
		if u.TenantID == nil {
			continue
		}
		c := counts[*u.TenantID]
		c.Users++
		counts[*u.TenantID] = c
	}
	for _, p := range q.s.d.projects {
		c := counts[p.TenantID]
		c.Projects++
		counts[p.TenantID] = c
	}
	return counts, nil
}

func sameTenant(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (q *querier) CreateUser(ctx context.Context, user *model.User) error {
	defer q.lock()()
	user.Email = strings.ToLower(user.Email)
	for _, u := range q.s.d.users {
		if u.Email == user.Email && sameTenant(u.TenantID, user.TenantID) {
			return store.ErrDuplicate
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := q.stamp()
	user.CreatedAt, user.UpdatedAt = now, now
	q.s.d.users[user.ID] = *user
	return nil
}

func (q *querier) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	defer q.lock()()
	u, ok := q.s.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (q *querier) FindUserByEmail(ctx context.Context, email string, tenantID *uuid.UUID) (*model.User, error) {
	defer q.lock()()
	email = strings.ToLower(email)
	for _, u := range q.s.d.users {
		if u.Email == email && sameTenant(u.TenantID, tenantID) {
			u := u
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (q *querier) UpdateUser(ctx context.Context, user *model.User) error {
	defer q.lock()()
	current, ok := q.s.d.users[user.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.FullName = user.FullName
	current.PasswordHash = user.PasswordHash
	current.Active = user.Active
	current.UpdatedAt = q.stamp()
	q.s.d.users[user.ID] = current
	return nil
}

func (q *querier) ListUsers(ctx context.Context, tenantID *uuid.UUID) ([]model.User, error) {
	defer q.lock()()
	out := make([]model.User, 0)
	for _, u := range q.s.d.users {
		if tenantID == nil || sameTenant(u.TenantID, tenantID) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *querier) CountUsers(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	unlock := q.lock()
	var n int64
	for _, u := range q.s.d.users {
		if u.TenantID != nil && *u.TenantID == tenantID {
			n++
		}
	}
	unlock()
	// widen the gap between count and insert so unlocked callers would race
	runtime.Gosched()
	return n, nil
}

func (q *querier) CreateProject(ctx context.Context, project *model.Project) error {
	defer q.lock()()
	if _, ok := q.s.d.tenants[project.TenantID]; !ok {
		return store.ErrNotFound
	}
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	if project.Status == "" {
		project.Status = model.ProjectStatusActive
	}
	now := q.stamp()
	project.CreatedAt, project.UpdatedAt = now, now
	q.s.d.projects[project.ID] = *project
	return nil
}

func (q *querier) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	defer q.lock()()
	p, ok := q.s.d.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (q *querier) ListProjects(ctx context.Context, tenantID uuid.UUID) ([]model.Project, error) {
	defer q.lock()()
	out := make([]model.Project, 0)
	for _, p := range q.s.d.projects {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *querier) UpdateProject(ctx context.Context, project *model.Project) error {
	defer q.lock()()
	current, ok := q.s.d.projects[project.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Name = project.Name
	current.Description = project.Description
	current.Status = project.Status
	current.UpdatedAt = q.stamp()
	q.s.d.projects[project.ID] = current
	return nil
}

func (q *querier) DeleteProject(ctx context.Context, id uuid.UUID) error {
	defer q.lock()()
	if _, ok := q.s.d.projects[id]; !ok {
		return store.ErrNotFound
	}
	delete(q.s.d.projects, id)
	for taskID, t := range q.s.d.tasks {
		if t.ProjectID == id {
			delete(q.s.d.tasks, taskID)
		}
	}
	return nil
}

func (q *querier) CountProjects(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	unlock := q.lock()
	var n int64
	for _, p := range q.s.d.projects {
		if p.TenantID == tenantID {
			n++
		}
	}
	unlock()
	runtime.Gosched()
	return n, nil
}

func (q *querier) CreateTask(ctx context.Context, task *model.Task) error {
	defer q.lock()()
	if _, ok := q.s.d.projects[task.ProjectID]; !ok {
		return store.ErrNotFound
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusTodo
	}
	if task.Priority == "" {
		task.Priority = model.TaskPriorityMedium
	}
	now := q.stamp()
	task.CreatedAt, task.UpdatedAt = now, now
	q.s.d.tasks[task.ID] = *task
	return nil
}

func (q *querier) ListTasks(ctx context.Context, projectID uuid.UUID) ([]model.Task, error) {
	defer q.lock()()
	out := make([]model.Task, 0)
	for _, t := range q.s.d.tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *querier) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	defer q.lock()()
	t, ok := q.s.d.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (q *querier) ListOpenTasks(ctx context.Context, tenantID, userID uuid.UUID) ([]model.Task, error) {
	defer q.lock()()
	out := make([]model.Task, 0)
	for _, t := range q.s.d.tasks {
		if t.TenantID == tenantID && t.AssigneeID != nil && *t.AssigneeID == userID && t.Status != model.TaskStatusDone {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DueDate, out[j].DueDate
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (q *querier) UpdateTask(ctx context.Context, task *model.Task) error {
	defer q.lock()()
	current, ok := q.s.d.tasks[task.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Title = task.Title
	current.Description = task.Description
	current.Status = task.Status
	current.Priority = task.Priority
	current.AssigneeID = task.AssigneeID
	current.DueDate = task.DueDate
	current.UpdatedAt = q.stamp()
	q.s.d.tasks[task.ID] = current
	return nil
}

func (q *querier) DeleteTask(ctx context.Context, id uuid.UUID) error {
	defer q.lock()()
	if _, ok := q.s.d.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(q.s.d.tasks, id)
	return nil
}
