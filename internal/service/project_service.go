package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
	"github.com/suteetoe/tenantgate/internal/validate"
	"github.com/suteetoe/tenantgate/prometheus"
)

// ProjectInput creates a project.
type ProjectInput struct {
	Name        string `json:"name" validate:"required,notblank,max=255"`
	Description string `json:"description" validate:"max=5000"`
	IPAddress   string `json:"-"`
}

// ProjectUpdate changes a project. Nil fields are left unchanged.
type ProjectUpdate struct {
	Name        *string `json:"name" validate:"omitnil,notblank,max=255"`
	Description *string `json:"description" validate:"omitnil,max=5000"`
	Status      *string `json:"status" validate:"omitnil,oneofci=active completed archived"`
	IPAddress   string  `json:"-"`
}

// TaskInput creates a task in a project. Status defaults to todo and
// priority to medium.
type TaskInput struct {
	Title       string     `json:"title" validate:"required,notblank,max=255"`
	Description string     `json:"description" validate:"max=5000"`
	Status      string     `json:"status" validate:"omitempty,oneofci=todo in_progress done"`
	Priority    string     `json:"priority" validate:"omitempty,oneofci=low medium high"`
	AssigneeID  *uuid.UUID `json:"assignee_id"`
	DueDate     *time.Time `json:"due_date"`
	IPAddress   string     `json:"-"`
}

// TaskUpdate changes a task. Nil fields are left unchanged, so an assignee
// or due date can be replaced but not cleared.
type TaskUpdate struct {
	Title       *string    `json:"title" validate:"omitnil,notblank,max=255"`
	Description *string    `json:"description" validate:"omitnil,max=5000"`
	Status      *string    `json:"status" validate:"omitnil,oneofci=todo in_progress done"`
	Priority    *string    `json:"priority" validate:"omitnil,oneofci=low medium high"`
	AssigneeID  *uuid.UUID `json:"assignee_id"`
	DueDate     *time.Time `json:"due_date"`
	IPAddress   string     `json:"-"`
}

func (u TaskUpdate) empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil &&
		u.Priority == nil && u.AssigneeID == nil && u.DueDate == nil
}

// ProjectService manages projects and their tasks.
type ProjectService struct {
	store store.Store
	quota *QuotaEnforcer
	audit AuditRecorder
	log   *zap.Logger
}

func NewProjectService(st store.Store, quota *QuotaEnforcer, recorder AuditRecorder, log *zap.Logger) *ProjectService {
	return &ProjectService{store: st, quota: quota, audit: recorder, log: log.Named("project")}
}

var (
	errProjectNotFound = apperror.NotFound("project_not_found", "project not found")
	errTaskNotFound    = apperror.NotFound("task_not_found", "task not found")
)

// denied logs a refused cross-tenant access. err is returned unchanged.
func (s *ProjectService) denied(err error, action string, id uuid.UUID, claim model.Claim) error {
	if apperror.Is(err, apperror.KindForbidden) {
		prometheus.RecordAuthError("tenant_mismatch")
		s.log.Warn("Cross-tenant access denied",
			zap.String("action", action),
			zap.String("resource_id", id.String()),
			zap.String("user_id", claim.UserID.String()))
	}
	return err
}

// CreateProject creates a project in the caller's tenant under the projects quota.
func (s *ProjectService) CreateProject(ctx context.Context, claim model.Claim, in ProjectInput) (*model.Project, error) {
	if err := Authorize(claim, OpCreateProject, nil); err != nil {
		return nil, err
	}
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}

	tenantID := *claim.TenantID
	project := &model.Project{
		TenantID:    tenantID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Status:      model.ProjectStatusActive,
		CreatedBy:   claim.UserID,
	}
	err := s.quota.Reserve(ctx, tenantID, ResourceProjects, func(tx store.Querier) error {
		return tx.CreateProject(ctx, project)
	})
	if err != nil {
		return nil, storeError(err, apperror.NotFound("tenant_not_found", "tenant not found"), nil)
	}

	prometheus.RecordTenantOperation("create_project")
	s.audit.Record(model.AuditLog{
		TenantID:   &tenantID,
		UserID:     &claim.UserID,
		Action:     model.ActionProjectCreated,
		EntityType: "project",
		EntityID:   project.ID.String(),
		IPAddress:  in.IPAddress,
	})
	return project, nil
}

// ListProjects returns the projects of the caller's tenant.
func (s *ProjectService) ListProjects(ctx context.Context, claim model.Claim) ([]model.Project, error) {
	if err := Authorize(claim, OpListProjects, nil); err != nil {
		return nil, err
	}
	projects, err := s.store.ListProjects(ctx, *claim.TenantID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return projects, nil
}

// GetProject returns one project of the caller's tenant.
func (s *ProjectService) GetProject(ctx context.Context, claim model.Claim, projectID uuid.UUID) (*model.Project, error) {
	if err := Authorize(claim, OpViewProject, nil); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, storeError(err, errProjectNotFound, nil)
	}
	if err := Authorize(claim, OpViewProject, &project.TenantID); err != nil {
		return nil, s.denied(err, "view_project", projectID, claim)
	}
	return project, nil
}

// UpdateProject changes the name, description or status of a project.
func (s *ProjectService) UpdateProject(ctx context.Context, claim model.Claim, projectID uuid.UUID, in ProjectUpdate) (*model.Project, error) {
	if err := Authorize(claim, OpUpdateProject, nil); err != nil {
		return nil, err
	}
	if in.Name == nil && in.Description == nil && in.Status == nil {
		return nil, apperror.Validation("empty_update", "nothing to update")
	}
	if in.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*in.Status))
		in.Status = &status
	}
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}

	var updated *model.Project
	err := s.store.Transaction(ctx, func(tx store.Querier) error {
		project, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if err := Authorize(claim, OpUpdateProject, &project.TenantID); err != nil {
			return err
		}
		if in.Name != nil {
			project.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			project.Description = *in.Description
		}
		if in.Status != nil {
			project.Status = model.ProjectStatus(*in.Status)
		}
		if err := tx.UpdateProject(ctx, project); err != nil {
			return err
		}
		updated = project
		return nil
	})
	if err != nil {
		return nil, storeError(s.denied(err, "update_project", projectID, claim), errProjectNotFound, nil)
	}

	s.audit.Record(model.AuditLog{
		TenantID:   &updated.TenantID,
		UserID:     &claim.UserID,
		Action:     model.ActionProjectUpdated,
		EntityType: "project",
		EntityID:   updated.ID.String(),
		IPAddress:  in.IPAddress,
	})
	return updated, nil
}

// DeleteProject removes a project and its tasks. A project owned by another
// tenant is Forbidden and left untouched.
func (s *ProjectService) DeleteProject(ctx context.Context, claim model.Claim, projectID uuid.UUID, ip string) error {
	// role check first so a plain user learns nothing about the project
	if err := Authorize(claim, OpDeleteProject, nil); err != nil {
		return err
	}

	err := s.store.Transaction(ctx, func(tx store.Querier) error {
		project, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if err := Authorize(claim, OpDeleteProject, &project.TenantID); err != nil {
			return err
		}
		return tx.DeleteProject(ctx, projectID)
	})
	if err != nil {
		return storeError(s.denied(err, "delete_project", projectID, claim), errProjectNotFound, nil)
	}

	prometheus.RecordTenantOperation("delete_project")
	s.audit.Record(model.AuditLog{
		TenantID:   claim.TenantID,
		UserID:     &claim.UserID,
		Action:     model.ActionProjectDeleted,
		EntityType: "project",
		EntityID:   projectID.String(),
		IPAddress:  ip,
	})
	return nil
}

// checkAssignee requires assigneeID, when set, to be a user of tenantID.
func checkAssignee(ctx context.Context, tx store.Querier, assigneeID *uuid.UUID, tenantID uuid.UUID) error {
	if assigneeID == nil {
		return nil
	}
	assignee, err := tx.GetUser(ctx, *assigneeID)
	if err != nil {
		return storeError(err, apperror.Validation("invalid_assignee", "assignee not found"), nil)
	}
	if assignee.TenantID == nil || *assignee.TenantID != tenantID {
		return apperror.Validation("invalid_assignee", "assignee is not a member of this workspace")
	}
	return nil
}

// CreateTask adds a task to a project of the caller's tenant. The assignee,
// when set, must be a member of the same tenant. The project lookup and the
// insert share one transaction.
func (s *ProjectService) CreateTask(ctx context.Context, claim model.Claim, projectID uuid.UUID, in TaskInput) (*model.Task, error) {
	if err := Authorize(claim, OpCreateTask, nil); err != nil {
		return nil, err
	}
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	in.Priority = strings.ToLower(strings.TrimSpace(in.Priority))
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}

	task := &model.Task{
		ProjectID:   projectID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      model.TaskStatusTodo,
		Priority:    model.TaskPriorityMedium,
		AssigneeID:  in.AssigneeID,
		DueDate:     in.DueDate,
		CreatedBy:   claim.UserID,
	}
	if in.Status != "" {
		task.Status = model.TaskStatus(in.Status)
	}
	if in.Priority != "" {
		task.Priority = model.TaskPriority(in.Priority)
	}

	err := s.store.Transaction(ctx, func(tx store.Querier) error {
		project, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if err := Authorize(claim, OpCreateTask, &project.TenantID); err != nil {
			return err
		}
		if err := checkAssignee(ctx, tx, in.AssigneeID, project.TenantID); err != nil {
			return err
		}
		task.TenantID = project.TenantID
		return tx.CreateTask(ctx, task)
	})
	if err != nil {
		return nil, storeError(s.denied(err, "create_task", projectID, claim), errProjectNotFound, nil)
	}

	prometheus.RecordTenantOperation("create_task")
	s.audit.Record(model.AuditLog{
		TenantID:   &task.TenantID,
		UserID:     &claim.UserID,
		Action:     model.ActionTaskCreated,
		EntityType: "task",
		EntityID:   task.ID.String(),
		IPAddress:  in.IPAddress,
	})
	return task, nil
}

// ListTasks returns the tasks of a project in the caller's tenant.
func (s *ProjectService) ListTasks(ctx context.Context, claim model.Claim, projectID uuid.UUID) ([]model.Task, error) {
	if err := Authorize(claim, OpListTasks, nil); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, storeError(err, errProjectNotFound, nil)
	}
	if err := Authorize(claim, OpListTasks, &project.TenantID); err != nil {
		return nil, s.denied(err, "list_tasks", projectID, claim)
	}
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return tasks, nil
}

// ListMyTasks returns the open tasks assigned to the caller, soonest due first.
func (s *ProjectService) ListMyTasks(ctx context.Context, claim model.Claim) ([]model.Task, error) {
	if err := Authorize(claim, OpListMyTasks, nil); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListOpenTasks(ctx, *claim.TenantID, claim.UserID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return tasks, nil
}

// GetTask returns one task of the caller's tenant.
func (s *ProjectService) GetTask(ctx context.Context, claim model.Claim, taskID uuid.UUID) (*model.Task, error) {
	if err := Authorize(claim, OpViewTask, nil); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeError(err, errTaskNotFound, nil)
	}
	if err := Authorize(claim, OpViewTask, &task.TenantID); err != nil {
		return nil, s.denied(err, "view_task", taskID, claim)
	}
	return task, nil
}

// UpdateTask edits, completes or reassigns a task. A new assignee must belong
// to the task's tenant.
func (s *ProjectService) UpdateTask(ctx context.Context, claim model.Claim, taskID uuid.UUID, in TaskUpdate) (*model.Task, error) {
	if err := Authorize(claim, OpUpdateTask, nil); err != nil {
		return nil, err
	}
	if in.empty() {
		return nil, apperror.Validation("empty_update", "nothing to update")
	}
	if in.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*in.Status))
		in.Status = &status
	}
	if in.Priority != nil {
		priority := strings.ToLower(strings.TrimSpace(*in.Priority))
		in.Priority = &priority
	}
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}

	var updated *model.Task
	err := s.store.Transaction(ctx, func(tx store.Querier) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if err := Authorize(claim, OpUpdateTask, &task.TenantID); err != nil {
			return err
		}
		if err := checkAssignee(ctx, tx, in.AssigneeID, task.TenantID); err != nil {
			return err
		}
		if in.Title != nil {
			task.Title = strings.TrimSpace(*in.Title)
		}
		if in.Description != nil {
			task.Description = *in.Description
		}
		if in.Status != nil {
			task.Status = model.TaskStatus(*in.Status)
		}
		if in.Priority != nil {
			task.Priority = model.TaskPriority(*in.Priority)
		}
		if in.AssigneeID != nil {
			task.AssigneeID = in.AssigneeID
		}
		if in.DueDate != nil {
			task.DueDate = in.DueDate
		}
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, storeError(s.denied(err, "update_task", taskID, claim), errTaskNotFound, nil)
	}

	s.audit.Record(model.AuditLog{
		TenantID:   &updated.TenantID,
		UserID:     &claim.UserID,
		Action:     model.ActionTaskUpdated,
		EntityType: "task",
		EntityID:   updated.ID.String(),
		IPAddress:  in.IPAddress,
	})
	return updated, nil
}

// DeleteTask removes a task of the caller's tenant.
func (s *ProjectService) DeleteTask(ctx context.Context, claim model.Claim, taskID uuid.UUID, ip string) error {
	if err := Authorize(claim, OpDeleteTask, nil); err != nil {
		return err
	}

	var tenantID uuid.UUID
	err := s.store.Transaction(ctx, func(tx store.Querier) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if err := Authorize(claim, OpDeleteTask, &task.TenantID); err != nil {
			return err
		}
		tenantID = task.TenantID
		return tx.DeleteTask(ctx, taskID)
	})
	if err != nil {
		return storeError(s.denied(err, "delete_task", taskID, claim), errTaskNotFound, nil)
	}

	s.audit.Record(model.AuditLog{
		TenantID:   &tenantID,
		UserID:     &claim.UserID,
		Action:     model.ActionTaskDeleted,
		EntityType: "task",
		EntityID:   taskID.String(),
		IPAddress:  ip,
	})
	return nil
}
