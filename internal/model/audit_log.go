package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	ActionUserLogin        = "USER_LOGIN"
	ActionTenantRegistered = "TENANT_REGISTERED"
	ActionTenantUpdated    = "TENANT_UPDATED"
	ActionUserCreated      = "USER_CREATED"
	ActionUserUpdated      = "USER_UPDATED"
	ActionPasswordChanged  = "PASSWORD_CHANGED"
	ActionProjectCreated   = "PROJECT_CREATED"
	ActionProjectUpdated   = "PROJECT_UPDATED"
	ActionProjectDeleted   = "PROJECT_DELETED"
	ActionTaskCreated      = "TASK_CREATED"
	ActionTaskUpdated      = "TASK_UPDATED"
	ActionTaskDeleted      = "TASK_DELETED"
)

// AuditLog is an append-only record of a security-relevant mutation.
type AuditLog struct {
	ID         uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID   *uuid.UUID `json:"tenant_id,omitempty" gorm:"type:uuid;index"`
	UserID     *uuid.UUID `json:"user_id,omitempty" gorm:"type:uuid"`
	Action     string     `json:"action" gorm:"type:varchar(50);not null;index"`
	EntityType string     `json:"entity_type" gorm:"type:varchar(50)"`
	EntityID   string     `json:"entity_id" gorm:"type:varchar(64)"`
	IPAddress  string     `json:"ip_address" gorm:"type:varchar(64)"`
	CreatedAt  time.Time  `json:"created_at" gorm:"not null"`
}
