package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantStatusTrial     TenantStatus = "trial"
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant is an isolated organization sharing the deployment.
// Tenants are never hard-deleted.
type Tenant struct {
	ID          uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string       `json:"name" gorm:"type:varchar(100);not null"`
	Slug        string       `json:"slug" gorm:"type:varchar(63);uniqueIndex;not null"`
	Status      TenantStatus `json:"status" gorm:"type:varchar(20);not null;default:'trial'"`
	Plan        string       `json:"plan" gorm:"type:varchar(30);not null;default:'free'"`
	MaxUsers    int          `json:"max_users" gorm:"not null"`
	MaxProjects int          `json:"max_projects" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TenantCounts is the current number of users and projects of a tenant.
type TenantCounts struct {
	Users    int64
	Projects int64
}

// BeforeCreate assigns an ID when the caller did not.
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
