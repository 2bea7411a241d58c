package model

import (
	"time"

	"github.com/google/uuid"
)

// Claim is the identity reconstructed from a validated session token.
// It is never persisted.
type Claim struct {
	UserID    uuid.UUID
	Role      Role
	TenantID  *uuid.UUID
	ExpiresAt time.Time
}

// InTenant reports whether the claim is scoped to tenantID.
func (c Claim) InTenant(tenantID uuid.UUID) bool {
	return c.TenantID != nil && *c.TenantID == tenantID
}
