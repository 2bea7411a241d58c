// Package service implements tenant resolution, authentication, the
// authorization gate and quota enforcement on top of an injected store.
package service

import (
	"errors"
	"strings"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
	"github.com/suteetoe/tenantgate/pkg/config"
)

// PasswordHasher is the credential primitive. password.Hasher satisfies it.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) (bool, error)
}

// AuditRecorder accepts entries without blocking. audit.Recorder satisfies it.
type AuditRecorder interface {
	Record(entry model.AuditLog)
}

// Plans resolves a plan tag to its capacity caps.
type Plans struct {
	Limits  map[string]config.PlanLimits
	Default string
}

// Lookup returns the caps for plan.
func (p Plans) Lookup(plan string) (config.PlanLimits, bool) {
	limits, ok := p.Limits[strings.ToLower(plan)]
	return limits, ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func accountUnavailable() *apperror.Error {
	return apperror.Unauthenticated("account_unavailable", "account no longer available")
}

// storeError maps store sentinels onto the error taxonomy. notFound and
// conflict replace the corresponding sentinel; anything else is Internal.
func storeError(err error, notFound, conflict *apperror.Error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, store.ErrDuplicate) && conflict != nil:
		return conflict
	}
	var quotaErr *QuotaError
	if errors.As(err, &quotaErr) {
		return quotaErr
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.Internal(err)
}
