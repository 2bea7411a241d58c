package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
	"github.com/suteetoe/tenantgate/internal/validate"
	"github.com/suteetoe/tenantgate/prometheus"
)

// MemberInput describes a new team member. Role defaults to user.
type MemberInput struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,maxbytes=72"`
	FullName  string `json:"full_name" validate:"required,notblank,max=255"`
	Role      string `json:"role" validate:"omitempty,oneofci=tenant_admin user"`
	IPAddress string `json:"-"`
}

// TeamService manages the user roster of a tenant.
type TeamService struct {
	store  store.Store
	quota  *QuotaEnforcer
	hasher PasswordHasher
	audit  AuditRecorder
	log    *zap.Logger
}

func NewTeamService(st store.Store, quota *QuotaEnforcer, hasher PasswordHasher, recorder AuditRecorder, log *zap.Logger) *TeamService {
	return &TeamService{store: st, quota: quota, hasher: hasher, audit: recorder, log: log.Named("team")}
}

// AddMember creates a user in the caller's tenant under the users quota.
func (s *TeamService) AddMember(ctx context.Context, claim model.Claim, in MemberInput) (*model.User, error) {
	if err := Authorize(claim, OpInviteMember, nil); err != nil {
		return nil, err
	}

	email := normalizeEmail(in.Email)
	in.Email = email
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}
	role := model.RoleUser
	if in.Role != "" {
		role = model.Role(in.Role)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	tenantID := *claim.TenantID
	user := &model.User{
		TenantID:     &tenantID,
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         role,
		Active:       true,
	}
	err = s.quota.Reserve(ctx, tenantID, ResourceUsers, func(tx store.Querier) error {
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		return nil, storeError(err,
			apperror.NotFound("tenant_not_found", "tenant not found"),
			apperror.Conflict("email_taken", "email already exists in this workspace").WithDetail("email", email))
	}

	prometheus.RecordTenantOperation("add_member")
	s.audit.Record(model.AuditLog{
		TenantID:   &tenantID,
		UserID:     &claim.UserID,
		Action:     model.ActionUserCreated,
		EntityType: "user",
		EntityID:   user.ID.String(),
		IPAddress:  in.IPAddress,
	})
	s.log.Info("Team member added",
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("role", role.String()))
	return user, nil
}

// ListMembers returns the users of the caller's tenant.
func (s *TeamService) ListMembers(ctx context.Context, claim model.Claim) ([]model.User, error) {
	if err := Authorize(claim, OpListMembers, nil); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx, claim.TenantID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return users, nil
}
