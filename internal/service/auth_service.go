package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
	"github.com/suteetoe/tenantgate/internal/validate"
	"github.com/suteetoe/tenantgate/pkg/jwtutil"
	"github.com/suteetoe/tenantgate/prometheus"
)

// LoginInput is a login attempt. An empty Workspace selects the platform admin path.
type LoginInput struct {
	Email     string `json:"email" validate:"required,max=255"`
	Password  string `json:"password" validate:"required"`
	Workspace string `json:"workspace" validate:"omitempty,max=63"`
	IPAddress string `json:"-"`
}

// LoginResult carries the issued session token and the identity it belongs to.
// Tenant is nil for platform super admins.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
	Tenant    *model.Tenant
}

// RegisterInput creates a tenant together with its first tenant admin.
type RegisterInput struct {
	TenantName    string `json:"tenant_name" validate:"required,notblank,max=100"`
	Slug          string `json:"slug" validate:"required,slug"`
	AdminEmail    string `json:"admin_email" validate:"required,email,max=255"`
	AdminPassword string `json:"admin_password" validate:"required,min=8,maxbytes=72"`
	AdminFullName string `json:"admin_full_name" validate:"required,notblank,max=255"`
	IPAddress     string `json:"-"`
}

// RegisterResult is the created tenant and admin.
type RegisterResult struct {
	Tenant *model.Tenant
	User   *model.User
}

// ProfileInput updates the caller's own identity. Nil fields are left unchanged.
type ProfileInput struct {
	FullName        *string `json:"full_name" validate:"omitnil,notblank,max=255"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     *string `json:"new_password" validate:"omitnil,min=8,maxbytes=72"`
	IPAddress       string  `json:"-"`
}

// AuthService is the session manager: it resolves the tenant, verifies
// credentials and issues tokens.
type AuthService struct {
	store    store.Store
	resolver *TenantResolver
	hasher   PasswordHasher
	tokens   *jwtutil.JWTUtil
	audit    AuditRecorder
	plans    Plans
	log      *zap.Logger
}

func NewAuthService(st store.Store, hasher PasswordHasher, tokens *jwtutil.JWTUtil, recorder AuditRecorder, plans Plans, log *zap.Logger) *AuthService {
	return &AuthService{
		store:    st,
		resolver: NewTenantResolver(st),
		hasher:   hasher,
		tokens:   tokens,
		audit:    recorder,
		plans:    plans,
		log:      log.Named("auth"),
	}
}

// Login walks Unauthenticated → TenantResolved → IdentityFound →
// CredentialVerified → TokenIssued. Workspace failures are specific; identity
// and credential failures are the uniform invalid credentials error.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := normalizeEmail(in.Email)
	in.Email = email
	if err := validate.Struct(&in); err != nil {
		prometheus.RecordAuthError("invalid_request")
		return nil, err
	}

	tenant, err := s.resolver.Resolve(ctx, in.Workspace)
	if err != nil {
		prometheus.RecordLogin(false)
		prometheus.RecordAuthError("workspace_" + apperror.KindOf(err).String())
		return nil, err
	}

	var tenantID *uuid.UUID
	if tenant != nil {
		tenantID = &tenant.ID
	}

	user, err := s.store.FindUserByEmail(ctx, email, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.rejectLogin("user_not_found", email)
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}

	if tenant == nil && (user.Role != model.RoleSuperAdmin || user.TenantID != nil) {
		return nil, s.rejectLogin("workspace_required", email)
	}
	if tenant != nil && user.Role.IsPlatform() {
		return nil, s.rejectLogin("role_scope_mismatch", email)
	}
	if !user.Active {
		return nil, s.rejectLogin("user_inactive", email)
	}

	ok, err := s.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		s.log.Error("Stored credential is corrupt", zap.String("user_id", user.ID.String()), zap.Error(err))
		return nil, apperror.Internal(err)
	}
	if !ok {
		return nil, s.rejectLogin("invalid_password", email)
	}

	token, expiresAt, err := s.tokens.GenerateToken(user.ID, user.Role, user.TenantID)
	if err != nil {
		prometheus.RecordAuthError("token_generation_failed")
		return nil, apperror.Internal(err)
	}

	s.audit.Record(model.AuditLog{
		TenantID:   user.TenantID,
		UserID:     &user.ID,
		Action:     model.ActionUserLogin,
		EntityType: "user",
		EntityID:   user.ID.String(),
		IPAddress:  in.IPAddress,
	})
	prometheus.RecordLogin(true)

	s.log.Info("User logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role.String()),
		zap.Stringp("workspace", slugOf(tenant)))

	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user, Tenant: tenant}, nil
}

func (s *AuthService) rejectLogin(reason, email string) error {
	s.log.Debug("Login rejected", zap.String("reason", reason), zap.String("email", email))
	prometheus.RecordLogin(false)
	prometheus.RecordAuthError(reason)
	return apperror.InvalidCredentials()
}

func slugOf(t *model.Tenant) *string {
	if t == nil {
		return nil
	}
	return &t.Slug
}

// Register creates a tenant on the default plan in trial status along with
// its tenant admin, in one transaction.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	email := normalizeEmail(in.AdminEmail)
	in.Slug, in.AdminEmail = slug, email
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}

	limits, ok := s.plans.Lookup(s.plans.Default)
	if !ok {
		return nil, apperror.Internal(errors.New("default plan is not configured"))
	}

	hash, err := s.hasher.Hash(in.AdminPassword)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	tenant := &model.Tenant{
		Name:        strings.TrimSpace(in.TenantName),
		Slug:        slug,
		Status:      model.TenantStatusTrial,
		Plan:        s.plans.Default,
		MaxUsers:    limits.MaxUsers,
		MaxProjects: limits.MaxProjects,
	}
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.AdminFullName),
		Role:         model.RoleTenantAdmin,
		Active:       true,
	}

	err = s.store.Transaction(ctx, func(tx store.Querier) error {
		if err := tx.CreateTenant(ctx, tenant); err != nil {
			return err
		}
		user.TenantID = &tenant.ID
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			prometheus.RecordAuthError("workspace_taken")
		}
		return nil, storeError(err, nil,
			apperror.Conflict("workspace_taken", "workspace is already taken").WithDetail("workspace", slug))
	}

	prometheus.RegisterCounter.Inc()
	s.audit.Record(model.AuditLog{
		TenantID:   &tenant.ID,
		UserID:     &user.ID,
		Action:     model.ActionTenantRegistered,
		EntityType: "tenant",
		EntityID:   tenant.ID.String(),
		IPAddress:  in.IPAddress,
	})
	s.log.Info("Tenant registered",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("workspace", tenant.Slug),
		zap.String("plan", tenant.Plan))

	return &RegisterResult{Tenant: tenant, User: user}, nil
}

// Me returns the caller's identity and tenant. A deactivated or deleted
// account is reported as unauthenticated.
func (s *AuthService) Me(ctx context.Context, claim model.Claim) (*model.User, *model.Tenant, error) {
	user, err := s.store.GetUser(ctx, claim.UserID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !user.Active) {
		return nil, nil, accountUnavailable()
	}
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	if user.TenantID == nil {
		return user, nil, nil
	}
	tenant, err := s.store.GetTenant(ctx, *user.TenantID)
	if err != nil {
		return nil, nil, storeError(err, apperror.NotFound("tenant_not_found", "tenant not found"), nil)
	}
	return user, tenant, nil
}

// UpdateProfile changes the caller's display name and/or password. A new
// password requires the correct current one; a name-only change never checks
// passwords. Hashing happens before the transaction, which only re-reads the
// row and writes it.
func (s *AuthService) UpdateProfile(ctx context.Context, claim model.Claim, in ProfileInput) (*model.User, error) {
	if in.FullName == nil && in.NewPassword == nil {
		return nil, apperror.Validation("empty_update", "nothing to update")
	}
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, claim.UserID)
	if err != nil {
		return nil, storeError(err, accountUnavailable(), nil)
	}
	if !user.Active {
		return nil, accountUnavailable()
	}

	var newHash string
	if in.NewPassword != nil {
		if in.CurrentPassword == "" {
			return nil, apperror.Unauthenticated("current_password_required", "current password is required to set a new password")
		}
		ok, err := s.hasher.Verify(in.CurrentPassword, user.PasswordHash)
		if err != nil {
			return nil, apperror.Internal(err)
		}
		if !ok {
			prometheus.RecordAuthError("incorrect_current_password")
			return nil, apperror.Unauthenticated("incorrect_password", "current password is incorrect")
		}
		if newHash, err = s.hasher.Hash(*in.NewPassword); err != nil {
			return nil, apperror.Internal(err)
		}
	}
	verifiedHash := user.PasswordHash

	var updated *model.User
	err = s.store.Transaction(ctx, func(tx store.Querier) error {
		current, err := tx.GetUser(ctx, claim.UserID)
		if err != nil {
			return err
		}
		if !current.Active {
			return accountUnavailable()
		}
		if newHash != "" {
			// the current password was checked against verifiedHash
			if current.PasswordHash != verifiedHash {
				return apperror.Conflict("password_changed", "password was changed by another request, retry with the current password")
			}
			current.PasswordHash = newHash
		}
		if in.FullName != nil {
			current.FullName = strings.TrimSpace(*in.FullName)
		}
		if err := tx.UpdateUser(ctx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, storeError(err, accountUnavailable(), nil)
	}

	action := model.ActionUserUpdated
	if newHash != "" {
		action = model.ActionPasswordChanged
	}
	s.audit.Record(model.AuditLog{
		TenantID:   updated.TenantID,
		UserID:     &updated.ID,
		Action:     action,
		EntityType: "user",
		EntityID:   updated.ID.String(),
		IPAddress:  in.IPAddress,
	})
	return updated, nil
}

// superAdminInput is the bootstrap account taken from configuration.
type superAdminInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
	FullName string `json:"full_name" validate:"max=255"`
}

// EnsureSuperAdmin creates a platform super admin with the given email unless
// one already exists. It is used to bootstrap a fresh deployment.
func (s *AuthService) EnsureSuperAdmin(ctx context.Context, email, plaintext, fullName string) (*model.User, bool, error) {
	email = normalizeEmail(email)
	if err := validate.Struct(&superAdminInput{Email: email, Password: plaintext, FullName: fullName}); err != nil {
		return nil, false, err
	}

	existing, err := s.store.FindUserByEmail(ctx, email, nil)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, apperror.Internal(err)
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, false, apperror.Internal(err)
	}
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     fullName,
		Role:         model.RoleSuperAdmin,
		Active:       true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// lost a race with another instance bootstrapping the same admin
			existing, findErr := s.store.FindUserByEmail(ctx, email, nil)
			if findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, apperror.Internal(err)
	}
	s.log.Info("Bootstrapped platform admin", zap.String("user_id", user.ID.String()))
	return user, true, nil
}
