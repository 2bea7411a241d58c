package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store/memory"
)

func TestLoginWithWorkspace(t *testing.T) {
	h := newHarness(t)
	res, _ := h.register(t, "acme")

	out, err := h.auth.Login(context.Background(), LoginInput{
		Email: "ADMIN@acme.io", Password: testPassword, Workspace: "acme", IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, out.User.ID)
	assert.Equal(t, res.Tenant.ID, out.Tenant.ID)

	claims, err := h.tokens.ValidateToken(out.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.Equal(t, model.RoleTenantAdmin, claims.Role)
	require.NotNil(t, claims.TenantID)
	assert.Equal(t, res.Tenant.ID, *claims.TenantID)

	assert.Contains(t, h.audit.actions(), model.ActionUserLogin)
}

func TestLoginSameEmailDifferentTenants(t *testing.T) {
	h := newHarness(t)
	_, acme := h.register(t, "acme")
	_, globex := h.register(t, "globex")
	a, _ := h.addMember(t, acme, "shared@mail.io", model.RoleUser)
	b, _ := h.addMember(t, globex, "shared@mail.io", model.RoleUser)

	out, err := h.auth.Login(context.Background(), LoginInput{Email: "shared@mail.io", Password: testPassword, Workspace: "globex"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, out.User.ID)
	assert.NotEqual(t, a.ID, out.User.ID)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	h := newHarness(t)
	h.register(t, "acme")
	ctx := context.Background()

	_, unknownEmail := h.auth.Login(ctx, LoginInput{Email: "ghost@acme.io", Password: testPassword, Workspace: "acme"})
	_, wrongPassword := h.auth.Login(ctx, LoginInput{Email: "admin@acme.io", Password: "not-the-password", Workspace: "acme"})

	for _, err := range []error{unknownEmail, wrongPassword} {
		require.Error(t, err)
		appErr := apperror.From(err)
		assert.Equal(t, apperror.KindUnauthenticated, appErr.Kind)
		assert.Equal(t, "invalid credentials", appErr.Message)
	}
	assert.Equal(t, apperror.From(unknownEmail).Code, apperror.From(wrongPassword).Code)
}

func TestLoginUnknownWorkspace(t *testing.T) {
	h := newHarness(t)
	_, err := h.auth.Login(context.Background(), LoginInput{Email: "a@b.io", Password: testPassword, Workspace: "nowhere"})
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
	assert.Zero(t, h.hasher.verifies.Load())
}

func TestLoginSuspendedTenantRejectedBeforePasswordCheck(t *testing.T) {
	h := newHarness(t)
	res, _ := h.register(t, "acme")
	_, root := h.superAdmin(t)
	h.setStatus(t, root, res, model.TenantStatusSuspended)

	for _, pw := range []string{testPassword, "wrong-password"} {
		_, err := h.auth.Login(context.Background(), LoginInput{Email: "admin@acme.io", Password: pw, Workspace: "acme"})
		require.Error(t, err)
		assert.True(t, apperror.Is(err, apperror.KindForbidden))
		assert.Equal(t, "workspace_suspended", apperror.From(err).Code)
	}
	assert.Zero(t, h.hasher.verifies.Load())
}

func TestLoginWithoutWorkspaceOnlyForSuperAdmin(t *testing.T) {
	h := newHarness(t)
	h.register(t, "acme")
	root, _ := h.superAdmin(t)
	ctx := context.Background()

	// a tenant user with the correct password must still supply a workspace
	_, err := h.auth.Login(ctx, LoginInput{Email: "admin@acme.io", Password: testPassword})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))

	out, err := h.auth.Login(ctx, LoginInput{Email: "root@platform.io", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, root.ID, out.User.ID)
	assert.Nil(t, out.Tenant)

	claims, err := h.tokens.ValidateToken(out.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleSuperAdmin, claims.Role)
	assert.Nil(t, claims.TenantID)
}

func TestSuperAdminCannotLoginThroughWorkspace(t *testing.T) {
	h := newHarness(t)
	h.register(t, "acme")
	h.superAdmin(t)

	_, err := h.auth.Login(context.Background(), LoginInput{Email: "root@platform.io", Password: testPassword, Workspace: "acme"})
	assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))
}

func TestLoginInactiveUserRejected(t *testing.T) {
	h := newHarness(t)
	_, admin := h.register(t, "acme")
	member, _ := h.addMember(t, admin, "bob@acme.io", model.RoleUser)

	member.Active = false
	require.NoError(t, h.store.UpdateUser(context.Background(), member))

	_, err := h.auth.Login(context.Background(), LoginInput{Email: "bob@acme.io", Password: testPassword, Workspace: "acme"})
	assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))
}

func TestLoginValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.auth.Login(context.Background(), LoginInput{Email: "", Password: "x"})
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestLoginSucceedsWhenAuditSinkFails(t *testing.T) {
	st := memory.New()
	auth, rec := newAuditedAuth(t, st)
	ctx := context.Background()

	_, err := auth.Register(ctx, RegisterInput{
		TenantName: "Acme", Slug: "acme", AdminEmail: "admin@acme.io",
		AdminPassword: testPassword, AdminFullName: "Admin",
	})
	require.NoError(t, err)

	st.FailAuditWrites(errors.New("audit table locked"))
	out, err := auth.Login(ctx, LoginInput{Email: "admin@acme.io", Password: testPassword, Workspace: "acme"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Token)

	require.NoError(t, rec.Close(ctx))
	for _, entry := range st.AuditLogs() {
		assert.NotEqual(t, model.ActionUserLogin, entry.Action)
	}
}

func TestRegisterCreatesTrialTenantWithAdmin(t *testing.T) {
	h := newHarness(t)
	res, _ := h.register(t, "acme")

	assert.Equal(t, model.TenantStatusTrial, res.Tenant.Status)
	assert.Equal(t, "free", res.Tenant.Plan)
	assert.Equal(t, 3, res.Tenant.MaxUsers)
	assert.Equal(t, 2, res.Tenant.MaxProjects)
	assert.Equal(t, model.RoleTenantAdmin, res.User.Role)
	assert.Equal(t, res.Tenant.ID, *res.User.TenantID)
	assert.NotEqual(t, testPassword, res.User.PasswordHash)
	assert.Contains(t, h.audit.actions(), model.ActionTenantRegistered)
}

func TestRegisterDuplicateSlugConflicts(t *testing.T) {
	h := newHarness(t)
	first, _ := h.register(t, "acme")
	ctx := context.Background()

	_, err := h.auth.Register(ctx, RegisterInput{
		TenantName: "Acme Two", Slug: "ACME", AdminEmail: "other@acme.io",
		AdminPassword: testPassword, AdminFullName: "Other",
	})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	// the first tenant and its admin are untouched
	tenant, err := h.store.GetTenantBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, first.Tenant.ID, tenant.ID)
	assert.Equal(t, "acme Inc", tenant.Name)
	users, err := h.store.ListUsers(ctx, &tenant.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, first.User.ID, users[0].ID)

	_, err = h.auth.Login(ctx, LoginInput{Email: "admin@acme.io", Password: testPassword, Workspace: "acme"})
	assert.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	valid := RegisterInput{TenantName: "Acme", Slug: "acme", AdminEmail: "a@acme.io", AdminPassword: testPassword, AdminFullName: "A"}

	cases := map[string]func(in *RegisterInput){
		"short slug":       func(in *RegisterInput) { in.Slug = "ab" },
		"slug with space":  func(in *RegisterInput) { in.Slug = "ac me" },
		"leading hyphen":   func(in *RegisterInput) { in.Slug = "-acme" },
		"bad email":        func(in *RegisterInput) { in.AdminEmail = "not-an-email" },
		"short password":   func(in *RegisterInput) { in.AdminPassword = "short" },
		"missing name":     func(in *RegisterInput) { in.TenantName = " " },
		"missing fullname": func(in *RegisterInput) { in.AdminFullName = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := h.auth.Register(context.Background(), in)
			assert.True(t, apperror.Is(err, apperror.KindValidation), "got %v", err)
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	h := newHarness(t)
	res, _ := h.register(t, "acme")

	out, err := h.auth.Login(context.Background(), LoginInput{Email: "admin@acme.io", Password: testPassword, Workspace: "acme"})
	require.NoError(t, err)

	claims, err := h.tokens.ValidateToken(out.Token)
	require.NoError(t, err)
	claim := claims.Claim()
	assert.Equal(t, model.Claim{
		UserID:    res.User.ID,
		Role:      model.RoleTenantAdmin,
		TenantID:  res.User.TenantID,
		ExpiresAt: out.ExpiresAt.Truncate(time.Second),
	}, model.Claim{
		UserID:    claim.UserID,
		Role:      claim.Role,
		TenantID:  claim.TenantID,
		ExpiresAt: claim.ExpiresAt.Truncate(time.Second),
	})
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	res, admin := h.register(t, "acme")

	user, tenant, err := h.auth.Me(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, user.ID)
	assert.Equal(t, res.Tenant.ID, tenant.ID)

	_, root := h.superAdmin(t)
	user, tenant, err = h.auth.Me(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, model.RoleSuperAdmin, user.Role)
	assert.Nil(t, tenant)
}

func TestUpdateProfileNameOnlyNeverChecksPassword(t *testing.T) {
	h := newHarness(t)
	_, admin := h.register(t, "acme")

	name := "Renamed Admin"
	user, err := h.auth.UpdateProfile(context.Background(), admin, ProfileInput{FullName: &name, CurrentPassword: "garbage"})
	require.NoError(t, err)
	assert.Equal(t, name, user.FullName)
	assert.Zero(t, h.hasher.verifies.Load())
	assert.Contains(t, h.audit.actions(), model.ActionUserUpdated)
}

func TestUpdateProfilePasswordRequiresCurrent(t *testing.T) {
	h := newHarness(t)
	res, admin := h.register(t, "acme")
	ctx := context.Background()
	newPassword := "a-brand-new-secret"

	for name, current := range map[string]string{"missing": "", "wrong": "not-my-password"} {
		t.Run(name, func(t *testing.T) {
			_, err := h.auth.UpdateProfile(ctx, admin, ProfileInput{NewPassword: &newPassword, CurrentPassword: current})
			require.Error(t, err)
			assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))

			stored, err := h.store.GetUser(ctx, res.User.ID)
			require.NoError(t, err)
			assert.Equal(t, res.User.PasswordHash, stored.PasswordHash)
		})
	}

	_, err := h.auth.UpdateProfile(ctx, admin, ProfileInput{NewPassword: &newPassword, CurrentPassword: testPassword})
	require.NoError(t, err)
	assert.Contains(t, h.audit.actions(), model.ActionPasswordChanged)

	_, err = h.auth.Login(ctx, LoginInput{Email: "admin@acme.io", Password: newPassword, Workspace: "acme"})
	assert.NoError(t, err)
	_, err = h.auth.Login(ctx, LoginInput{Email: "admin@acme.io", Password: testPassword, Workspace: "acme"})
	assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))
}

func TestUpdateProfileEmpty(t *testing.T) {
	h := newHarness(t)
	_, admin := h.register(t, "acme")
	_, err := h.auth.UpdateProfile(context.Background(), admin, ProfileInput{})
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestEnsureSuperAdminIsIdempotent(t *testing.T) {
	h := newHarness(t)
	first, _ := h.superAdmin(t)

	again, created, err := h.auth.EnsureSuperAdmin(context.Background(), "ROOT@platform.io", testPassword, "Root")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestRegisterValidationNamesField(t *testing.T) {
	h := newHarness(t)
	_, err := h.auth.Register(context.Background(), RegisterInput{
		TenantName: "Acme", Slug: "acme", AdminEmail: "not-an-email",
		AdminPassword: testPassword, AdminFullName: "A",
	})
	appErr := apperror.From(err)
	assert.Equal(t, "invalid_admin_email", appErr.Code)
	assert.Equal(t, map[string]string{"admin_email": "email"}, appErr.Details["fields"])
}

func TestUpdateProfileValidation(t *testing.T) {
	h := newHarness(t)
	_, admin := h.register(t, "acme")
	empty, short := "", "short"

	_, err := h.auth.UpdateProfile(context.Background(), admin, ProfileInput{FullName: &empty})
	assert.Equal(t, "invalid_full_name", apperror.From(err).Code)

	_, err = h.auth.UpdateProfile(context.Background(), admin, ProfileInput{NewPassword: &short, CurrentPassword: testPassword})
	assert.Equal(t, "invalid_new_password", apperror.From(err).Code)
	assert.Zero(t, h.hasher.verifies.Load())
}

func registerTracked(t *testing.T, ts *trackedServices) (*RegisterResult, model.Claim) {
	t.Helper()
	res, err := ts.auth.Register(context.Background(), RegisterInput{
		TenantName: "Acme", Slug: "acme", AdminEmail: "admin@acme.io",
		AdminPassword: testPassword, AdminFullName: "Admin",
	})
	require.NoError(t, err)
	return res, model.Claim{UserID: res.User.ID, Role: res.User.Role, TenantID: res.User.TenantID}
}

func TestUpdateProfileHashesOutsideTransaction(t *testing.T) {
	ts := newTracked(t)
	_, admin := registerTracked(t, ts)
	ctx := context.Background()
	newPassword := "a-brand-new-secret"

	_, err := ts.auth.UpdateProfile(ctx, admin, ProfileInput{NewPassword: &newPassword, CurrentPassword: testPassword})
	require.NoError(t, err)
	assert.False(t, ts.hasher.inTx.Load(), "password hashed while a transaction was open")

	_, err = ts.auth.Login(ctx, LoginInput{Email: "admin@acme.io", Password: newPassword, Workspace: "acme"})
	assert.NoError(t, err)
}

func TestUpdateProfileRejectsConcurrentPasswordChange(t *testing.T) {
	ts := newTracked(t)
	res, admin := registerTracked(t, ts)
	ctx := context.Background()

	// another request rotates the password between the check and the write
	ts.hasher.afterVerify = func() {
		user, err := ts.store.GetUser(ctx, res.User.ID)
		require.NoError(t, err)
		user.PasswordHash = "rotated-elsewhere"
		require.NoError(t, ts.store.UpdateUser(ctx, user))
	}

	newPassword := "a-brand-new-secret"
	_, err := ts.auth.UpdateProfile(ctx, admin, ProfileInput{NewPassword: &newPassword, CurrentPassword: testPassword})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindConflict))
	assert.Equal(t, "password_changed", apperror.From(err).Code)

	stored, err := ts.store.GetUser(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated-elsewhere", stored.PasswordHash)
}
