package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/suteetoe/tenantgate/internal/audit"
	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/internal/store"
	"github.com/suteetoe/tenantgate/internal/store/memory"
	"github.com/suteetoe/tenantgate/pkg/config"
	"github.com/suteetoe/tenantgate/pkg/jwtutil"
	"github.com/suteetoe/tenantgate/pkg/password"
)

const testPassword = "correct-horse-battery"

// countingHasher records how many comparisons were attempted.
type countingHasher struct {
	password.Hasher
	verifies atomic.Int64
}

func (h *countingHasher) Verify(plaintext, hash string) (bool, error) {
	h.verifies.Add(1)
	return h.Hasher.Verify(plaintext, hash)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (r *recordingAudit) Record(entry model.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	store    *memory.Store
	hasher   *countingHasher
	tokens   *jwtutil.JWTUtil
	audit    *recordingAudit
	auth     *AuthService
	quota    *QuotaEnforcer
	team     *TeamService
	projects *ProjectService
	tenants  *TenantService
}

func testPlans() Plans {
	return Plans{
		Default: "free",
		Limits: map[string]config.PlanLimits{
			"free":       {MaxUsers: 3, MaxProjects: 2},
			"pro":        {MaxUsers: 10, MaxProjects: 20},
			"enterprise": {MaxUsers: 100, MaxProjects: 500},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zap.NewNop()
	st := memory.New()
	hasher := &countingHasher{Hasher: password.NewHasher(bcrypt.MinCost)}
	tokens, err := jwtutil.NewJWTUtil(jwtutil.JWTConfig{SigningKey: "test-key", Issuer: "tenantgate-test"})
	require.NoError(t, err)
	rec := &recordingAudit{}
	plans := testPlans()
	quota := NewQuotaEnforcer(st, log)

	return &harness{
		store:    st,
		hasher:   hasher,
		tokens:   tokens,
		audit:    rec,
		auth:     NewAuthService(st, hasher, tokens, rec, plans, log),
		quota:    quota,
		team:     NewTeamService(st, quota, hasher, rec, log),
		projects: NewProjectService(st, quota, rec, log),
		tenants:  NewTenantService(st, quota, plans, rec, log),
	}
}

// register creates a tenant and returns its admin claim.
func (h *harness) register(t *testing.T, slug string) (*RegisterResult, model.Claim) {
	t.Helper()
	res, err := h.auth.Register(context.Background(), RegisterInput{
		TenantName:    slug + " Inc",
		Slug:          slug,
		AdminEmail:    "admin@" + slug + ".io",
		AdminPassword: testPassword,
		AdminFullName: "Admin " + slug,
	})
	require.NoError(t, err)
	return res, model.Claim{UserID: res.User.ID, Role: res.User.Role, TenantID: res.User.TenantID}
}

func (h *harness) superAdmin(t *testing.T) (*model.User, model.Claim) {
	t.Helper()
	user, created, err := h.auth.EnsureSuperAdmin(context.Background(), "root@platform.io", testPassword, "Root")
	require.NoError(t, err)
	require.True(t, created)
	return user, model.Claim{UserID: user.ID, Role: model.RoleSuperAdmin}
}

func (h *harness) addMember(t *testing.T, admin model.Claim, email string, role model.Role) (*model.User, model.Claim) {
	t.Helper()
	user, err := h.team.AddMember(context.Background(), admin, MemberInput{
		Email: email, Password: testPassword, FullName: "Member", Role: role.String(),
	})
	require.NoError(t, err)
	return user, model.Claim{UserID: user.ID, Role: user.Role, TenantID: user.TenantID}
}

func (h *harness) setStatus(t *testing.T, root model.Claim, res *RegisterResult, status model.TenantStatus) {
	t.Helper()
	s := string(status)
	_, err := h.tenants.UpdateTenant(context.Background(), root, res.Tenant.ID, TenantUpdate{Status: &s})
	require.NoError(t, err)
}

// startTogether runs fn n times concurrently, releasing all goroutines at once.
func startTogether(n int, fn func(i int)) {
	var ready, done sync.WaitGroup
	start := make(chan struct{})
	ready.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			ready.Done()
			<-start
			fn(i)
		}(i)
	}
	ready.Wait()
	close(start)
	done.Wait()
}

func newAuditedAuth(t *testing.T, st *memory.Store) (*AuthService, *audit.Recorder) {
	t.Helper()
	tokens, err := jwtutil.NewJWTUtil(jwtutil.JWTConfig{SigningKey: "test-key"})
	require.NoError(t, err)
	rec := audit.NewRecorder(st, zap.NewNop(), time.Second)
	return NewAuthService(st, password.NewHasher(bcrypt.MinCost), tokens, rec, testPlans(), zap.NewNop()), rec
}

// txTrackingStore reports whether a transaction is open and counts project
// reads and task inserts issued outside one.
// A non-nil taskInsertErr fails task inserts made inside a transaction.
type txTrackingStore struct {
	*memory.Store
	inTx          atomic.Bool
	standalone    atomic.Int64
	taskInsertErr error
}

func (s *txTrackingStore) Transaction(ctx context.Context, fn func(tx store.Querier) error) error {
	return s.Store.Transaction(ctx, func(tx store.Querier) error {
		s.inTx.Store(true)
		defer s.inTx.Store(false)
		if s.taskInsertErr != nil {
			tx = failingTaskInsert{Querier: tx, err: s.taskInsertErr}
		}
		return fn(tx)
	})
}

type failingTaskInsert struct {
	store.Querier
	err error
}

func (q failingTaskInsert) CreateTask(context.Context, *model.Task) error {
	return q.err
}

func (s *txTrackingStore) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	s.standalone.Add(1)
	return s.Store.GetProject(ctx, id)
}

func (s *txTrackingStore) CreateTask(ctx context.Context, task *model.Task) error {
	s.standalone.Add(1)
	return s.Store.CreateTask(ctx, task)
}

// txAwareHasher flags any hash or compare made while a transaction is open.
type txAwareHasher struct {
	PasswordHasher
	st          *txTrackingStore
	inTx        atomic.Bool
	afterVerify func()
}

func (h *txAwareHasher) Hash(plaintext string) (string, error) {
	if h.st.inTx.Load() {
		h.inTx.Store(true)
	}
	return h.PasswordHasher.Hash(plaintext)
}

func (h *txAwareHasher) Verify(plaintext, hash string) (bool, error) {
	if h.st.inTx.Load() {
		h.inTx.Store(true)
	}
	ok, err := h.PasswordHasher.Verify(plaintext, hash)
	if h.afterVerify != nil {
		h.afterVerify()
	}
	return ok, err
}

type trackedServices struct {
	store    *txTrackingStore
	hasher   *txAwareHasher
	auth     *AuthService
	projects *ProjectService
}

func newTracked(t *testing.T) *trackedServices {
	t.Helper()
	log := zap.NewNop()
	st := &txTrackingStore{Store: memory.New()}
	hasher := &txAwareHasher{PasswordHasher: password.NewHasher(bcrypt.MinCost), st: st}
	tokens, err := jwtutil.NewJWTUtil(jwtutil.JWTConfig{SigningKey: "test-key"})
	require.NoError(t, err)
	rec := &recordingAudit{}
	return &trackedServices{
		store:    st,
		hasher:   hasher,
		auth:     NewAuthService(st, hasher, tokens, rec, testPlans(), log),
		projects: NewProjectService(st, NewQuotaEnforcer(st, log), rec, log),
	}
}
