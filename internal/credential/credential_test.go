package credential

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/events"
	"github.com/dropDatabas3/idcore/internal/security/password"
	"github.com/dropDatabas3/idcore/internal/store/memory"
)

var fast = password.Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 32}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, e)
	r.mu.Unlock()
}

func (r *recorder) has(t events.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.evs {
		if e.Type == t {
			return true
		}
	}
	return false
}

type fixture struct {
	store    *memory.Store
	v        *Validator
	engine   *password.Engine
	rec      *recorder
	tenantID string
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), rec: &recorder{}, now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	tn := &repository.Tenant{Name: "acme", Active: true}
	require.NoError(t, f.store.Tenants().Create(context.Background(), tn))
	f.tenantID = tn.ID
	f.engine = password.NewEngine(f.store, password.NewHasher(fast), password.WithClock(clock))
	f.v = NewValidator(f.store, f.engine, Options{Publisher: f.rec, Now: clock})
	return f
}

func (f *fixture) register(t *testing.T, email, username, pwd string) *Identity {
	t.Helper()
	id, viol, err := f.v.Register(context.Background(), RegisterRequest{
		TenantID: f.tenantID, Email: email, Username: username, Password: pwd, ConfirmPassword: pwd,
	})
	require.NoError(t, err)
	require.Empty(t, viol)
	return id
}

const goodPwd = "Correct#Horse9"

func TestLogin_SuccessByUsernameOrEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "john@acme.com", "john", goodPwd)
	require.True(t, f.rec.has(events.UserCreated))

	for _, login := range []string{"john", "JOHN", "john@acme.com", " John@Acme.COM "} {
		res, err := f.v.Login(ctx, f.tenantID, login, goodPwd)
		require.NoError(t, err)
		require.True(t, res.OK, login)
		require.Equal(t, id.ID, res.Identity.ID)
		require.Equal(t, []string{}, res.Identity.Roles)
	}
}

func TestLogin_GenericFailureForUnknownAndWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "john@acme.com", "john", goodPwd)

	a, err := f.v.Login(ctx, f.tenantID, "nobody", goodPwd)
	require.NoError(t, err)
	b, err := f.v.Login(ctx, f.tenantID, "john", "Wrong#Horse9")
	require.NoError(t, err)
	require.False(t, a.OK)
	require.False(t, b.OK)
	require.Equal(t, ReasonInvalidCredentials, a.Reason)
	require.Equal(t, a.Reason, b.Reason)

	res, err := f.v.Login(ctx, f.tenantID, "", goodPwd)
	require.NoError(t, err)
	require.Equal(t, ReasonInvalidCredentials, res.Reason)
	res, err = f.v.Login(ctx, "no-such-tenant", "john", goodPwd)
	require.NoError(t, err)
	require.Equal(t, ReasonTenantUnavailable, res.Reason)
}

func TestLogin_LockoutAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "john@acme.com", "john", goodPwd)

	for i := 0; i < DefaultMaxAttempts; i++ {
		res, err := f.v.Login(ctx, f.tenantID, "john", "bad")
		require.NoError(t, err)
		require.Equal(t, ReasonInvalidCredentials, res.Reason)
	}
	res, err := f.v.Login(ctx, f.tenantID, "john", goodPwd)
	require.NoError(t, err)
	require.Equal(t, ReasonLocked, res.Reason)

	f.now = f.now.Add(DefaultLockoutDuration + time.Second)
	res, err = f.v.Login(ctx, f.tenantID, "john", goodPwd)
	require.NoError(t, err)
	require.True(t, res.OK)

	p, err := f.store.Principals().FindByLogin(ctx, f.tenantID, "john")
	require.NoError(t, err)
	require.Nil(t, p.LockedUntil)
	require.Zero(t, p.FailedAttempts)
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "john@acme.com", "john", goodPwd)
	for i := 0; i < DefaultMaxAttempts; i++ {
		_, err := f.v.Login(ctx, f.tenantID, "john", "bad")
		require.NoError(t, err)
	}
	require.NoError(t, f.v.Unlock(ctx, f.tenantID, id.ID))
	res, err := f.v.Login(ctx, f.tenantID, "john", goodPwd)
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestLogin_InactiveAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "john@acme.com", "john", goodPwd)

	f.now = f.now.Add(121 * 24 * time.Hour)
	res, err := f.v.Login(ctx, f.tenantID, "john", goodPwd)
	require.NoError(t, err)
	require.Equal(t, ReasonExpired, res.Reason)

	// un password incorrecto no revela la expiración
	res, err = f.v.Login(ctx, f.tenantID, "john", "Wrong#Horse9")
	require.NoError(t, err)
	require.Equal(t, ReasonInvalidCredentials, res.Reason)

	require.NoError(t, f.v.Disable(ctx, f.tenantID, id.ID))
	require.True(t, f.rec.has(events.UserDisabled))
	res, err = f.v.Login(ctx, f.tenantID, "john", goodPwd)
	require.NoError(t, err)
	require.Equal(t, ReasonInactive, res.Reason)
}

func TestLogin_RehashesLegacyParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := password.NewHasher(password.Params{Memory: 512, Time: 1, Parallelism: 1, KeyLen: 32})
	h, err := old.Hash(goodPwd)
	require.NoError(t, err)
	p := &repository.Principal{TenantID: f.tenantID, Username: "legacy", PasswordHash: h, Active: true}
	require.NoError(t, f.store.Principals().Create(ctx, p))

	res, err := f.v.Login(ctx, f.tenantID, "legacy", goodPwd)
	require.NoError(t, err)
	require.True(t, res.OK)

	got, err := f.store.Principals().GetByID(ctx, f.tenantID, p.ID)
	require.NoError(t, err)
	require.NotEqual(t, h, got.PasswordHash)
	require.False(t, f.engine.Hasher().NeedsRehash(got.PasswordHash))
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, viol, err := f.v.Register(ctx, RegisterRequest{
		TenantID: f.tenantID, Email: "nope", Password: "short", ConfirmPassword: "other",
	})
	require.NoError(t, err)
	require.True(t, viol.Has(CodeInvalidEmail))
	require.True(t, viol.Has(password.CodeMismatch))
	require.True(t, viol.Has(password.CodeTooShort))
	require.True(t, viol.Has(password.CodeMissingDigit))

	f.register(t, "john@acme.com", "", goodPwd)
	_, _, err = f.v.Register(ctx, RegisterRequest{
		TenantID: f.tenantID, Email: "JOHN@acme.com", Username: "other", Password: goodPwd, ConfirmPassword: goodPwd,
	})
	require.ErrorIs(t, err, ErrDuplicate)

	// mismo username, otro email: el unique del store lo reporta igual
	_, _, err = f.v.Register(ctx, RegisterRequest{
		TenantID: f.tenantID, Email: "x@acme.com", Username: "john@acme.com", Password: goodPwd, ConfirmPassword: goodPwd,
	})
	require.ErrorIs(t, err, ErrDuplicate)

	_, _, err = f.v.Register(ctx, RegisterRequest{
		TenantID: "missing", Email: "a@b.com", Password: goodPwd, ConfirmPassword: goodPwd,
	})
	require.ErrorIs(t, err, ErrTenantUnavailable)
}

func TestRegister_SameEmailOtherTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "john@acme.com", "john", goodPwd)

	t2 := &repository.Tenant{Name: "other", Active: true}
	require.NoError(t, f.store.Tenants().Create(ctx, t2))
	_, viol, err := f.v.Register(ctx, RegisterRequest{
		TenantID: t2.ID, Email: "john@acme.com", Username: "john", Password: goodPwd, ConfirmPassword: goodPwd,
	})
	require.NoError(t, err)
	require.Empty(t, viol)

	// el password de T2 no sirve en T1 y viceversa no cruza filas
	res, err := f.v.Login(ctx, t2.ID, "john", goodPwd)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, t2.ID, res.Identity.TenantID)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Settings().Set(ctx, f.tenantID, password.KeyHistoryEnabled, "true"))
	id := f.register(t, "john@acme.com", "john", goodPwd)

	require.NoError(t, f.store.Tokens().Insert(ctx, &repository.SecurityToken{
		Kind: repository.TokenRefresh, PrincipalID: id.ID, TenantID: f.tenantID,
		Hash: "rt", IssuedAt: f.now, ExpiresAt: f.now.Add(time.Hour),
	}))

	_, err := f.v.ChangePassword(ctx, f.tenantID, id.ID, "wrong", "New#Passw0rd!", "New#Passw0rd!")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	viol, err := f.v.ChangePassword(ctx, f.tenantID, id.ID, goodPwd, goodPwd, goodPwd)
	require.NoError(t, err)
	require.True(t, viol.Has(password.CodeReused))

	viol, err = f.v.ChangePassword(ctx, f.tenantID, id.ID, goodPwd, "weak", "weak2")
	require.NoError(t, err)
	require.True(t, viol.Has(password.CodeMismatch))
	require.True(t, viol.Has(password.CodeTooShort))

	f.now = f.now.Add(time.Hour)
	viol, err = f.v.ChangePassword(ctx, f.tenantID, id.ID, goodPwd, "New#Passw0rd!", "New#Passw0rd!")
	require.NoError(t, err)
	require.Empty(t, viol)
	require.True(t, f.rec.has(events.UserModified))

	res, err := f.v.Login(ctx, f.tenantID, "john", "New#Passw0rd!")
	require.NoError(t, err)
	require.True(t, res.OK)
	res, err = f.v.Login(ctx, f.tenantID, "john", goodPwd)
	require.NoError(t, err)
	require.False(t, res.OK)

	rows, err := f.store.History().List(ctx, f.tenantID, id.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Nil(t, rows[0].SupersededAt)
	require.NotNil(t, rows[1].SupersededAt)

	tok, err := f.store.Tokens().GetByHash(ctx, repository.TokenRefresh, "rt")
	require.NoError(t, err)
	require.True(t, tok.Revoked)
}

func TestLookupAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "john@acme.com", "john", goodPwd)

	got, err := f.v.Lookup(ctx, f.tenantID, id.ID)
	require.NoError(t, err)
	require.Equal(t, "john", got.Username)

	_, err = f.v.Lookup(ctx, "other", id.ID)
	require.ErrorIs(t, err, ErrTenantUnavailable)

	require.NoError(t, f.store.Tenants().SetActive(ctx, f.tenantID, false))
	_, err = f.v.Lookup(ctx, f.tenantID, id.ID)
	require.ErrorIs(t, err, ErrTenantUnavailable)
	require.NoError(t, f.store.Tenants().SetActive(ctx, f.tenantID, true))

	require.NoError(t, f.v.Delete(ctx, f.tenantID, id.ID))
	require.True(t, f.rec.has(events.UserDeleted))
	_, err = f.v.Lookup(ctx, f.tenantID, id.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}
