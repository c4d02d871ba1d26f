package tenancy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idcore/internal/cache"
	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/events"
	"github.com/dropDatabas3/idcore/internal/store/memory"
)

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, e)
	r.mu.Unlock()
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.evs))
	for i, e := range r.evs {
		out[i] = e.Type
	}
	return out
}

func newService(t *testing.T) (*Service, *memory.Store, *recorder, string) {
	t.Helper()
	st := memory.New()
	rec := &recorder{}
	sys := uuid.NewString()
	return NewService(st, rec, sys), st, rec, sys
}

func TestResolveTenant_MostSpecificWins(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()

	t1, err := svc.Onboard(ctx, "one", "example.com")
	require.NoError(t, err)
	t2, err := svc.Onboard(ctx, "two", "sub.example.com")
	require.NoError(t, err)

	r := NewDomainResolver(st.Domains())

	got, ok := r.ResolveTenant(ctx, "u@example.com")
	require.True(t, ok)
	require.Equal(t, t1.ID, got)

	got, ok = r.ResolveTenant(ctx, "u@deep.other.example.com")
	require.True(t, ok)
	require.Equal(t, t1.ID, got)

	got, ok = r.ResolveTenant(ctx, "u@sub.example.com")
	require.True(t, ok)
	require.Equal(t, t2.ID, got)

	got, ok = r.ResolveTenant(ctx, "  U@X.Sub.Example.COM ")
	require.True(t, ok)
	require.Equal(t, t2.ID, got)
}

func TestResolveTenant_Negatives(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Onboard(ctx, "one", "example.com")
	require.NoError(t, err)

	r := NewDomainResolver(st.Domains())
	for _, email := range []string{
		"", "   ", "nodomain", "@example.com", "u@", "u@@example.com", "a@b@example.com",
		"u@example..com", "u@.example.com", "u@unregistered.org", "u@notexample.com",
	} {
		if _, ok := r.ResolveTenant(ctx, email); ok {
			t.Fatalf("ResolveTenant(%q) debería fallar", email)
		}
	}

	require.NoError(t, svc.SetDomainActive(ctx, "EXAMPLE.com", false))
	_, ok := r.ResolveTenant(ctx, "u@example.com")
	require.False(t, ok)
}

type tiedDomains struct{ repository.DomainRepository }

func (tiedDomains) FindActive(context.Context, []string) ([]repository.TenantDomain, error) {
	return []repository.TenantDomain{
		{TenantID: "a", Domain: "example.com", Active: true},
		{TenantID: "b", Domain: "example.com", Active: true},
	}, nil
}

type failingDomains struct{ repository.DomainRepository }

func (failingDomains) FindActive(context.Context, []string) ([]repository.TenantDomain, error) {
	return nil, errors.New("db down")
}

func TestResolveTenant_TieAndStoreErrorYieldNothing(t *testing.T) {
	ctx := context.Background()
	_, ok := NewDomainResolver(tiedDomains{}).ResolveTenant(ctx, "u@example.com")
	require.False(t, ok)

	_, ok = NewDomainResolver(failingDomains{}).ResolveTenant(ctx, "u@example.com")
	require.False(t, ok)
}

func TestResolveTenant_Cached(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()
	tn, err := svc.Onboard(ctx, "one", "example.com")
	require.NoError(t, err)

	c := cache.NewMemory("")
	r := NewDomainResolver(st.Domains(), WithCache(c, 0))

	got, ok := r.ResolveTenant(ctx, "u@example.com")
	require.True(t, ok)
	require.Equal(t, tn.ID, got)
	v, err := c.Get(ctx, cachePrefix+"example.com")
	require.NoError(t, err)
	require.Equal(t, tn.ID, v)

	_, ok = r.ResolveTenant(ctx, "u@nowhere.io")
	require.False(t, ok)
	v, err = c.Get(ctx, cachePrefix+"nowhere.io")
	require.NoError(t, err)
	require.Equal(t, negative, v)
}

func TestCandidates(t *testing.T) {
	require.Equal(t, []string{"a.b.c", "b.c", "c"}, Candidates("a.b.c"))
}

func TestOnboard_SeedsProtectedRolesAndEmits(t *testing.T) {
	svc, st, rec, _ := newService(t)
	ctx := context.Background()

	tn, err := svc.Onboard(ctx, "acme", "acme.com")
	require.NoError(t, err)
	require.True(t, tn.Active)

	roles, err := st.Roles().List(ctx, tn.ID)
	require.NoError(t, err)
	require.Len(t, roles, 3)
	for _, r := range roles {
		require.True(t, r.Protected)
		require.NotEqual(t, repository.RoleServiceAdministrator, r.Name)
	}
	require.Equal(t, []events.Type{events.TenantOnboarded}, rec.types())

	// idempotente
	require.NoError(t, svc.Activate(ctx, tn.ID))
	roles, err = st.Roles().List(ctx, tn.ID)
	require.NoError(t, err)
	require.Len(t, roles, 3)
}

func TestOnboard_AtomicOnDomainConflict(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Onboard(ctx, "one", "taken.com")
	require.NoError(t, err)

	_, err = svc.Onboard(ctx, "two", "free.com", "taken.com")
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = st.Tenants().GetByName(ctx, "two")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, ok := NewDomainResolver(st.Domains()).ResolveTenant(ctx, "u@free.com")
	require.False(t, ok)

	_, err = svc.Onboard(ctx, "three", "bad domain")
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestEnsureSystemTenant(t *testing.T) {
	svc, st, _, sys := newService(t)
	ctx := context.Background()

	tn, err := svc.EnsureSystemTenant(ctx, "system")
	require.NoError(t, err)
	require.Equal(t, sys, tn.ID)

	_, err = svc.EnsureSystemTenant(ctx, "system")
	require.NoError(t, err)

	roles, err := st.Roles().List(ctx, sys)
	require.NoError(t, err)
	require.Len(t, roles, 4)

	require.ErrorIs(t, svc.Offboard(ctx, sys), repository.ErrInvalidInput)
}

func TestProtectedRolesAreImmutable(t *testing.T) {
	svc, st, _, sys := newService(t)
	ctx := context.Background()
	_, err := svc.EnsureSystemTenant(ctx, "system")
	require.NoError(t, err)
	tn, err := svc.Onboard(ctx, "acme")
	require.NoError(t, err)

	for _, tenantID := range []string{sys, tn.ID} {
		roles, err := st.Roles().List(ctx, tenantID)
		require.NoError(t, err)
		custom, err := svc.CreateRole(ctx, tenantID, "Auditors")
		require.NoError(t, err)

		for _, r := range roles {
			require.ErrorIs(t, svc.DeleteRole(ctx, tenantID, r.ID), repository.ErrProtectedRole)
			require.ErrorIs(t, svc.RenameRole(ctx, tenantID, r.ID, "Something Else"), repository.ErrProtectedRole)
			// tampoco como destino de rename, ni con otra capitalización
			require.ErrorIs(t, svc.RenameRole(ctx, tenantID, custom.ID, "  "+r.NormalizedName), repository.ErrProtectedRole)
			_, err := svc.CreateRole(ctx, tenantID, r.Name)
			require.ErrorIs(t, err, repository.ErrProtectedRole)
		}

		require.NoError(t, svc.RenameRole(ctx, tenantID, custom.ID, "Auditors II"))
		require.NoError(t, svc.DeleteRole(ctx, tenantID, custom.ID))
	}
}

func TestRoles_TenantIsolationAndEvents(t *testing.T) {
	svc, st, rec, _ := newService(t)
	ctx := context.Background()
	t1, err := svc.Onboard(ctx, "one")
	require.NoError(t, err)
	t2, err := svc.Onboard(ctx, "two")
	require.NoError(t, err)

	r1, err := svc.CreateRole(ctx, t1.ID, "ops")
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, t2.ID, "ops")
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, t1.ID, "OPS")
	require.ErrorIs(t, err, repository.ErrConflict)

	p := &repository.Principal{TenantID: t2.ID, Username: "bob", Active: true}
	require.NoError(t, st.Principals().Create(ctx, p))

	// rol de T1, principal de T2
	require.ErrorIs(t, svc.AssignRole(ctx, t1.ID, r1.ID, p.ID), repository.ErrNotFound)
	// rol de T1 consultado desde T2
	require.ErrorIs(t, svc.DeleteRole(ctx, t2.ID, r1.ID), repository.ErrNotFound)

	p1 := &repository.Principal{TenantID: t1.ID, Username: "bob", Active: true}
	require.NoError(t, st.Principals().Create(ctx, p1))
	require.NoError(t, svc.AssignRole(ctx, t1.ID, r1.ID, p1.ID))
	names, err := st.Roles().RolesOf(ctx, t1.ID, p1.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"ops"}, names)
	require.NoError(t, svc.UnassignRole(ctx, t1.ID, r1.ID, p1.ID))

	require.Contains(t, rec.types(), events.RoleAssignmentsChanged)
}

func TestOffboard_CascadesAndEmits(t *testing.T) {
	svc, st, rec, _ := newService(t)
	ctx := context.Background()
	tn, err := svc.Onboard(ctx, "gone", "gone.com")
	require.NoError(t, err)
	require.NoError(t, st.Principals().Create(ctx, &repository.Principal{TenantID: tn.ID, Username: "x"}))
	_, err = svc.AddVanityURL(ctx, tn.ID, "login.gone.com")
	require.NoError(t, err)

	require.NoError(t, svc.Offboard(ctx, tn.ID))
	_, err = st.Principals().FindByLogin(ctx, tn.ID, "x")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, ok := svc.ResolveVanityURL(ctx, "login.gone.com")
	require.False(t, ok)
	_, ok = NewDomainResolver(st.Domains()).ResolveTenant(ctx, "u@gone.com")
	require.False(t, ok)
	require.Contains(t, rec.types(), events.TenantOffboarded)

	require.ErrorIs(t, svc.Offboard(ctx, tn.ID), repository.ErrNotFound)
}

func TestVanityURLAndSettings(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()
	tn, err := svc.Onboard(ctx, "acme")
	require.NoError(t, err)

	_, err = svc.AddVanityURL(ctx, tn.ID, "Login.Acme.com")
	require.NoError(t, err)
	_, err = svc.AddVanityURL(ctx, tn.ID, "login.acme.com")
	require.ErrorIs(t, err, repository.ErrConflict)

	got, ok := svc.ResolveVanityURL(ctx, "login.acme.com:8443")
	require.True(t, ok)
	require.Equal(t, tn.ID, got)

	require.NoError(t, svc.SetSetting(ctx, tn.ID, "PasswordPolicy.MinLength", "12"))
	v, ok, err := st.Settings().Get(ctx, tn.ID, "PasswordPolicy.MinLength")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "12", v)
	require.ErrorIs(t, svc.SetSetting(ctx, tn.ID, " ", "x"), repository.ErrInvalidInput)
}

func TestResolveLogin(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()
	tn, err := svc.Onboard(ctx, "globex", "globex.com")
	require.NoError(t, err)
	r := NewDomainResolver(st.Domains())
	const def = "default-tenant"

	u, tid := r.ResolveLogin(ctx, "john@"+tn.ID, def)
	require.Equal(t, "john", u)
	require.Equal(t, tn.ID, tid)

	u, tid = r.ResolveLogin(ctx, " john@mail.globex.com ", def)
	require.Equal(t, "john@mail.globex.com", u)
	require.Equal(t, tn.ID, tid)

	u, tid = r.ResolveLogin(ctx, "john@unknown.org", def)
	require.Equal(t, "john@unknown.org", u)
	require.Equal(t, def, tid)

	u, tid = r.ResolveLogin(ctx, "john", def)
	require.Equal(t, "john", u)
	require.Equal(t, def, tid)

	var nilResolver *DomainResolver
	u, tid = nilResolver.ResolveLogin(ctx, "john@globex.com", def)
	require.Equal(t, "john@globex.com", u)
	require.Equal(t, def, tid)
}
