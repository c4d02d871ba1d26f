package pg

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

// openTestStore necesita IDCORE_TEST_PG_DSN apuntando a una base descartable.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("IDCORE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("IDCORE_TEST_PG_DSN no seteada")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	_, err = s.Migrate(ctx)
	require.NoError(t, err)
	return s
}

func TestPG_ConsumeSingleWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tn := &repository.Tenant{Name: "pg-" + uuid.NewString(), Active: true}
	require.NoError(t, s.Tenants().Create(ctx, tn))
	t.Cleanup(func() { _ = s.Tenants().Delete(context.Background(), tn.ID) })

	p := &repository.Principal{TenantID: tn.ID, Username: "u", Active: true}
	require.NoError(t, s.Principals().Create(ctx, p))

	now := time.Now().UTC()
	hash := uuid.NewString()
	require.NoError(t, s.Tokens().Insert(ctx, &repository.SecurityToken{
		Kind: repository.TokenMFAChallenge, PrincipalID: p.ID, TenantID: tn.ID,
		Hash: hash, IssuedAt: now, ExpiresAt: now.Add(time.Minute),
	}))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Tokens().Consume(ctx, repository.TokenMFAChallenge, hash, time.Now().UTC()); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins)
}

func TestPG_DuplicateEmailMapsToConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tn := &repository.Tenant{Name: "pg-" + uuid.NewString(), Active: true}
	require.NoError(t, s.Tenants().Create(ctx, tn))
	t.Cleanup(func() { _ = s.Tenants().Delete(context.Background(), tn.ID) })

	require.NoError(t, s.Principals().Create(ctx, &repository.Principal{TenantID: tn.ID, Username: "a", Email: "a@x.com"}))
	err := s.Principals().Create(ctx, &repository.Principal{TenantID: tn.ID, Username: "b", Email: "A@X.COM"})
	require.ErrorIs(t, err, repository.ErrConflict)
}
