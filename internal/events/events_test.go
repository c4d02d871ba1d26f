package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/store/memory"
)

func TestRedisPublisher_PublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "test:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(rdb, "test:events")
	e := New(UserCreated, "t1", "p1", map[string]any{"username": "john"})
	p.Publish(ctx, e)

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, UserCreated, got.Type)
		require.Equal(t, "t1", got.TenantID)
		require.Equal(t, e.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no llegó el evento")
	}
}

func TestRedisPublisher_FailureIsSwallowed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	// no debe paniquear ni bloquear
	NewRedisPublisher(rdb, "").Publish(context.Background(), New(TenantOnboarded, "t1", "", nil))
}

func TestMulti_LogAndAudit(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	st := memory.New()

	m := Multi{NewLogPublisher(zap.New(core)), NewAuditPublisher(st.Audit()), nil, Nop{}}
	m.Publish(context.Background(), New(RoleAssignmentsChanged, "t1", "p1", map[string]any{"role": "ops"}))

	require.Equal(t, 1, logs.FilterMessage("domain event").Len())

	entries, err := st.Audit().List(context.Background(), repository.AuditQuery{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(RoleAssignmentsChanged), entries[0].Action)
	require.Equal(t, "p1", entries[0].PrincipalID)
}
