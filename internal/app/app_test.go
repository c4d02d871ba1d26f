package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idcore/internal/config"
	"github.com/dropDatabas3/idcore/internal/credential"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.App.Env = "test"
	cfg.Security.SecretboxKey = base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg.HTTP.Issuer = "https://id.acme.test"
	return cfg
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

func TestNew_MemoryStack(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.Enabled = true
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.Nil(t, a.Redis)
	require.NotNil(t, a.Limiter)

	h, err := a.Router(prometheus.NewRegistry())
	require.NoError(t, err)

	code, body := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	code, body = get(t, h, "/.well-known/openid-configuration")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "https://id.acme.test", body["issuer"])

	code, _ = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, code)
}

func TestNew_RedisStack(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Cache.Kind = "redis"
	cfg.Events.Sink = "redis"
	cfg.Redis.Addr = mr.Addr()
	cfg.Rate.Enabled = true

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Redis)

	h, err := a.Router(nil)
	require.NoError(t, err)
	code, body := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body["checks"], "redis")
}

func TestNew_SystemTenantAndMissingKey(t *testing.T) {
	cfg := testConfig()
	cfg.SystemTenant.ID = uuid.NewString()
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	tn, err := a.Store.Tenants().GetByID(context.Background(), cfg.SystemTenant.ID)
	require.NoError(t, err)
	require.Equal(t, "system", tn.Name)
	a.Close()

	cfg = testConfig()
	cfg.Security.SecretboxKey = ""
	_, err = New(context.Background(), cfg)
	require.Error(t, err)
}

func TestServers(t *testing.T) {
	cfg := testConfig()
	cfg.RADIUS.Secret = "s3cr3t"
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.RADIUSServer())
	srv, err := a.LDAPServer()
	require.NoError(t, err)
	require.Equal(t, cfg.LDAP.Addr, srv.Addr())
}

func TestNewValidator_FreshPerCallSharedState(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	defer a.Close()

	tn, err := a.Tenancy.Onboard(ctx, "acme", "acme.com")
	require.NoError(t, err)
	const pwd = "Correct#Horse9"
	_, viol, err := a.Credentials.Register(ctx, credential.RegisterRequest{
		TenantID: tn.ID, Email: "ana@acme.com", Username: "ana", Password: pwd, ConfirmPassword: pwd,
	})
	require.NoError(t, err)
	require.Empty(t, viol)

	v1, err := a.NewValidator(ctx)
	require.NoError(t, err)
	v2, err := a.NewValidator(ctx)
	require.NoError(t, err)
	require.NotSame(t, v1, v2)

	res, err := v2.Login(ctx, tn.ID, "ana", pwd)
	require.NoError(t, err)
	require.True(t, res.OK)

	// el lockout lo ve cualquier instancia
	for i := 0; i < a.Cfg.Security.MaxAttempts; i++ {
		_, err := v1.Login(ctx, tn.ID, "ana", "bad")
		require.NoError(t, err)
	}
	res, err = v2.Login(ctx, tn.ID, "ana", pwd)
	require.NoError(t, err)
	require.Equal(t, credential.ReasonLocked, res.Reason)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = a.NewValidator(cctx)
	require.ErrorIs(t, err, context.Canceled)
}
